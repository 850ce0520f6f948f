package export

import (
	"fmt"
	"strings"

	"github.com/wiretap-dev/wiretap/report"
	"github.com/wiretap-dev/wiretap/store"
)

// SessionMarkdown renders a session's metadata and report as a Markdown
// document: a short header followed by one table row per endpoint.
func SessionMarkdown(meta store.SessionMeta, rep report.RouteReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session: %s\n\n", meta.Name)
	fmt.Fprintf(&b, "- ID: `%s`\n", meta.ID)
	fmt.Fprintf(&b, "- Total logs: %d\n", rep.TotalLogs)
	fmt.Fprintf(&b, "- Endpoints: %d\n\n", len(rep.Endpoints))

	writeEndpointTable(&b, rep.Endpoints)
	return b.String()
}

// CatalogMarkdown renders a RouteCatalog as one section per merged route.
func CatalogMarkdown(cat report.RouteCatalog) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Route Catalog\n\n")
	fmt.Fprintf(&b, "- Routes: %d\n\n", len(cat.RouteReports))

	for _, rep := range cat.RouteReports {
		fmt.Fprintf(&b, "## %s\n\n", rep.RouteKey)
		fmt.Fprintf(&b, "- Total logs: %d\n\n", rep.TotalLogs)
		writeEndpointTable(&b, rep.Endpoints)
		b.WriteString("\n")
	}
	return b.String()
}

func writeEndpointTable(b *strings.Builder, endpoints []report.EndpointSummary) {
	b.WriteString("| Method | Host | Path | Count | Statuses | Query Keys |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, ep := range endpoints {
		fmt.Fprintf(b, "| %s | %s | %s | %d | %s | %s |\n",
			ep.Method, ep.Host, ep.Path, ep.Count,
			formatStatuses(ep.Statuses), strings.Join(ep.QueryKeys, ", "))
	}
}

func formatStatuses(statuses map[string]int) string {
	parts := make([]string, 0, len(statuses))
	for status, count := range statuses {
		parts = append(parts, fmt.Sprintf("%s×%d", status, count))
	}
	return strings.Join(parts, ", ")
}
