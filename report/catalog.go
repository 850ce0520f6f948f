package report

import (
	"sort"
	"strconv"

	"github.com/wiretap-dev/wiretap/capture"
)

// SessionRef is the minimal session identity CatalogBuilder needs from its
// ListSessions callback — just enough to look up and group reports
// without this package depending on how sessions are actually persisted.
type SessionRef struct {
	ID       string
	Name     string
	RouteKey string
}

func (s SessionRef) effectiveRouteKey() string {
	if s.RouteKey != "" {
		return s.RouteKey
	}
	if s.Name != "" {
		return s.Name
	}
	return "/"
}

// Collaborators bundles the callback functions CatalogBuilder needs:
// enumerating sessions, reading/writing a session's cached report, and
// reading a session's raw logs to rebuild a report that's missing one.
type Collaborators struct {
	ListSessions func() []SessionRef
	ReadReport   func(id string) (*RouteReport, error)
	WriteReport  func(id string, rep *RouteReport) error
	ReadLogs     func(id string) ([]capture.LogRecord, error)
}

// BuildCatalog merges every session's RouteReport into a RouteCatalog
// grouped by route key (§4.7). For each session: load its cached report
// via ReadReport; if missing, build one from ReadLogs and persist it via
// WriteReport. Sessions are grouped by SessionRef.effectiveRouteKey, and
// each group is merged into one RouteReport whose SessionID is a
// synthetic "<routeKey> (<n> sessions)" label. RouteReports in the
// returned catalog are sorted by RouteKey ascending.
func BuildCatalog(nowMs int64, c Collaborators) (RouteCatalog, error) {
	sessions := c.ListSessions()

	groups := make(map[string][]RouteReport)
	order := make([]string, 0)

	for _, sess := range sessions {
		rep, err := c.ReadReport(sess.ID)
		if err != nil {
			return RouteCatalog{}, err
		}
		if rep == nil {
			logs, err := c.ReadLogs(sess.ID)
			if err != nil {
				return RouteCatalog{}, err
			}
			built := Build(sess.effectiveRouteKey(), sess.ID, logs, nowMs)
			rep = &built
			if err := c.WriteReport(sess.ID, rep); err != nil {
				return RouteCatalog{}, err
			}
		}

		key := sess.effectiveRouteKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], *rep)
	}

	merged := make([]RouteReport, 0, len(order))
	for _, key := range order {
		merged = append(merged, mergeGroup(key, groups[key]))
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].RouteKey < merged[j].RouteKey
	})

	return RouteCatalog{CreatedAt: nowMs, RouteReports: merged}, nil
}

// mergeGroup unions every RouteReport in reports — all sharing routeKey —
// into a single RouteReport, element-wise adding counts, unioning query
// keys, and keeping each endpoint's first-encountered sample.
func mergeGroup(routeKey string, reports []RouteReport) RouteReport {
	index := make(map[string]int)
	var endpoints []EndpointSummary
	totalLogs := 0

	for _, rep := range reports {
		totalLogs += rep.TotalLogs
		for _, ep := range rep.Endpoints {
			i, ok := index[ep.Key]
			if !ok {
				i = len(endpoints)
				index[ep.Key] = i
				clone := ep
				clone.Statuses = copyIntMap(ep.Statuses)
				clone.MIME = MIMECounts{Req: copyIntMap(ep.MIME.Req), Res: copyIntMap(ep.MIME.Res)}
				clone.QueryKeys = append([]string(nil), ep.QueryKeys...)
				endpoints = append(endpoints, clone)
				continue
			}

			dst := &endpoints[i]
			dst.Count += ep.Count
			addIntMap(dst.Statuses, ep.Statuses)
			addIntMap(dst.MIME.Req, ep.MIME.Req)
			addIntMap(dst.MIME.Res, ep.MIME.Res)
			dst.QueryKeys = mergeSortedUnique(dst.QueryKeys, ep.QueryKeys)
			// dst.Sample stays the first-encountered sample; later reports
			// never replace it.
		}
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Count > endpoints[j].Count
	})

	return RouteReport{
		RouteKey:  routeKey,
		SessionID: syntheticSessionID(routeKey, len(reports)),
		CreatedAt: maxCreatedAt(reports),
		TotalLogs: totalLogs,
		Endpoints: endpoints,
	}
}

func syntheticSessionID(routeKey string, n int) string {
	return routeKey + " (" + strconv.Itoa(n) + " sessions)"
}

func maxCreatedAt(reports []RouteReport) int64 {
	var max int64
	for _, r := range reports {
		if r.CreatedAt > max {
			max = r.CreatedAt
		}
	}
	return max
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func addIntMap(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

func mergeSortedUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
