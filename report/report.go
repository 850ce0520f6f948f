// Package report implements ReportBuilder (C6) and CatalogBuilder (C7):
// aggregating a session's captured log stream into endpoint statistics,
// and merging multiple sessions' reports into a cross-session catalog.
package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/normalize"
)

const (
	sampleHeaderLimit = 30
	sampleBodyClip    = 2 * 1024
	truncatedSuffix   = "\n…(truncated)"
)

// EndpointSummary aggregates every captured exchange that normalizes to
// the same method+host+path.
type EndpointSummary struct {
	Key        string         `json:"key"`
	Method     string         `json:"method"`
	Host       string         `json:"host"`
	Path       string         `json:"path"`
	Count      int            `json:"count"`
	Statuses   map[string]int `json:"statuses"`
	MIME       MIMECounts     `json:"mime"`
	QueryKeys  []string       `json:"queryKeys"`
	Sample     *capture.LogRecord `json:"sample,omitempty"`
}

// MIMECounts tracks the first MIME segment (e.g. "application" from
// "application/json") seen per side of the exchange.
type MIMECounts struct {
	Req map[string]int `json:"req"`
	Res map[string]int `json:"res"`
}

// RouteReport is a pure function of a session's log sequence: one entry
// per distinct endpoint, built once and cached on disk.
type RouteReport struct {
	RouteKey  string            `json:"routeKey"`
	SessionID string            `json:"sessionId"`
	CreatedAt int64             `json:"createdAt"`
	TotalLogs int               `json:"totalLogs"`
	Endpoints []EndpointSummary `json:"endpoints"`
}

// RouteCatalog unions RouteReports across sessions sharing a routeKey.
type RouteCatalog struct {
	CreatedAt    int64         `json:"createdAt"`
	RouteReports []RouteReport `json:"routeReports"`
}

// Build aggregates logs into a RouteReport for sessionID. nowMs is the
// report's CreatedAt, injected by the caller rather than read from the
// wall clock here so Build stays a pure function of its inputs.
func Build(routeKey, sessionID string, logs []capture.LogRecord, nowMs int64) RouteReport {
	index := make(map[string]int)
	var endpoints []EndpointSummary

	for _, rec := range logs {
		method := strings.ToUpper(rec.Method)
		if method == "" {
			method = "GET"
		}
		path := normalize.Path(rec.Path)
		key := method + " " + rec.Host + " " + path

		i, ok := index[key]
		if !ok {
			i = len(endpoints)
			index[key] = i
			endpoints = append(endpoints, EndpointSummary{
				Key:      key,
				Method:   method,
				Host:     rec.Host,
				Path:     path,
				Statuses: make(map[string]int),
				MIME:     MIMECounts{Req: make(map[string]int), Res: make(map[string]int)},
				Sample:   clipSample(rec),
			})
		}

		ep := &endpoints[i]
		ep.Count++

		status := 0
		if rec.Status != nil {
			status = *rec.Status
		}
		ep.Statuses[strconv.Itoa(status)]++

		ep.MIME.Req[mimeSegment(rec.Request.Body)]++
		if rec.Response != nil {
			ep.MIME.Res[mimeSegment(rec.Response.Body)]++
		} else {
			ep.MIME.Res[""]++
		}

		ep.QueryKeys = normalize.MergeQueryKeys(ep.QueryKeys, normalize.QueryKeys(rec.URL))
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Count > endpoints[j].Count
	})

	return RouteReport{
		RouteKey:  routeKey,
		SessionID: sessionID,
		CreatedAt: nowMs,
		TotalLogs: len(logs),
		Endpoints: endpoints,
	}
}

func mimeSegment(body *capture.Body) string {
	if body == nil || body.MIME == "" {
		return ""
	}
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(body.MIME, ";", 2)[0]))
	return strings.SplitN(mime, "/", 2)[0]
}

// clipSample produces the representative sample stored on an
// EndpointSummary's first occurrence: headers are limited to the first 30
// (sorted lexicographically) on each side, and bodies are clipped to
// sampleBodyClip bytes with a truncation suffix.
func clipSample(rec capture.LogRecord) *capture.LogRecord {
	sample := rec
	sample.Request = clipMessage(rec.Request)
	if rec.Response != nil {
		resp := clipMessage(*rec.Response)
		sample.Response = &resp
	}
	return &sample
}

func clipMessage(msg capture.Message) capture.Message {
	out := msg
	out.Headers = clipHeaders(msg.Headers)
	if msg.Body != nil {
		body := *msg.Body
		body.Text = clipText(body.Text)
		out.Body = &body
	}
	return out
}

func clipHeaders(headers map[string]string) map[string]string {
	if len(headers) <= sampleHeaderLimit {
		return headers
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(map[string]string, sampleHeaderLimit)
	for _, k := range names[:sampleHeaderLimit] {
		out[k] = headers[k]
	}
	return out
}

func clipText(text string) string {
	if len(text) <= sampleBodyClip {
		return text
	}
	return text[:sampleBodyClip] + truncatedSuffix
}
