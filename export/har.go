// Package export renders captured sessions and catalogs into formats
// external tools consume: HAR 1.2 for browser dev-tools-compatible replay,
// and a minimal Markdown table for quick human review.
package export

import (
	"net/http"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
)

const (
	harVersion     = "1.2"
	creatorName    = "wiretap"
	creatorVersion = "1.0"
)

// HARLog is the top-level HAR document.
type HARLog struct {
	Log HARInnerLog `json:"log"`
}

// HARInnerLog is the "log" object inside a HAR document.
type HARInnerLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator identifies the tool that produced the HAR document.
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HAREntry is one request/response pair.
type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            int64       `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Timings         HARTimings  `json:"timings"`
}

// HARRequest is the request side of a HAREntry.
type HARRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Headers     []HARHeader  `json:"headers"`
	QueryString []HARQuery   `json:"queryString"`
	PostData    *HARPostData `json:"postData,omitempty"`
	HeadersSize int          `json:"headersSize"`
	BodySize    int          `json:"bodySize"`
}

// HARResponse is the response side of a HAREntry.
type HARResponse struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []HARHeader `json:"headers"`
	Content     HARContent  `json:"content"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

// HARHeader is one name/value header pair.
type HARHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARQuery is one query-string name/value pair.
type HARQuery struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARPostData is the request body, included only when non-empty.
type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HARContent is the response body.
type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// HARTimings breaks down where HAREntry.Time went. Only "wait" (the
// captured durationMs) is meaningful here; the proxy does not measure
// send/receive separately, so both are reported as zero per the fixed
// contract rather than guessed.
type HARTimings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

// BuildHAR renders logs into a HAR 1.2 document.
func BuildHAR(logs []capture.LogRecord) HARLog {
	entries := make([]HAREntry, 0, len(logs))
	for _, rec := range logs {
		entries = append(entries, buildEntry(rec))
	}
	return HARLog{
		Log: HARInnerLog{
			Version: harVersion,
			Creator: HARCreator{Name: creatorName, Version: creatorVersion},
			Entries: entries,
		},
	}
}

func buildEntry(rec capture.LogRecord) HAREntry {
	var durationMs int64
	if rec.DurationMs != nil {
		durationMs = *rec.DurationMs
	}

	status := 0
	if rec.Status != nil {
		status = *rec.Status
	}

	entry := HAREntry{
		StartedDateTime: formatHARTime(rec.TS),
		Time:            durationMs,
		Request: HARRequest{
			Method:      rec.Method,
			URL:         rec.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     toHARHeaders(rec.Request.Headers),
			QueryString: toHARQuery(rec.Request.Query),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: HARResponse{
			Status:      status,
			StatusText:  statusText(status),
			HTTPVersion: "HTTP/1.1",
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: HARTimings{Send: 0, Wait: durationMs, Receive: 0},
	}

	if rec.Request.Body != nil && rec.Request.Body.Text != "" {
		entry.Request.PostData = &HARPostData{
			MimeType: rec.Request.Body.MIME,
			Text:     rec.Request.Body.Text,
		}
	}

	if rec.Response != nil {
		entry.Response.Headers = toHARHeaders(rec.Response.Headers)
		if rec.Response.Body != nil {
			entry.Response.Content = HARContent{
				Size:     len(rec.Response.Body.Text),
				MimeType: rec.Response.Body.MIME,
				Text:     rec.Response.Body.Text,
			}
		}
	}

	return entry
}

func toHARHeaders(headers map[string]string) []HARHeader {
	out := make([]HARHeader, 0, len(headers))
	for name, value := range headers {
		out = append(out, HARHeader{Name: name, Value: value})
	}
	return out
}

func toHARQuery(query map[string]string) []HARQuery {
	out := make([]HARQuery, 0, len(query))
	for name, value := range query {
		out = append(out, HARQuery{Name: name, Value: value})
	}
	return out
}

func formatHARTime(tsMs int64) string {
	return time.UnixMilli(tsMs).UTC().Format("2006-01-02T15:04:05.000Z")
}

func statusText(status int) string {
	if status == 0 {
		return ""
	}
	return http.StatusText(status)
}
