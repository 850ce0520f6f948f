package export_test

import (
	"testing"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/export"
)

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }

func TestBuildHARShapeAndTimings(t *testing.T) {
	logs := []capture.LogRecord{
		{
			ID:         "1",
			TS:         1700000000000,
			Method:     "POST",
			URL:        "http://example.com/a",
			Host:       "example.com",
			Status:     intPtr(200),
			DurationMs: int64Ptr(42),
			Request: capture.Message{
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    &capture.Body{MIME: "application/json", Text: `{"a":1}`},
			},
			Response: &capture.Message{
				Body: &capture.Body{MIME: "application/json", Text: `{"ok":true}`},
			},
		},
	}

	har := export.BuildHAR(logs)

	if har.Log.Version != "1.2" {
		t.Errorf("version = %q, want 1.2", har.Log.Version)
	}
	if har.Log.Creator.Name == "" {
		t.Error("expected non-empty creator name")
	}
	if len(har.Log.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(har.Log.Entries))
	}

	entry := har.Log.Entries[0]
	if entry.Timings.Wait != 42 {
		t.Errorf("Timings.Wait = %d, want 42", entry.Timings.Wait)
	}
	if entry.Timings.Send != 0 || entry.Timings.Receive != 0 {
		t.Errorf("expected Send/Receive = 0, got %d/%d", entry.Timings.Send, entry.Timings.Receive)
	}
	if entry.Request.HeadersSize != -1 || entry.Request.BodySize != -1 {
		t.Errorf("expected HeadersSize/BodySize = -1, got %d/%d", entry.Request.HeadersSize, entry.Request.BodySize)
	}
	if entry.Request.PostData == nil || entry.Request.PostData.Text != `{"a":1}` {
		t.Errorf("expected postData with request body text, got %+v", entry.Request.PostData)
	}
	if entry.Response.Status != 200 {
		t.Errorf("Response.Status = %d, want 200", entry.Response.Status)
	}
}

func TestBuildHAROmitsPostDataWhenBodyEmpty(t *testing.T) {
	logs := []capture.LogRecord{
		{ID: "1", TS: 1700000000000, Method: "GET", URL: "http://example.com/", Host: "example.com"},
	}
	har := export.BuildHAR(logs)
	if har.Log.Entries[0].Request.PostData != nil {
		t.Error("expected nil PostData when request body text is empty")
	}
}
