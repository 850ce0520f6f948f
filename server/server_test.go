package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/metrics"
	"github.com/wiretap-dev/wiretap/server"
	"github.com/wiretap-dev/wiretap/store"
	"github.com/wiretap-dev/wiretap/worker"
)

func newTestServer(t *testing.T) (*server.Server, *capture.Ring, *store.Store) {
	t.Helper()
	ring := capture.NewRing(100, 16)

	wp := worker.NewWorkerPool(2)
	wp.Start()
	t.Cleanup(wp.Stop)

	st := store.New(t.TempDir(), wp, 50*time.Millisecond, logger.Discard())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)

	return server.New(ring, st, metrics.NewMetrics(), logger.Discard()), ring, st
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body["ok"] {
		t.Error("expected ok:true")
	}
}

func TestLogsAndClear(t *testing.T) {
	s, ring, _ := newTestServer(t)
	ring.Push(capture.LogRecord{ID: "a"})
	ring.Push(capture.LogRecord{ID: "b"})

	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	var logsResp struct {
		Items []capture.LogRecord `json:"items"`
	}
	json.Unmarshal(rw.Body.Bytes(), &logsResp)
	if len(logsResp.Items) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logsResp.Items))
	}

	rw = httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/api/clear", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	json.Unmarshal(rw.Body.Bytes(), &logsResp)
	if len(logsResp.Items) != 0 {
		t.Fatalf("expected 0 logs after clear, got %d", len(logsResp.Items))
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, _, st := newTestServer(t)

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/start", strings.NewReader(`{"name":"demo"}`))
	s.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("start status = %d, body=%s", rw.Code, rw.Body.String())
	}
	var meta store.SessionMeta
	if err := json.Unmarshal(rw.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Name != "demo" {
		t.Errorf("Name = %q, want demo", meta.Name)
	}

	if err := st.Append(capture.LogRecord{ID: "x"}); err != nil {
		t.Fatal(err)
	}

	rw = httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/sessions/"+meta.ID, nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("get session status = %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/api/sessions/stop", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/sessions/"+meta.ID+"/logs", nil))
	var logsResp struct {
		Items []capture.LogRecord `json:"items"`
	}
	json.Unmarshal(rw.Body.Bytes(), &logsResp)
	if len(logsResp.Items) != 1 {
		t.Fatalf("expected 1 log for session, got %d", len(logsResp.Items))
	}
}

func TestMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(rw.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/sessions/does-not-exist", nil))
	if rw.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rw.Code)
	}
}

func TestSessionExportFormats(t *testing.T) {
	s, _, st := newTestServer(t)
	meta, err := st.Start("export-me")
	if err != nil {
		t.Fatal(err)
	}
	st.Append(capture.LogRecord{ID: "x", Method: "GET", Host: "example.com", Path: "/a"}) //nolint:errcheck
	st.Stop()                                                                             //nolint:errcheck

	for _, format := range []string{"", "json", "har", "md"} {
		rw := httptest.NewRecorder()
		url := "/api/sessions/" + meta.ID + "/export"
		if format != "" {
			url += "?format=" + format
		}
		s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, url, nil))
		if rw.Code != http.StatusOK {
			t.Errorf("format=%q status = %d, body=%s", format, rw.Code, rw.Body.String())
		}
		if rw.Header().Get("Content-Disposition") == "" {
			t.Errorf("format=%q expected Content-Disposition header", format)
		}
	}
}

func TestCatalogExportJSON(t *testing.T) {
	s, _, st := newTestServer(t)
	meta, _ := st.Start("catalog-session")
	st.Append(capture.LogRecord{ID: "x", Method: "GET", Host: "example.com", Path: "/a"}) //nolint:errcheck
	st.Stop()                                                                             //nolint:errcheck
	_ = meta

	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/catalog/export", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rw.Code, rw.Body.String())
	}
}

func TestEventsStreamEmitsHelloThenLog(t *testing.T) {
	s, ring, _ := newTestServer(t)

	httpSrv := httptest.NewServer(s)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read hello event: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "event: hello") {
		t.Fatalf("expected hello event first, got %q", buf[:n])
	}

	time.Sleep(20 * time.Millisecond)
	ring.Push(capture.LogRecord{ID: "live"})

	n, err = resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read log event: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "event: log") {
		t.Fatalf("expected log event, got %q", buf[:n])
	}
}
