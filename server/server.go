// Package server implements the control/observer HTTP port: a JSON API and
// SSE stream over the live capture ring plus the on-disk session store.
// It never touches the proxy hot path directly — it only reads from the
// ring and the store, and issues start/stop/clear commands through them.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/export"
	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/metrics"
	"github.com/wiretap-dev/wiretap/report"
	"github.com/wiretap-dev/wiretap/store"
)

// Server serves the control/observer API described by the external
// interfaces contract: /health, /api/logs, /api/clear, /events (SSE),
// /api/sessions*, /api/metrics, /api/catalog/export.
type Server struct {
	ring    *capture.Ring
	store   *store.Store
	metrics *metrics.Metrics
	log     *logger.Logger
	mux     *http.ServeMux
}

// New builds a Server backed by ring, st, and m.
func New(ring *capture.Ring, st *store.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{ring: ring, store: st, metrics: m, log: log, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler by delegating to the internal mux with
// CORS applied, matching the dashboard's "wide open CORS" policy for this
// local tool.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withCORS(s.mux).ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions/start", s.handleStartSession)
	s.mux.HandleFunc("POST /api/sessions/stop", s.handleStopSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/logs", s.handleSessionLogs)
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.handleSessionExport)
	s.mux.HandleFunc("POST /api/sessions/{id}/report", s.handleSessionReport)

	s.mux.HandleFunc("GET /api/catalog/export", s.handleCatalogExport)
}

func withCORS(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 2000, 2000)
	items := s.ring.Snapshot(limit)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.ring.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMetrics reports the same atomic counters main.go's periodic summary
// line logs, as a one-shot JSON snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// handleEvents streams a "hello" event once, then a "log" event for every
// subsequent ring Push, until the client disconnects. Missed events are
// never replayed — reconnecting clients get a fresh "hello" and then live
// events only.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeSSE(w, "hello", map[string]bool{"ok": true}); err != nil {
		return
	}
	flusher.Flush()

	sub := s.ring.Subscribe()
	defer s.ring.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub.Chan():
			if !ok {
				return
			}
			if err := writeSSE(w, "log", rec); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   metas,
		"current": s.store.Current(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.Read(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if meta == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type startSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	meta, err := s.store.Start(req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.Stop()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if meta == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseLimit(r, 5000, 5000)
	logs, err := s.store.ReadLogs(id, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// handleSessionExport renders a session's logs/report as json, har, or md,
// sent as a download via Content-Disposition.
func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.store.Read(id)
	if err != nil || meta == nil {
		http.NotFound(w, r)
		return
	}

	logs, err := s.store.ReadLogs(id, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "har":
		har := export.BuildHAR(logs)
		setDownload(w, "application/json", id+".har")
		json.NewEncoder(w).Encode(har) //nolint:errcheck
	case "md":
		rep, err := s.loadOrBuildReport(*meta, logs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		setDownload(w, "text/markdown", id+".md")
		fmt.Fprint(w, export.SessionMarkdown(*meta, rep)) //nolint:errcheck
	case "", "json":
		setDownload(w, "application/json", id+".json")
		json.NewEncoder(w).Encode(map[string]any{"meta": meta, "items": logs}) //nolint:errcheck
	default:
		http.Error(w, "unknown format: "+format, http.StatusBadRequest)
	}
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.store.Read(id)
	if err != nil || meta == nil {
		http.NotFound(w, r)
		return
	}

	logs, err := s.store.ReadLogs(id, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rep, err := s.loadOrBuildReport(*meta, logs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) loadOrBuildReport(meta store.SessionMeta, logs []capture.LogRecord) (report.RouteReport, error) {
	if cached, err := s.store.ReadReport(meta.ID); err == nil && cached != nil {
		return *cached, nil
	}

	routeKey := meta.RouteKey
	if routeKey == "" {
		routeKey = meta.Name
	}
	rep := report.Build(routeKey, meta.ID, logs, capture.Now())
	if err := s.store.WriteReport(meta.ID, &rep); err != nil {
		s.log.Errorf("server: cache report for %q: %v", meta.ID, err)
	}
	return rep, nil
}

func (s *Server) handleCatalogExport(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	collaborators := report.Collaborators{
		ListSessions: func() []report.SessionRef {
			refs := make([]report.SessionRef, 0, len(metas))
			for _, m := range metas {
				refs = append(refs, report.SessionRef{ID: m.ID, Name: m.Name, RouteKey: m.RouteKey})
			}
			return refs
		},
		ReadReport:  s.store.ReadReport,
		WriteReport: s.store.WriteReport,
		ReadLogs: func(id string) ([]capture.LogRecord, error) {
			return s.store.ReadLogs(id, 0)
		},
	}

	cat, err := report.BuildCatalog(capture.Now(), collaborators)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "md":
		setDownload(w, "text/markdown", "catalog.md")
		fmt.Fprint(w, export.CatalogMarkdown(cat)) //nolint:errcheck
	case "", "json":
		setDownload(w, "application/json", "catalog.json")
		json.NewEncoder(w).Encode(cat) //nolint:errcheck
	default:
		http.Error(w, "unknown format: "+format, http.StatusBadRequest)
	}
}

func setDownload(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// ListenAndServe starts the control server on addr and blocks until it
// returns an error. Timeouts are generous: /events is a long-lived SSE
// connection that must not be cut off by a short write deadline.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe() // #nosec G114 -- explicit http.Server with timeouts set above
}
