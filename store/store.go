// Package store implements SessionStore (C5): an on-disk per-session
// directory holding metadata, an append-only newline-delimited log file,
// and a cached route report.
//
// Directory layout under a root (default "<cwd>/data/sessions/"):
//
//	<root>/<sessionId>/meta.json     SessionMeta
//	<root>/<sessionId>/logs.ndjson   one JSON LogRecord per line, append-only
//	<root>/<sessionId>/report.json   RouteReport (lazy)
//
// All writes to the current session are serialized: Append never reorders
// with respect to Start/Stop. meta.json is rewritten at most once per
// flush interval via an internal scheduler whose jobs run on a worker
// pool, rather than on every append. Append itself writes to the log file
// synchronously on the calling goroutine.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/report"
	"github.com/wiretap-dev/wiretap/scheduler"
	"github.com/wiretap-dev/wiretap/worker"
)

// SessionMeta describes one capture session's lifecycle and location on
// disk.
type SessionMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// RouteKey optionally groups this session with others for catalog
	// merging (§4.7); when empty, CatalogBuilder falls back to Name.
	RouteKey string `json:"routeKey,omitempty"`

	CreatedAt int64  `json:"createdAt"`
	EndedAt   *int64 `json:"endedAt,omitempty"`
	LogCount  int    `json:"logCount"`
	Dir       string `json:"dir"`
	LogsPath  string `json:"logsPath"`
}

// session bundles the in-memory state for the current session: its
// metadata, the open append-only file handle, and a lock serializing
// writes to both.
type session struct {
	mu    sync.Mutex
	meta  SessionMeta
	file  *os.File
	dirty bool
}

// Store is the SessionStore implementation. It is safe for concurrent use:
// the store-level lock protects which session is "current", while each
// session's own lock serializes appends against start/stop.
type Store struct {
	rootDir string
	log     *logger.Logger

	mu      sync.RWMutex
	current *session

	wp    *worker.WorkerPool
	sched *scheduler.Scheduler
}

// New creates a Store rooted at rootDir, with periodic meta flushes
// dispatched through wp. Callers must call Init before Start/List.
func New(rootDir string, wp *worker.WorkerPool, flushInterval time.Duration, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	s := &Store{
		rootDir: rootDir,
		log:     log,
		wp:      wp,
	}
	s.sched = scheduler.NewScheduler(wp, flushInterval)
	s.sched.Start(s.flushCurrentMeta)
	return s
}

// Init ensures the store's root directory exists.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.rootDir, 0o755); err != nil {
		return fmt.Errorf("store: init root %q: %w", s.rootDir, err)
	}
	return nil
}

// List enumerates session subdirectories, parses each meta.json, skips
// unreadable entries, and returns metas newest-first by CreatedAt.
func (s *Store) List() ([]SessionMeta, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMeta{}, nil
		}
		return nil, fmt.Errorf("store: list %q: %w", s.rootDir, err)
	}

	metas := make([]SessionMeta, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.Read(e.Name())
		if err != nil || meta == nil {
			continue
		}
		metas = append(metas, *meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt > metas[j].CreatedAt
	})
	return metas, nil
}

// Read parses the meta.json for id, returning nil on any error.
func (s *Store) Read(id string) (*SessionMeta, error) {
	path := filepath.Join(s.rootDir, id, "meta.json")
	data, err := os.ReadFile(path) // #nosec G304 -- id enumerated from our own session directory
	if err != nil {
		return nil, nil
	}
	var meta SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil
	}
	return &meta, nil
}

// Start begins a new session. If a current session exists, it is stopped
// first. name defaults to "Session <createdAt>" when empty.
func (s *Store) Start(name string) (*SessionMeta, error) {
	if _, err := s.Stop(); err != nil {
		s.log.Errorf("store: stop previous session before start: %v", err)
	}

	id := capture.NewID()
	now := capture.Now()
	if name == "" {
		name = fmt.Sprintf("Session %s", time.UnixMilli(now).Format(time.RFC3339))
	}

	dir := filepath.Join(s.rootDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create session dir: %w", err)
	}

	logsPath := filepath.Join(dir, "logs.ndjson")
	f, err := os.OpenFile(logsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path built from our own generated session id
	if err != nil {
		return nil, fmt.Errorf("store: open logs file: %w", err)
	}

	meta := SessionMeta{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		Dir:       dir,
		LogsPath:  logsPath,
	}
	sess := &session{meta: meta, file: f}
	if err := writeMetaFile(sess); err != nil {
		_ = f.Close()
		return nil, err
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	result := meta
	return &result, nil
}

// Append writes record to the current session's log file and increments
// its logCount. It is a no-op if there is no current session. meta.json is
// marked dirty but not rewritten synchronously — see flushCurrentMeta.
func (s *Store) Append(record capture.LogRecord) error {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()
	if sess == nil {
		return nil
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("store: marshal log record: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.file == nil {
		return nil // session was stopped concurrently
	}
	if _, err := sess.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("store: append log record: %w", err)
	}
	sess.meta.LogCount++
	sess.dirty = true
	return nil
}

// Stop finalizes the current session: sets EndedAt, flushes meta.json
// synchronously, closes the log file, and caches the session's route
// report as report.json. Returns nil if there was no current session.
func (s *Store) Stop() (*SessionMeta, error) {
	s.mu.Lock()
	sess := s.current
	s.current = nil
	s.mu.Unlock()

	if sess == nil {
		return nil, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	endedAt := capture.Now()
	sess.meta.EndedAt = &endedAt
	err := writeMetaFile(sess)

	if sess.file != nil {
		if cerr := sess.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("store: close log file: %w", cerr)
		}
		sess.file = nil
	}

	result := sess.meta
	if logs, rerr := s.ReadLogs(result.ID, 0); rerr == nil {
		routeKey := result.RouteKey
		if routeKey == "" {
			routeKey = result.Name
		}
		rep := report.Build(routeKey, result.ID, logs, capture.Now())
		if werr := s.WriteReport(result.ID, &rep); werr != nil {
			s.log.Errorf("store: cache report for %q: %v", result.ID, werr)
		}
	}
	return &result, err
}

// Current returns the metadata of the current session, or nil if none.
func (s *Store) Current() *SessionMeta {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	result := sess.meta
	return &result
}

// ReadLogs reads the entire logs.ndjson for id, skipping malformed lines,
// and returns the last limit entries in file order. limit <= 0 returns
// every parsed entry.
func (s *Store) ReadLogs(id string, limit int) ([]capture.LogRecord, error) {
	path := filepath.Join(s.rootDir, id, "logs.ndjson")
	f, err := os.Open(path) // #nosec G304 -- id enumerated from our own session directory
	if err != nil {
		if os.IsNotExist(err) {
			return []capture.LogRecord{}, nil
		}
		return nil, fmt.Errorf("store: open logs for %q: %w", id, err)
	}
	defer f.Close()

	var records []capture.LogRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec capture.LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan logs for %q: %w", id, err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// flushCurrentMeta is invoked periodically by the scheduler and rewrites
// meta.json for the current session only if it has changed since the last
// flush.
func (s *Store) flushCurrentMeta() {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.dirty {
		return
	}
	if err := writeMetaFile(sess); err != nil {
		s.log.Errorf("store: flush meta for %q: %v", sess.meta.ID, err)
		return
	}
	sess.dirty = false
}

// writeMetaFile serializes sess.meta to its directory's meta.json. Callers
// must hold sess.mu.
func writeMetaFile(sess *session) error {
	data, err := json.MarshalIndent(sess.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}
	path := filepath.Join(sess.meta.Dir, "meta.json")
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- local dev tool, not handling untrusted multi-tenant data
		return fmt.Errorf("store: write meta: %w", err)
	}
	return nil
}

// Close stops the periodic flush scheduler. It does not stop the current
// session; call Stop for that.
func (s *Store) Close() {
	s.sched.Stop()
}
