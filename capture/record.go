// Package capture defines the canonical LogRecord value captured at the
// proxy boundary, the bounded body-tee helper used while streaming bytes
// upstream/downstream, and the in-memory ring buffer with live fan-out to
// subscribers.
package capture

import (
	"time"

	"github.com/google/uuid"
)

// BodyLimit is the maximum number of body bytes retained in a Body.Text,
// per side, per exchange (§3/§4.3: "first ≤ 64 KiB of the body").
const BodyLimit = 64 * 1024

// Body holds a captured request or response payload. Text is a best-effort
// UTF-8 decoding (lossy replacement for invalid bytes) of at most the first
// BodyLimit bytes actually seen on the wire.
type Body struct {
	MIME string `json:"mime,omitempty"`
	Text string `json:"text,omitempty"`
}

// Message is the request or response half of a LogRecord.
type Message struct {
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    *Body             `json:"body,omitempty"`
}

// LogRecord is one captured exchange: a single proxied HTTP request/response
// pair, or a single CONNECT tunnel attempt.
//
// Invariants (enforced by callers, not by this type): ID, TS, Method, URL,
// Host, and Path are never empty; Request.Headers never contains
// hop-by-hop header names; body Text is never longer than BodyLimit bytes.
type LogRecord struct {
	ID         string   `json:"id"`
	TS         int64    `json:"ts"`
	Method     string   `json:"method"`
	URL        string   `json:"url"`
	Host       string   `json:"host"`
	Path       string   `json:"path"`
	Status     *int     `json:"status,omitempty"`
	DurationMs *int64   `json:"durationMs,omitempty"`
	Request    Message  `json:"request"`
	Response   *Message `json:"response,omitempty"`
}

// NewID returns a fresh collision-resistant identifier (122 bits of random
// entropy, comfortably above the ≥96-bit requirement) suitable for a
// LogRecord.ID or a SessionMeta.ID.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current wall time in milliseconds since the Unix epoch,
// the timestamp unit LogRecord.TS and SessionMeta use throughout.
func Now() int64 {
	return time.Now().UnixMilli()
}
