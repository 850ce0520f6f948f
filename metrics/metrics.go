// Package metrics provides lightweight, lock-free counters for captured
// exchanges using atomic operations so they impose minimal overhead on the
// proxy hot path.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the capture pipeline.
//
// All counters are accessed exclusively through atomic operations, which
// means:
//   - There is no mutex contention even under heavy concurrent proxying.
//   - The struct may be embedded or passed as a pointer without additional
//     synchronisation.
//   - Reads and writes are linearisable: a value read after a write always
//     reflects at least that write.
//
// Fields are uint64 and aligned to 64-bit boundaries to satisfy the
// requirements of sync/atomic on 32-bit platforms.
type Metrics struct {
	// TotalCaptured is the number of outcomes observed since startup: each
	// HTTP relay and CONNECT tunnel the proxy emitted a LogRecord for, plus
	// each MITM CONNECT handshake, which emits no LogRecord of its own.
	TotalCaptured uint64

	// Success is the number of exchanges that completed with a 2xx/3xx
	// upstream status.
	Success uint64

	// ClientError is the number of exchanges that completed with a 4xx
	// upstream status.
	ClientError uint64

	// ServerError is the number of exchanges that completed with a 5xx
	// upstream status, including synthetic 502s the proxy itself emits on
	// timeout or dial failure.
	ServerError uint64

	// TransportError is the number of outcomes observed with status 0: a
	// CONNECT tunnel whose "200 Connection Established" could not be written
	// to the client, or a MITM handshake that failed. Upstream dial failures
	// and timeouts are counted under ServerError as synthetic 502s.
	TransportError uint64

	// startTime records when the metrics instance was created so that
	// CapturedPerSecond can compute a meaningful rate.
	startTime time.Time
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncrementTotal atomically increments the total-captured counter.
func (m *Metrics) IncrementTotal() {
	atomic.AddUint64(&m.TotalCaptured, 1)
}

// Observe atomically classifies one completed exchange by its resulting
// HTTP status code. A status of 0 records a transport-level failure (no
// response was ever read).
func (m *Metrics) Observe(status int) {
	switch {
	case status == 0:
		atomic.AddUint64(&m.TransportError, 1)
	case status >= 500:
		atomic.AddUint64(&m.ServerError, 1)
	case status >= 400:
		atomic.AddUint64(&m.ClientError, 1)
	default:
		atomic.AddUint64(&m.Success, 1)
	}
}

// CapturedPerSecond returns the average capture rate since the Metrics
// instance was created. Returns 0 if no time has elapsed since creation, to
// avoid division by zero.
func (m *Metrics) CapturedPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.TotalCaptured)) / elapsed
}

// Snapshot is a point-in-time copy of the counters, suitable for JSON
// encoding on the control port's /api/metrics endpoint.
type Snapshot struct {
	TotalCaptured  uint64  `json:"total_captured"`
	Success        uint64  `json:"success"`
	ClientError    uint64  `json:"client_error"`
	ServerError    uint64  `json:"server_error"`
	TransportError uint64  `json:"transport_error"`
	PerSecond      float64 `json:"per_second"`
}

// Snapshot returns a point-in-time copy of the counters. Because the loads
// are not performed under a single lock, the snapshot may be very slightly
// inconsistent at nanosecond granularity, which is acceptable for
// monitoring purposes.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalCaptured:  atomic.LoadUint64(&m.TotalCaptured),
		Success:        atomic.LoadUint64(&m.Success),
		ClientError:    atomic.LoadUint64(&m.ClientError),
		ServerError:    atomic.LoadUint64(&m.ServerError),
		TransportError: atomic.LoadUint64(&m.TransportError),
		PerSecond:      m.CapturedPerSecond(),
	}
}
