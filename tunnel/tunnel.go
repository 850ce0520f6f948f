// Package tunnel implements TunnelProxy (C9): a raw TCP tunnel for HTTPS
// CONNECT requests. No TLS interception happens here — bytes pass through
// unmodified in both directions — so exactly one LogRecord is emitted per
// tunnel, with no request/response body capture.
package tunnel

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/metrics"
)

// DefaultPort is used when a CONNECT authority omits an explicit port
// ("example.com" rather than "example.com:443").
const DefaultPort = "443"

// Emitter receives the single LogRecord a tunnel attempt produces.
type Emitter func(capture.LogRecord)

// Handler serves CONNECT requests by dialing the requested authority and
// splicing the client connection to it.
type Handler struct {
	dial    func(network, addr string) (net.Conn, error)
	emit    Emitter
	metrics *metrics.Metrics
	log     *logger.Logger
	timeout time.Duration
}

// Config configures a Handler.
type Config struct {
	// Dial overrides how the upstream connection is made; nil uses
	// net.Dialer.Dial with Timeout applied.
	Dial    func(network, addr string) (net.Conn, error)
	Emit    Emitter
	Metrics *metrics.Metrics
	Log     *logger.Logger
	Timeout time.Duration
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	dial := cfg.Dial
	if dial == nil {
		d := net.Dialer{Timeout: cfg.Timeout}
		dial = d.Dial
	}
	return &Handler{dial: dial, emit: cfg.Emit, metrics: cfg.Metrics, log: cfg.Log, timeout: cfg.Timeout}
}

// ServeHTTP handles a single CONNECT request: dial the target, respond
// "200 Connection Established", then relay bytes bidirectionally until
// either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "expected CONNECT", http.StatusBadRequest)
		return
	}

	authority := withDefaultPort(r.Host, DefaultPort)
	rec := capture.LogRecord{
		ID:     capture.NewID(),
		TS:     capture.Now(),
		Method: "CONNECT",
		URL:    "https://" + authority,
		Host:   authority,
		Path:   "",
	}
	start := time.Now()

	upstreamConn, err := h.dial("tcp", authority)
	if err != nil {
		h.finish(w, &rec, start, http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		h.finish(w, &rec, start, http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		h.finish(w, &rec, start, http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	if _, err := clientBuf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		h.recordStatus(&rec, start, 0)
		return
	}
	if err := clientBuf.Flush(); err != nil {
		h.recordStatus(&rec, start, 0)
		return
	}

	status := http.StatusOK
	rec.Status = &status
	h.observe(status)
	h.emit(rec)

	relay(clientConn, upstreamConn)
}

// finish responds with status (before any hijack has occurred) and emits
// the single CONNECT LogRecord.
func (h *Handler) finish(w http.ResponseWriter, rec *capture.LogRecord, start time.Time, status int) {
	http.Error(w, http.StatusText(status), status)
	h.recordStatus(rec, start, status)
}

func (h *Handler) recordStatus(rec *capture.LogRecord, start time.Time, status int) {
	duration := time.Since(start).Milliseconds()
	rec.DurationMs = &duration
	if status != 0 {
		rec.Status = &status
	}
	h.observe(status)
	h.emit(*rec)
}

func (h *Handler) observe(status int) {
	if h.metrics == nil {
		return
	}
	h.metrics.IncrementTotal()
	h.metrics.Observe(status)
}

// relay copies bytes bidirectionally until both directions are done or
// either side errors/closes. It never attempts to interpret the bytes —
// the tunnel is opaque by design.
func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b) //nolint:errcheck
		if c, ok := a.(interface{ CloseWrite() error }); ok {
			c.CloseWrite() //nolint:errcheck
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a) //nolint:errcheck
		if c, ok := b.(interface{ CloseWrite() error }); ok {
			c.CloseWrite() //nolint:errcheck
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

func withDefaultPort(host, defaultPort string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.TrimSuffix(host, ":"), defaultPort)
}
