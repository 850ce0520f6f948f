// Package proxyhttp implements ForwardProxy (C8): a plain-HTTP
// intercepting proxy that accepts absolute-form or origin-form requests,
// relays them to the real upstream, and emits exactly one LogRecord per
// exchange into the capture ring and session store.
package proxyhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/hostpool"
	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/metrics"
	"github.com/wiretap-dev/wiretap/upstream"
)

// hopByHop is the fixed set of header names that must never be relayed
// upstream or downstream, per §4.8 step 2.
var hopByHop = map[string]struct{}{
	"connection":        {},
	"proxy-connection":  {},
	"keep-alive":        {},
	"transfer-encoding": {},
	"te":                {},
	"trailer":           {},
	"upgrade":           {},
}

// Emitter receives a finished LogRecord. The proxy is deliberately
// decoupled from what happens to a record next — sanitizing, ring
// push, and session append all happen behind this single callback.
type Emitter func(capture.LogRecord)

// Handler is an http.Handler implementing the forward proxy. Construct one
// per listener with NewHandler.
type Handler struct {
	transport *http.Transport
	pool      *hostpool.Pool
	emit      Emitter
	metrics   *metrics.Metrics
	log       *logger.Logger
	timeout   time.Duration
	bodyLimit int
}

// Config configures a Handler.
type Config struct {
	Transport *http.Transport
	Pool      *hostpool.Pool
	Emit      Emitter
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Timeout   time.Duration
	BodyLimit int
}

// NewHandler builds a Handler from cfg, applying the same defaults
// config.DefaultConfig uses when a zero value is passed.
func NewHandler(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = capture.BodyLimit
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.Pool == nil {
		cfg.Pool = hostpool.NewPool(0)
	}
	return &Handler{
		transport: cfg.Transport,
		pool:      cfg.Pool,
		emit:      cfg.Emit,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
		timeout:   cfg.Timeout,
		bodyLimit: cfg.BodyLimit,
	}
}

// ServeHTTP implements the forward-proxy request cycle described in §4.8.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		// CONNECT is handled by the tunnel package's own listener path;
		// a forward-proxy handler that receives one anyway has been wired
		// wrong upstream of it.
		http.Error(w, "CONNECT not supported on this listener", http.StatusBadRequest)
		return
	}

	target, err := resolveTargetURL(r)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	rec := capture.LogRecord{
		ID:     capture.NewID(),
		TS:     capture.Now(),
		Method: strings.ToUpper(r.Method),
		URL:    target.String(),
		Host:   target.Host,
		Path:   target.Path,
	}

	reqHeaders := stripHopByHop(r.Header, r.Header.Get("Connection"))
	rec.Request.Headers = flattenHeader(reqHeaders)
	rec.Request.Query = flattenQuery(target.Query())

	reqTee := capture.NewBoundedTee(r.Body, h.bodyLimit)

	host := target.Hostname()
	h.pool.Acquire(host)
	defer h.pool.Release(host)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), io.NopCloser(reqTee))
	if err != nil {
		h.finishError(w, &rec, start, http.StatusBadGateway, "proxyhttp: build upstream request: "+err.Error())
		return
	}
	// Route the relayed headers through OrderedHeader: each key keeps its
	// spelling and the values of one name keep their order; the order
	// across names is left to net/http.
	upstream.FromHTTPHeader(reqHeaders).ApplyToRequest(outReq)
	outReq.Host = target.Host

	client := &http.Client{
		Transport: h.transport,
		// The proxy relays exactly what the client asked for; following
		// redirects itself would turn one client request into a chain the
		// client never issued.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(outReq)
	if err != nil {
		status := http.StatusBadGateway
		rec.Request.Body = &capture.Body{MIME: r.Header.Get("Content-Type"), Text: reqTee.CapturedText()}
		if ctx.Err() != nil {
			h.finishError(w, &rec, start, status, "proxyhttp: upstream timeout")
		} else {
			h.finishError(w, &rec, start, status, "proxyhttp: upstream error: "+err.Error())
		}
		return
	}
	defer resp.Body.Close()

	rec.Request.Body = &capture.Body{MIME: r.Header.Get("Content-Type"), Text: reqTee.CapturedText()}

	respHeaders := stripHopByHop(resp.Header, resp.Header.Get("Connection"))
	for name, values := range respHeaders {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	respTee := capture.NewBoundedTee(resp.Body, h.bodyLimit)
	_, copyErr := io.Copy(w, respTee)

	duration := time.Since(start).Milliseconds()
	status := resp.StatusCode
	rec.Status = &status
	rec.DurationMs = &duration
	rec.Response = &capture.Message{
		Headers: flattenHeader(respHeaders),
		Body:    &capture.Body{MIME: resp.Header.Get("Content-Type"), Text: respTee.CapturedText()},
	}

	if copyErr != nil {
		h.log.Debugf("proxyhttp: client abort relaying response body: %v", copyErr)
	}

	h.observe(status)
	h.emit(rec)
}

// finishError emits a minimal error LogRecord and responds to the client
// with status, matching §4.8's "emit a minimal LogRecord with status=502
// and an error text body" failure policy. It is idempotent in the sense
// that ServeHTTP calls it at most once per request.
func (h *Handler) finishError(w http.ResponseWriter, rec *capture.LogRecord, start time.Time, status int, msg string) {
	duration := time.Since(start).Milliseconds()
	rec.Status = &status
	rec.DurationMs = &duration
	rec.Response = &capture.Message{
		Body: &capture.Body{MIME: "text/plain", Text: msg},
	}
	h.log.Errorf("%s", msg)
	http.Error(w, msg, status)
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

// resolveTargetURL implements §4.8 step 1: absolute-form requests are used
// directly; origin-form requests are synthesized from the Host header.
func resolveTargetURL(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		return r.URL, nil
	}
	if r.Host == "" {
		return nil, fmt.Errorf("no Host header on origin-form request")
	}
	synthesized := "http://" + r.Host + r.URL.RequestURI()
	u, err := url.Parse(synthesized)
	if err != nil {
		return nil, fmt.Errorf("could not synthesize absolute URL: %w", err)
	}
	return u, nil
}

// stripHopByHop returns a clone of headers with every name listed in the
// Connection header value (case-insensitive, comma-split), plus the fixed
// hopByHop set, removed.
func stripHopByHop(headers http.Header, connectionValue string) http.Header {
	out := headers.Clone()
	for _, tok := range strings.Split(connectionValue, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out.Del(tok)
		}
	}
	for name := range hopByHop {
		out.Del(name)
	}
	return out
}

// flattenHeader joins multi-value headers with a comma, matching
// LogRecord's "joined value" contract (§3).
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// flattenQuery takes the last value for each query key, matching
// LogRecord's "last-wins" contract (§3).
func flattenQuery(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}
