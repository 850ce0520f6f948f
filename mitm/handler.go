package mitm

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/metrics"
	"github.com/wiretap-dev/wiretap/proxyhttp"
)

// DefaultPort is used when a CONNECT authority omits an explicit port.
const DefaultPort = "443"

// Handler serves CONNECT requests by terminating TLS locally with a
// leaf certificate issued by ca, then handing the decrypted exchange to
// an embedded forward-proxy handler with scheme forced to https.
type Handler struct {
	ca      *CA
	inner   *proxyhttp.Handler
	log     *logger.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// Config configures a Handler.
type Config struct {
	CA      *CA
	Inner   *proxyhttp.Handler
	Log     *logger.Logger
	Metrics *metrics.Metrics
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
	return &Handler{ca: cfg.CA, inner: cfg.Inner, log: cfg.Log, metrics: cfg.Metrics, timeout: cfg.Timeout}
}

// ServeHTTP handles a single CONNECT request: terminate TLS on a leaf
// certificate issued for the requested host, then drive the decrypted
// HTTP/1.1 exchange (possibly several keep-alive requests) through the
// embedded forward-proxy handler with scheme forced to https.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "expected CONNECT", http.StatusBadRequest)
		return
	}

	authority := withDefaultPort(r.Host, DefaultPort)
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		h.observe(0)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		h.observe(0)
		return
	}
	defer clientConn.Close()

	if _, err := clientBuf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		h.logDisconnect(host, err)
		h.observe(0)
		return
	}
	if err := clientBuf.Flush(); err != nil {
		h.logDisconnect(host, err)
		h.observe(0)
		return
	}

	leaf, err := h.ca.LeafFor(host)
	if err != nil {
		h.log.Errorf("mitm: issue leaf for %q: %v", host, err)
		h.observe(0)
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
	})
	defer tlsConn.Close()

	if err := tlsConn.Handshake(); err != nil {
		// A client that does not trust the local CA fails the handshake
		// here; the transport must still come down cleanly rather than
		// crash the server or hang.
		h.logDisconnect(host, err)
		h.observe(0)
		return
	}

	h.observe(http.StatusOK)

	if err := serveOne(tlsConn, h.inner); err != nil && !isQuietDisconnect(err) {
		h.log.Debugf("mitm: serving %q: %v", host, err)
	}
}

// https wraps inner so every request it sees is marked scheme=https,
// matching the "treated exactly as the forward proxy, but scheme=https"
// contract for decrypted MITM traffic.
func https(inner *proxyhttp.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Scheme == "" {
			r.URL.Scheme = "https"
		}
		if r.URL.Host == "" {
			r.URL.Host = r.Host
		}
		inner.ServeHTTP(w, r)
	})
}

// serveOne drives http.Serve over a single already-established TLS
// connection by wrapping it in a one-shot net.Listener. http.Serve handles
// HTTP/1.1 keep-alive framing for us and returns once the client closes
// the connection.
func serveOne(conn net.Conn, inner *proxyhttp.Handler) error {
	// http.Serve returns as soon as the listener is exhausted, while the
	// connection is still being served in its own goroutine; wait for that
	// connection to reach a terminal state before returning.
	done := make(chan struct{}, 1)
	srv := &http.Server{
		Handler: https(inner),
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
	}
	err := srv.Serve(&singleConnListener{conn: conn})
	<-done
	return err
}

// singleConnListener is a net.Listener that yields exactly one connection
// and then reports itself exhausted, so http.Server.Serve can drive a
// single already-accepted, already TLS-terminated connection through the
// standard HTTP/1.1 keep-alive loop. Serve returns on the second Accept;
// serveOne waits for the connection itself to finish.
type singleConnListener struct {
	conn   net.Conn
	served bool
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.served {
		return nil, errListenerExhausted
	}
	l.served = true
	return l.conn, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

var errListenerExhausted = errors.New("mitm: single connection already served")

// observe records the outcome of the CONNECT handshake itself (tunnel
// established or not) in the shared metrics counters. Individual decrypted
// exchanges are observed separately by the embedded forward-proxy handler,
// so this only accounts for the handshake, not the traffic it carries.
func (h *Handler) observe(status int) {
	if h.metrics == nil {
		return
	}
	h.metrics.IncrementTotal()
	h.metrics.Observe(status)
}

// logDisconnect silences EPIPE-class client disconnects at error level,
// logging everything else as an error.
func (h *Handler) logDisconnect(host string, err error) {
	if isQuietDisconnect(err) {
		h.log.Debugf("mitm: client disconnect for %q: %v", host, err)
		return
	}
	h.log.Errorf("mitm: tls handshake/write for %q: %v", host, err)
}

func isQuietDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, errListenerExhausted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection")
}

func withDefaultPort(host, defaultPort string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.TrimSuffix(host, ":"), defaultPort)
}
