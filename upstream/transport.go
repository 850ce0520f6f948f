// Package upstream builds the shared HTTP transport the forward proxy (C8)
// and the MITM re-dial path (C10) use to reach real origins, tuned for a
// proxy relaying many concurrent client connections to a modest number of
// distinct upstream hosts.
package upstream

import (
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// transportDefaults groups transport-layer knobs that are set once at
// construction time. Exposing them as a struct keeps NewTransport's
// signature small and makes unit-testing easier.
type transportDefaults struct {
	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
	tlsHandshakeTimeout time.Duration
}

// defaultTransport holds the tuning values used when callers construct a
// Config with zero values. MaxConnsPerHost of 64 matches the per-host
// socket cap §4.8 asks for; hostpool.Pool enforces the same cap at a
// higher level so the proxy never blocks on Go's internal transport queue
// without the caller knowing why.
var defaultTransport = transportDefaults{
	maxIdleConns:        500,
	maxIdleConnsPerHost: 100,
	maxConnsPerHost:     64,
	tlsHandshakeTimeout: 10 * time.Second,
}

// Config tunes NewTransport. Zero values fall back to defaultTransport.
type Config struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	TLSHandshakeTimeout time.Duration

	// UseUTLS re-dials upstream TLS origins with a uTLS ClientHello instead
	// of bare crypto/tls. main.go sets this when MITM (C10) is enabled so
	// the upstream leg's handshake shape matches a real browser's even
	// though the client's original handshake was already terminated locally.
	UseUTLS bool
	// ClientHello selects the parroted ClientHello when UseUTLS is set.
	// Defaults to MITMClientHello.
	ClientHello utls.ClientHelloID
}

// NewTransport builds an *http.Transport tuned for proxying: keep-alives
// enabled so repeated requests to the same origin reuse sockets, bounded
// per-host connection counts so one origin cannot exhaust the pool, and
// HTTP/2 wired in via golang.org/x/net/http2 so origins that support it get
// multiplexed requests instead of being forced onto HTTP/1.1.
//
// The proxy never needs automatic redirect following or a cookie jar of its
// own — both are client concerns, and the forward proxy's job is to relay
// exactly what the real client asked for, so NewTransport returns the bare
// *http.Transport rather than a wrapping *http.Client.
func NewTransport(cfg Config) (*http.Transport, error) {
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultTransport.maxIdleConns
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultTransport.maxIdleConnsPerHost
	}
	maxPerHost := cfg.MaxConnsPerHost
	if maxPerHost <= 0 {
		maxPerHost = defaultTransport.maxConnsPerHost
	}
	handshakeTimeout := cfg.TLSHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultTransport.tlsHandshakeTimeout
	}

	t := &http.Transport{
		DisableKeepAlives: false,

		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdlePerHost,
		MaxConnsPerHost:     maxPerHost,

		// Evict idle connections after 90s so we do not hold dead sockets
		// a downstream NAT or load balancer has already torn down.
		IdleConnTimeout: 90 * time.Second,

		TLSHandshakeTimeout: handshakeTimeout,

		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.UseUTLS {
		helloID := cfg.ClientHello
		if helloID == (utls.ClientHelloID{}) {
			helloID = MITMClientHello
		}
		// Setting DialTLSContext ourselves means http2.ConfigureTransport
		// below sees it already populated and leaves it alone, so h2
		// negotiation for this leg happens through uTLS's own ALPN
		// extension (the Chrome parrot presets advertise "h2") rather
		// than through the stdlib http2 package's dialing path.
		t.DialTLSContext = UTLSDialerHTTP1(helloID)
	}

	// http2.ConfigureTransport upgrades t in place to negotiate HTTP/2 via
	// ALPN for TLS origins while leaving plain-HTTP behavior untouched.
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, err
	}

	return t, nil
}
