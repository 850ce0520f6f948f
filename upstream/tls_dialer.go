package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// MITMClientHello is the ClientHello identity used when re-originating a
// connection to the real upstream origin after the MITM proxy (C10) has
// already terminated the client's TLS connection locally. Once a
// connection has been intercepted and re-encrypted, a bare Go crypto/tls
// handshake on the upstream leg would present a JA3 fingerprint no real
// browser produces — a detail some origins key on to distinguish
// intercepted traffic. Dialing with a recent, stable Chrome ClientHello
// keeps the upstream leg's handshake shape consistent with what the
// intercepted client itself would have sent.
var MITMClientHello = utls.HelloChrome_Auto

// UTLSDialer returns a DialTLSContext-compatible function that performs
// the TLS handshake using the uTLS library under the given ClientHelloID.
//
// The returned dialer is safe for concurrent use and wires directly into
// an http.Transport.DialTLSContext or an http2.Transport.DialTLSContext
// field.
//
// tlsCfg may be nil; if provided, its ServerName is used as the SNI
// hostname (the dialer also derives SNI from the addr argument when
// tlsCfg.ServerName is empty).
func UTLSDialer(helloID utls.ClientHelloID) func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	return func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("utls dialer: parse addr %q: %w", addr, err)
		}
		sni := host
		if tlsCfg != nil && tlsCfg.ServerName != "" {
			sni = tlsCfg.ServerName
		}

		var d net.Dialer
		rawConn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("utls dialer: dial %s: %w", addr, err)
		}

		uCfg := &utls.Config{
			ServerName:         sni,
			InsecureSkipVerify: tlsCfg != nil && tlsCfg.InsecureSkipVerify, // #nosec G402 -- caller-controlled
		}

		uConn := utls.UClient(rawConn, uCfg, helloID)

		spec := buildClientHelloSpec(helloID)
		if err := uConn.ApplyPreset(&spec); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("utls dialer: apply preset for %s: %w", helloID.Str(), err)
		}

		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = uConn.Close()
			return nil, fmt.Errorf("utls dialer: TLS handshake with %s: %w", addr, err)
		}

		return uConn, nil
	}
}

// UTLSDialerHTTP1 is identical to UTLSDialer but returns a function whose
// signature matches http.Transport.DialTLSContext, which does not receive
// a *tls.Config argument (the SNI is derived solely from the addr
// parameter). Use this when wiring uTLS into an http.Transport.
func UTLSDialerHTTP1(helloID utls.ClientHelloID) func(ctx context.Context, network, addr string) (net.Conn, error) {
	inner := UTLSDialer(helloID)
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return inner(ctx, network, addr, nil)
	}
}

// buildClientHelloSpec returns the ClientHelloSpec for the given helloID.
// For recognised Chrome IDs the spec comes verbatim from uTLS's parrot
// table; any other ID falls back to letting uTLS fill in the spec itself
// during the handshake.
func buildClientHelloSpec(helloID utls.ClientHelloID) utls.ClientHelloSpec {
	switch helloID {
	case utls.HelloChrome_120,
		utls.HelloChrome_120_PQ,
		utls.HelloChrome_131,
		utls.HelloChrome_Auto:
		spec, err := utls.UTLSIdToSpec(helloID)
		if err == nil {
			return spec
		}
	}
	return utls.ClientHelloSpec{}
}
