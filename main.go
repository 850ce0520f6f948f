// wiretap is a local HTTP(S) intercepting capture/analysis proxy.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults), then apply environment
//     overrides.
//  2. Initialise the logger, metrics, and the in-memory capture ring.
//  3. Initialise the on-disk session store and its worker pool.
//  4. Build the upstream transport and per-host connection pool.
//  5. Start the forward-proxy/CONNECT listener (PROXY_PORT), and, if MITM
//     is enabled, load the local CA and route CONNECT through TLS
//     termination instead of opaque tunneling.
//  6. Start the control/observer HTTP server (HTTP_PORT).
//  7. Block until SIGINT/SIGTERM, then shut down in reverse order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
	"github.com/wiretap-dev/wiretap/config"
	"github.com/wiretap-dev/wiretap/hostpool"
	"github.com/wiretap-dev/wiretap/logger"
	"github.com/wiretap-dev/wiretap/metrics"
	"github.com/wiretap-dev/wiretap/mitm"
	"github.com/wiretap-dev/wiretap/proxyhttp"
	"github.com/wiretap-dev/wiretap/redact"
	"github.com/wiretap-dev/wiretap/server"
	"github.com/wiretap-dev/wiretap/store"
	"github.com/wiretap-dev/wiretap/tunnel"
	"github.com/wiretap-dev/wiretap/upstream"
	"github.com/wiretap-dev/wiretap/worker"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	proxyAddr := flag.String("proxy-addr", "", "Override the intercepting proxy listen address")
	controlAddr := flag.String("control-addr", "", "Override the control/observer listen address")
	mitmFlag := flag.Bool("mitm", false, "Enable TLS interception on CONNECT via a locally issued CA")
	caDir := flag.String("ca-dir", "", "Override the MITM CA directory")
	sessionRoot := flag.String("session-root", "", "Override the session storage root directory")
	flag.Parse()

	log := logger.New(logger.LevelInfo)
	log.Info("wiretap starting up")

	cfg := loadConfig(*configFile, log)
	applyFlagsAndEnv(cfg, *proxyAddr, *controlAddr, *mitmFlag, *caDir, *sessionRoot)

	m := metrics.NewMetrics()
	ring := capture.NewRing(cfg.RingCapacity, cfg.SubscriberQueueDepth)

	wp := worker.NewWorkerPool(4)
	wp.Start()

	st := store.New(cfg.SessionRoot, wp, cfg.MetaFlushInterval, log)
	if err := st.Init(); err != nil {
		log.Errorf("session store init: %v", err)
		os.Exit(1)
	}
	if _, err := st.Start(""); err != nil {
		log.Errorf("start initial session: %v", err)
		os.Exit(1)
	}

	// emit is the single boundary every proxy handler funnels finished
	// LogRecords through: sanitize once here, then fan out to the ring
	// (synchronous, cheap, never blocks on a slow subscriber) and the
	// session store (dispatched onto the worker pool; Submit blocks the
	// calling proxy goroutine once the pool's job queue is full). Metrics
	// counters are incremented by each
	// handler's own observe() call, not here, so TotalCaptured is not
	// double-counted.
	emit := func(rec capture.LogRecord) {
		sanitized := redact.Record(rec)
		ring.Push(sanitized)
		wp.Submit(func() {
			if err := st.Append(sanitized); err != nil {
				log.Errorf("session append: %v", err)
			}
		})
	}

	transport, err := upstream.NewTransport(upstream.Config{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		// When MITM is enabled the client's original TLS handshake never
		// reaches the real origin; re-dialing with a parroted ClientHello
		// keeps the upstream leg's fingerprint consistent with what the
		// intercepted client would have sent itself.
		UseUTLS: cfg.MITM,
	})
	if err != nil {
		log.Errorf("build upstream transport: %v", err)
		os.Exit(1)
	}
	pool := hostpool.NewPool(cfg.MaxConnsPerHost)

	forward := proxyhttp.NewHandler(proxyhttp.Config{
		Transport: transport,
		Pool:      pool,
		Emit:      emit,
		Metrics:   m,
		Log:       log,
		Timeout:   cfg.UpstreamTimeout,
		BodyLimit: cfg.BodyLimitBytes,
	})

	proxyHandler, err := buildProxyListener(cfg, forward, emit, m, log)
	if err != nil {
		log.Errorf("build proxy listener: %v", err)
		os.Exit(1)
	}

	proxySrv := &http.Server{
		Addr:         cfg.ProxyAddr,
		Handler:      proxyHandler,
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Infof("proxy listening on %s (mitm=%v)", cfg.ProxyAddr, cfg.MITM)
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("proxy server: %v", err)
		}
	}()

	controlSrv := &http.Server{
		Addr:         cfg.ControlAddr,
		Handler:      server.New(ring, st, m, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Infof("control server listening on %s", cfg.ControlAddr)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("control server: %v", err)
		}
	}()

	// Print a summary line every 10 seconds, mirroring the teacher's
	// metrics-monitor ticker.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			snap := m.Snapshot()
			log.Infof("metrics - total: %d | success: %d | client_error: %d | server_error: %d | transport_error: %d | per_sec: %.1f",
				snap.TotalCaptured, snap.Success, snap.ClientError, snap.ServerError, snap.TransportError, snap.PerSecond)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)

	shutdown(cfg, log, proxySrv, controlSrv, wp, st)
}

// buildProxyListener returns the http.Handler bound to cfg.ProxyAddr: the
// plain-HTTP forward proxy for absolute-form requests, CONNECT routed
// either to the opaque TunnelProxy or, when MITM is enabled, to the
// TLS-terminating MitmProxy.
func buildProxyListener(cfg *config.Config, forward *proxyhttp.Handler, emit func(capture.LogRecord), m *metrics.Metrics, log *logger.Logger) (http.Handler, error) {
	var connectHandler http.Handler
	if cfg.MITM {
		ca, err := mitm.LoadOrCreateCA(cfg.CADir)
		if err != nil {
			return nil, fmt.Errorf("load MITM CA: %w", err)
		}
		log.Infof("MITM enabled; CA certificate at %s", ca.CertPath(cfg.CADir))
		connectHandler = mitm.NewHandler(mitm.Config{
			CA:      ca,
			Inner:   forward,
			Log:     log,
			Metrics: m,
			Timeout: cfg.UpstreamTimeout,
		})
	} else {
		connectHandler = tunnel.NewHandler(tunnel.Config{
			Emit:    emit,
			Metrics: m,
			Log:     log,
			Timeout: cfg.UpstreamTimeout,
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodConnect {
			connectHandler.ServeHTTP(w, r)
			return
		}
		forward.ServeHTTP(w, r)
	}), nil
}

func loadConfig(path string, log *logger.Logger) *config.Config {
	if path == "" {
		log.Info("using default configuration")
		return config.DefaultConfig()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Errorf("failed to load config from %q: %v", path, err)
		os.Exit(1)
	}
	log.Infof("configuration loaded from %q", path)
	return cfg
}

// applyFlagsAndEnv layers command-line flags, then environment variables,
// over the loaded config. Flags take precedence over file config; the
// documented PORT/MITM_PORT/PROXY_PORT/BODY_LIMIT environment variables
// take precedence over flags, matching how deployment tooling typically
// expects env vars to win.
func applyFlagsAndEnv(cfg *config.Config, proxyAddr, controlAddr string, mitmFlag bool, caDir, sessionRoot string) {
	if proxyAddr != "" {
		cfg.ProxyAddr = proxyAddr
	}
	if controlAddr != "" {
		cfg.ControlAddr = controlAddr
	}
	if mitmFlag {
		cfg.MITM = true
	}
	if caDir != "" {
		cfg.CADir = caDir
	}
	if sessionRoot != "" {
		cfg.SessionRoot = sessionRoot
	}

	if v := os.Getenv("PROXY_PORT"); v != "" {
		cfg.ProxyAddr = withPort(cfg.ProxyAddr, v)
	}
	if v := os.Getenv("MITM_PORT"); v != "" {
		cfg.ProxyAddr = withPort(cfg.ProxyAddr, v)
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.ControlAddr = withPort(cfg.ControlAddr, v)
	}
	if v := os.Getenv("MITM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MITM = b
		}
	}
	if v := os.Getenv("BODY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BodyLimitBytes = n
		}
	}
}

// withPort replaces the port component of a "host:port" address with port,
// keeping the configured host (loopback by default).
func withPort(addr, port string) string {
	host, _, err := splitHostPort(addr)
	if err != nil {
		return "127.0.0.1:" + port
	}
	return host + ":" + port
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("main: %q has no port", addr)
}

// shutdown stops accepting new connections, waits up to cfg.ShutdownGrace
// for in-flight exchanges to drain, flushes and closes the current
// session, and stops the worker pool.
func shutdown(cfg *config.Config, log *logger.Logger, proxySrv, controlSrv *http.Server, wp *worker.WorkerPool, st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := proxySrv.Shutdown(ctx); err != nil {
		log.Errorf("proxy server shutdown: %v", err)
	}
	if err := controlSrv.Shutdown(ctx); err != nil {
		log.Errorf("control server shutdown: %v", err)
	}

	if _, err := st.Stop(); err != nil {
		log.Errorf("stop current session: %v", err)
	}
	st.Close()
	wp.Stop()

	log.Info("wiretap shut down cleanly")
}
