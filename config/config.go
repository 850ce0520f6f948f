// Package config provides configuration management for wiretap. It supports
// JSON-based configuration loading with safe defaults for running the
// capture proxy and its control port locally.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all tunable parameters for the capture pipeline. The struct
// is designed to be loaded once at startup and then shared across
// goroutines as a read-only value, making it inherently thread-safe after
// initialization. Fields cover the proxy/control listeners, MITM, session
// storage, and upstream transport tuning.
type Config struct {
	// ProxyAddr is where the intercepting forward proxy listens: absolute-
	// form HTTP relay, CONNECT tunneling, and (when MITM is enabled)
	// TLS-terminated CONNECT.
	ProxyAddr string `json:"proxy_addr"`

	// ControlAddr is where the control/observer HTTP port listens
	// (/health, /api/logs, /events, /api/sessions*, /api/catalog/export).
	ControlAddr string `json:"control_addr"`

	// MITM enables TLS interception on CONNECT using a locally issued CA
	// instead of opaque byte tunneling.
	MITM bool `json:"mitm"`

	// CADir is the directory holding (or to be created for) the MITM root
	// CA key/cert pair.
	CADir string `json:"ca_dir"`

	// SessionRoot is the directory under which per-session subdirectories
	// (meta.json, logs.ndjson, report.json) are created.
	SessionRoot string `json:"session_root"`

	// RingCapacity bounds the in-memory most-recent-first log ring.
	RingCapacity int `json:"ring_capacity"`

	// SubscriberQueueDepth bounds each live /events subscriber's channel;
	// a slow subscriber has records dropped rather than stalling capture.
	SubscriberQueueDepth int `json:"subscriber_queue_depth"`

	// BodyLimitBytes caps how many body bytes are tee'd into a LogRecord.
	// Overridable via the BODY_LIMIT environment variable.
	BodyLimitBytes int `json:"body_limit_bytes"`

	// UpstreamTimeout bounds a single upstream request (15s default, then
	// 502 + teardown).
	UpstreamTimeout time.Duration `json:"upstream_timeout"`

	// MaxIdleConns is the total maximum number of idle (keep-alive)
	// connections across all upstream hosts.
	MaxIdleConns int `json:"max_idle_conns"`

	// MaxIdleConnsPerHost caps idle connections to a single upstream host.
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`

	// MaxConnsPerHost caps concurrent upstream connections (idle + active)
	// to a single host, preventing one noisy host from starving the rest.
	MaxConnsPerHost int `json:"max_conns_per_host"`

	// TLSHandshakeTimeout bounds the upstream TLS handshake.
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`

	// MetaFlushInterval bounds how often SessionStore batches meta.json
	// rewrites instead of rewriting on every append.
	MetaFlushInterval time.Duration `json:"meta_flush_interval"`

	// ShutdownGrace bounds how long the server waits for in-flight
	// exchanges to drain before tearing them down.
	ShutdownGrace time.Duration `json:"shutdown_grace"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a Config.
// It returns an error if the file cannot be opened or if the JSON is
// malformed. The file is decoded on top of DefaultConfig, so fields absent
// from the file keep their default values and the returned *Config is
// ready to use.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// DefaultConfig returns a *Config pre-filled with sensible local defaults.
// Callers are free to mutate the returned struct before passing it to other
// components; each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		ProxyAddr:            "127.0.0.1:8888",
		ControlAddr:          "127.0.0.1:8787",
		MITM:                 false,
		CADir:                "certs",
		SessionRoot:          "data/sessions",
		RingCapacity:         2000,
		SubscriberQueueDepth: 256,
		BodyLimitBytes:       64 * 1024,
		UpstreamTimeout:      15 * time.Second,
		MaxIdleConns:         500,
		MaxIdleConnsPerHost:  100,
		MaxConnsPerHost:      64,
		TLSHandshakeTimeout:  10 * time.Second,
		MetaFlushInterval:    2 * time.Second,
		ShutdownGrace:        5 * time.Second,
	}
}
