package config_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/wiretap-dev/wiretap/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.RingCapacity <= 0 {
		t.Errorf("RingCapacity should be > 0, got %d", cfg.RingCapacity)
	}
	if cfg.UpstreamTimeout <= 0 {
		t.Errorf("UpstreamTimeout should be > 0, got %v", cfg.UpstreamTimeout)
	}
	if cfg.BodyLimitBytes != 64*1024 {
		t.Errorf("BodyLimitBytes should default to 64KiB, got %d", cfg.BodyLimitBytes)
	}
	if cfg.MaxConnsPerHost <= 0 {
		t.Errorf("MaxConnsPerHost should be > 0, got %d", cfg.MaxConnsPerHost)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := map[string]interface{}{
		"proxy_addr":    "127.0.0.1:9999",
		"control_addr":  "127.0.0.1:9998",
		"mitm":          true,
		"ring_capacity": 5000,
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProxyAddr != "127.0.0.1:9999" {
		t.Errorf("got ProxyAddr=%q, want 127.0.0.1:9999", cfg.ProxyAddr)
	}
	if !cfg.MITM {
		t.Error("expected MITM=true")
	}
	if cfg.RingCapacity != 5000 {
		t.Errorf("got RingCapacity=%d, want 5000", cfg.RingCapacity)
	}
	// fields absent from the file should retain their defaults
	if cfg.BodyLimitBytes != 64*1024 {
		t.Errorf("got BodyLimitBytes=%d, want default 65536", cfg.BodyLimitBytes)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json}")
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}
