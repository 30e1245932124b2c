package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	x402 "github.com/becomeliminal/x402-gate"
)

const sampleConfig = `
server:
  listen: ":9000"
  upstream: "http://localhost:8080"
log:
  level: debug
skip_paths:
  - /healthz
locations:
  - path: /api/premium/*
    x402: on
    amount: "0.001"
    pay_to: "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
    facilitator_url: "https://facilitator.example.com/"
    network: base-sepolia
    description: Premium API
    timeout: 5
    ttl: 120
    facilitator_fallback: pass
    replay_ttl: 3600
  - path: /api/report
    x402: on
    amount: "$0.05"
    pay_to: "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
    facilitator_url: "https://facilitator.example.com"
    network_id: 137
    redis_url: "redis://cache:6379/1"
  - path: /api/free
    x402: off
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x402.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("X402_REDIS_URL", "redis://localhost:6379/0")

	f, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.Server.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %s", f.Server.Listen)
	}
	if f.Server.MetricsPath != "/metrics" {
		t.Errorf("expected default metrics path, got %s", f.Server.MetricsPath)
	}
	if f.Server.ShutdownTimeoutDuration() != 15*time.Second {
		t.Errorf("expected default shutdown timeout, got %s", f.Server.ShutdownTimeoutDuration())
	}
	if f.Log.Level != "debug" || f.Log.Format != "console" {
		t.Errorf("unexpected log config: %+v", f.Log)
	}
	if f.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("expected redis url from environment, got %q", f.Redis.URL)
	}
	if len(f.Locations) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(f.Locations))
	}

	gc, err := f.Locations[0].GateConfig(f.Redis.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gc.Enabled {
		t.Error("expected location to be enabled")
	}
	if gc.Timeout != 5*time.Second || gc.TTL != 120*time.Second || gc.ReplayTTL != time.Hour {
		t.Errorf("unexpected durations: timeout=%s ttl=%s replay=%s", gc.Timeout, gc.TTL, gc.ReplayTTL)
	}
	if gc.Fallback != x402.FallbackPass {
		t.Errorf("expected pass fallback, got %s", gc.Fallback)
	}
	if gc.StoreURL != "redis://localhost:6379/0" {
		t.Errorf("expected default store url, got %q", gc.StoreURL)
	}

	gc, _ = f.Locations[1].GateConfig(f.Redis.URL)
	if gc.StoreURL != "redis://cache:6379/1" {
		t.Errorf("expected location store url, got %q", gc.StoreURL)
	}
	if gc.NetworkID != 137 {
		t.Errorf("expected network id 137, got %d", gc.NetworkID)
	}

	urls := f.StoreURLs()
	if len(urls) != 2 {
		t.Errorf("expected 2 store urls, got %v", urls)
	}
}

func TestFile_Routes(t *testing.T) {
	f, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	routes, err := f.Routes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		path        string
		shouldMatch bool
		enabled     bool
		network     string
	}{
		{path: "/api/premium/data", shouldMatch: true, enabled: true, network: "eip155:84532"},
		{path: "/api/report", shouldMatch: true, enabled: true, network: "eip155:137"},
		{path: "/api/free", shouldMatch: true, enabled: false},
		{path: "/healthz", shouldMatch: false},
		{path: "/other", shouldMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cfg, ok := routes.Match(tt.path)
			if ok != tt.shouldMatch {
				t.Fatalf("expected match=%v, got %v", tt.shouldMatch, ok)
			}
			if !ok {
				return
			}
			if cfg.Enabled != tt.enabled {
				t.Errorf("expected enabled=%v, got %v", tt.enabled, cfg.Enabled)
			}
			if tt.network != "" && cfg.Network != tt.network {
				t.Errorf("expected network %s, got %s", tt.network, cfg.Network)
			}
		})
	}

	premium, _ := routes.Match("/api/premium/data")
	if premium.FacilitatorURL != "https://facilitator.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", premium.FacilitatorURL)
	}
	if premium.Asset != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Errorf("expected base-sepolia USDC, got %s", premium.Asset)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name: "missing pay_to",
			config: `
locations:
  - path: /paid
    x402: on
    amount: "0.01"
    facilitator_url: "https://f.example.com"
`,
		},
		{
			name: "bad switch",
			config: `
locations:
  - path: /paid
    x402: maybe
`,
		},
		{
			name: "bad fallback",
			config: `
locations:
  - path: /paid
    x402: off
    facilitator_fallback: retry
`,
		},
		{
			name: "timeout out of range",
			config: `
locations:
  - path: /paid
    x402: on
    amount: "0.01"
    pay_to: "0xABC"
    facilitator_url: "https://f.example.com"
    timeout: 301
`,
		},
		{
			name: "unsupported chain id",
			config: `
locations:
  - path: /paid
    x402: on
    amount: "0.01"
    pay_to: "0xABC"
    facilitator_url: "https://f.example.com"
    network_id: 1
`,
		},
		{
			name: "missing path",
			config: `
locations:
  - x402: off
`,
		},
		{
			name: "duplicate path",
			config: `
locations:
  - path: /a
  - path: /a
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, x402.ErrConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestLocation_AssetDecimals(t *testing.T) {
	f, err := Load(writeConfig(t, `
locations:
  - path: /points
    x402: on
    amount: "5"
    pay_to: "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
    facilitator_url: "https://facilitator.example.com"
    asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
    asset_decimals: 0
  - path: /usdc
    x402: on
    amount: "0.001"
    pay_to: "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
    facilitator_url: "https://facilitator.example.com"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gc, err := f.Locations[0].GateConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gc.AssetDecimals == nil || *gc.AssetDecimals != 0 {
		t.Errorf("expected explicit zero decimals, got %v", gc.AssetDecimals)
	}
	if got := gc.WithDefaults(); *got.AssetDecimals != 0 {
		t.Errorf("expected zero decimals to survive defaults, got %d", *got.AssetDecimals)
	}

	gc, _ = f.Locations[1].GateConfig("")
	if gc.AssetDecimals != nil {
		t.Errorf("expected unset decimals, got %d", *gc.AssetDecimals)
	}
	if got := gc.WithDefaults(); *got.AssetDecimals != x402.DefaultAssetDecimals {
		t.Errorf("expected default decimals, got %d", *got.AssetDecimals)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, x402.ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}
