package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.listenAddr != ":8000" {
		t.Fatalf("listenAddr = %q", cfg.listenAddr)
	}
	if cfg.rateRequests != 100 || cfg.rateWindow != time.Minute {
		t.Fatalf("rate = %d/%s, want 100/1m", cfg.rateRequests, cfg.rateWindow)
	}
	if cfg.rateIdleTTL != 0 {
		t.Fatalf("idle ttl should be off by default, got %s", cfg.rateIdleTTL)
	}
	if got := cfg.routes["providers"]; got != "http://provider-service:8004" {
		t.Fatalf("providers route = %q", got)
	}
	if len(cfg.routes) != 6 {
		t.Fatalf("routes = %v", cfg.routes)
	}
	if cfg.proxyTimeout != 30*time.Second {
		t.Fatalf("proxyTimeout = %s", cfg.proxyTimeout)
	}
	if cfg.concurrencyTimeout != 100*time.Millisecond {
		t.Fatalf("a full pool must answer 503 quickly, got concurrencyTimeout = %s", cfg.concurrencyTimeout)
	}
}

func TestReadConfig_Overrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10")
	t.Setenv("PATIENT_SERVICE_URL", "http://localhost:9003")
	t.Setenv("WS_ALLOWED_ORIGINS", "ui.local, *.example.com ,")
	t.Setenv("LOG_FORMAT", "CONSOLE")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.rateRequests != 5 || cfg.rateWindow != 10*time.Second {
		t.Fatalf("rate = %d/%s", cfg.rateRequests, cfg.rateWindow)
	}
	if cfg.routes["patients"] != "http://localhost:9003" {
		t.Fatalf("patients route = %q", cfg.routes["patients"])
	}
	if len(cfg.wsAllowedOrigins) != 2 || cfg.wsAllowedOrigins[1] != "*.example.com" {
		t.Fatalf("origins = %q", cfg.wsAllowedOrigins)
	}
	if cfg.logFormat != "console" {
		t.Fatalf("logFormat = %q", cfg.logFormat)
	}
}

func TestReadConfig_WindowAcceptsDuration(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW", "2m")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.rateWindow != 2*time.Minute {
		t.Fatalf("rateWindow = %s", cfg.rateWindow)
	}
}

func TestReadConfig_RoutesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	data := []byte("services:\n  billing: http://localhost:9005\n  labs: http://labs:8010\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROUTES_FILE", path)

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.routes["billing"] != "http://localhost:9005" {
		t.Fatalf("billing = %q", cfg.routes["billing"])
	}
	if cfg.routes["labs"] != "http://labs:8010" {
		t.Fatalf("labs = %q", cfg.routes["labs"])
	}
	if cfg.routes["auth"] != "http://auth-service:8001" {
		t.Fatalf("auth should keep its env default, got %q", cfg.routes["auth"])
	}
}

func TestReadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"zero requests":     {"RATE_LIMIT_REQUESTS": "0"},
		"negative window":   {"RATE_LIMIT_WINDOW": "-5"},
		"unknown algorithm": {"RATE_ALGORITHM": "leaky"},
		"unknown store":     {"RATE_STORE": "memcached"},
		"redis bucket":      {"RATE_STORE": "redis", "RATE_ALGORITHM": "token_bucket"},
		"stats store":       {"RATE_STATS_ENABLED": "true", "RATE_STATS_STORE": "disk"},
		"concurrency":       {"CONCURRENCY_MAX": "-1"},
		"concurrency wait":  {"CONCURRENCY_TIMEOUT": "-1s"},
		"log format":        {"LOG_FORMAT": "xml"},
		"missing file":      {"ROUTES_FILE": "/does/not/exist.yaml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := readConfig(); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := newLogger("debug", format)
		if err != nil {
			t.Fatalf("newLogger(%s): %v", format, err)
		}
		if !l.Core().Enabled(-1) {
			t.Fatalf("%s logger should enable debug", format)
		}
	}
}
