package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, root, setting, env string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	if env != "" {
		if err := os.WriteFile(filepath.Join(root, "config", "dev", "chatstream.ini"), []byte(env), 0o644); err != nil {
			t.Fatalf("write env config: %v", err)
		}
	}
}

func TestLoad(t *testing.T) {
	tmp := t.TempDir()
	setting := "environment=dev\nlog_file=/tmp/base.log\nlog_level=debug\ndefault_model=llama3\ntemperature=0.2\n"
	content := strings.Join([]string{
		"[server]",
		"listen_addr=:9191",
		"log_file=/tmp/env.log",
		"ledger_path=/tmp/custom-ledger.db",
		"# comment",
		"stream_enabled=false",
		"throttle_interval=250ms",
		"routes=echo-*=>loopback, test-model=loopback",
	}, "\n")
	writeConfig(t, tmp, setting, content)
	t.Setenv("CHATSTREAM_DEFAULT_CONNECTION", "local-ollama")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9191" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.LogFile != "/tmp/env.log" {
		t.Fatalf("env file should override base log file, got %s", cfg.LogFile)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.DefaultModel != "llama3" {
		t.Fatalf("unexpected default model %s", cfg.DefaultModel)
	}
	if cfg.DefaultConnection != "local-ollama" {
		t.Fatalf("environment override ignored, got %s", cfg.DefaultConnection)
	}
	if cfg.Temperature != 0.2 {
		t.Fatalf("unexpected temperature %v", cfg.Temperature)
	}
	if cfg.StreamEnabled {
		t.Fatalf("expected streaming disabled")
	}
	if cfg.ThrottleInterval != 250*time.Millisecond {
		t.Fatalf("unexpected throttle interval %s", cfg.ThrottleInterval)
	}
	if cfg.ThrottleQuiet != 30*time.Millisecond {
		t.Fatalf("unexpected throttle quiet %s", cfg.ThrottleQuiet)
	}
	if len(cfg.Routes) != 2 || cfg.Routes[0].Pattern != "echo-*" || cfg.Routes[1].Target != "loopback" {
		t.Fatalf("unexpected routes %+v", cfg.Routes)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if !cfg.StreamEnabled {
		t.Fatalf("streaming should default to enabled")
	}
	if cfg.Temperature != 0.7 {
		t.Fatalf("unexpected default temperature %v", cfg.Temperature)
	}
	if cfg.LedgerBackend != "sqlite" || !cfg.LedgerAsync {
		t.Fatalf("unexpected ledger defaults %s async=%v", cfg.LedgerBackend, cfg.LedgerAsync)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Fatalf("unexpected request timeout %s", cfg.RequestTimeout)
	}
	if cfg.HistoryLimit != 50 {
		t.Fatalf("unexpected history limit %d", cfg.HistoryLimit)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		wantErr string
	}{
		{"bad temperature", "temperature=hot", "invalid temperature"},
		{"temperature range", "temperature=3", "out of range"},
		{"bad duration", "request_timeout=forever", "invalid request_timeout"},
		{"postgres without dsn", "ledger_backend=postgres", "ledger_dsn required"},
		{"unknown backend", "ledger_backend=mysql", "unknown ledger_backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			writeConfig(t, tmp, "environment=dev\n", tt.env)
			_, err := Load(tmp)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentOverride(t *testing.T) {
	tmp := t.TempDir()
	writeConfig(t, tmp, "environment=dev\n", "listen_addr=:1\n")
	if err := os.MkdirAll(filepath.Join(tmp, "config", "test"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "test", "chatstream.ini"), []byte("listen_addr=:2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CHATSTREAM_ENV", "test")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "test" || cfg.ListenAddr != ":2" {
		t.Fatalf("unexpected config env=%s addr=%s", cfg.Environment, cfg.ListenAddr)
	}
}

func TestParseRouteList(t *testing.T) {
	rules := parseRouteList("a=>x; b = y ,bad, =z")
	if len(rules) != 2 {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if rules[0] != (RouteRule{Pattern: "a", Target: "x"}) || rules[1] != (RouteRule{Pattern: "b", Target: "y"}) {
		t.Fatalf("unexpected rules %+v", rules)
	}
}
