package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/connections"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:       tmp,
		LedgerPath: filepath.Join(tmp, "ledger.db"),
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if !strings.Contains(string(settingBytes), "environment=dev") {
		t.Fatalf("missing environment: %s", settingBytes)
	}

	envBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "chatstream.ini"))
	if err != nil {
		t.Fatalf("read env config: %v", err)
	}
	if !strings.Contains(string(envBytes), "default_connection=loopback") {
		t.Fatalf("missing default connection: %s", envBytes)
	}

	catalog, err := connections.Load(filepath.Join(tmp, "config", "connections.yaml"))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if catalog.Len() != 1 {
		t.Fatalf("expected loopback only, got %d connections", catalog.Len())
	}
}

func TestInitConfigLoads(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:         tmp,
		LedgerPath:   filepath.Join(tmp, "ledger.db"),
		Provider:     "openai",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.Load(tmp)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if cfg.DefaultConnection != "openai" || cfg.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Target != "loopback" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	catalog, err := connections.Load(cfg.ConnectionsFile)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	conn, ok := catalog.Get("openai")
	if !ok {
		t.Fatalf("openai connection missing")
	}
	if conn.APIKey != "sk-test" {
		t.Fatalf("api key not expanded: %q", conn.APIKey)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp, LedgerPath: filepath.Join(tmp, "ledger.db")}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []InitOptions{
		{Provider: "openai", DefaultModel: "m"},
		{Provider: "openai", BaseURL: "api.openai.com", DefaultModel: "m"},
		{Provider: "ollama", BaseURL: "http://localhost:11434"},
		{Provider: "loopback"},
	}
	for _, opts := range cases {
		if err := Validate(opts); err == nil {
			t.Fatalf("expected error for %+v", opts)
		}
	}
	if err := Validate(InitOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(InitOptions{Provider: "ollama", BaseURL: "http://localhost:11434", DefaultModel: "llama3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
