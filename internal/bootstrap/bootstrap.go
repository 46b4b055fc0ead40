package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/connections"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root        string
	Environment string
	ListenAddr  string
	LedgerPath  string
	// Provider, BaseURL and APIKeyEnv describe an optional upstream
	// connection written next to the loopback one.
	Provider     string
	BaseURL      string
	APIKeyEnv    string
	DefaultModel string
	Force        bool
}

// Init scaffolds config/setting.ini, config/<env>/chatstream.ini and
// config/connections.yaml.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "chatstream.ini")
	if err := writeFile(envPath, envTemplate(opts), opts.Force); err != nil {
		return err
	}

	catalog, err := catalogTemplate(opts)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(opts.Root, "config", "connections.yaml"), catalog, opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = ":8090"
	}
	if strings.TrimSpace(opts.LedgerPath) == "" {
		opts.LedgerPath = config.DefaultDataPath("ledger.db")
	}
	opts.Provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	if opts.Provider != "" && strings.TrimSpace(opts.APIKeyEnv) == "" && opts.Provider == "openai" {
		opts.APIKeyEnv = "OPENAI_API_KEY"
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# chatstream settings
environment=%s
log_level=info
`, opts.Environment)
}

func envTemplate(opts InitOptions) string {
	defaultConnection := connections.ProviderLoopback
	defaultModel := "echo-1"
	if opts.Provider != "" {
		defaultConnection = opts.Provider
		defaultModel = opts.DefaultModel
	}
	return fmt.Sprintf(`# Environment specific overrides for %s
listen_addr=%s
# Dash '-' or empty disables file output.
log_file=logs/chatstreamd.log
ledger_backend=sqlite
ledger_path=%s
ledger_async=true
default_connection=%s
default_model=%s
stream_enabled=true
temperature=0.7
history_limit=50
request_timeout=60s
throttle_interval=100ms
throttle_quiet=30ms
routes=echo-*=loopback
`, opts.Environment, opts.ListenAddr, opts.LedgerPath, defaultConnection, defaultModel)
}

func catalogTemplate(opts InitOptions) (string, error) {
	conns := []connections.Connection{{
		ID:           connections.ProviderLoopback,
		Name:         "Local echo",
		Provider:     connections.ProviderLoopback,
		DefaultModel: "echo-1",
	}}
	if opts.Provider != "" {
		c := connections.Connection{
			ID:           opts.Provider,
			Provider:     opts.Provider,
			BaseURL:      opts.BaseURL,
			DefaultModel: opts.DefaultModel,
		}
		if opts.APIKeyEnv != "" {
			c.APIKey = "${" + opts.APIKeyEnv + "}"
		}
		conns = append(conns, c)
	}
	if _, err := connections.New(conns); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(map[string]any{"connections": conns})
	if err != nil {
		return "", fmt.Errorf("bootstrap: encode connections: %w", err)
	}
	return "# Connection catalog. ${VAR} in api_key and headers expands from the environment.\n" + string(data), nil
}

// Validate ensures required fields are present without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if opts.Provider == "" {
		return nil
	}
	if opts.Provider == connections.ProviderLoopback {
		return errors.New("provider loopback is always configured")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base url is required with a provider")
	}
	if !strings.HasPrefix(opts.BaseURL, "http://") && !strings.HasPrefix(opts.BaseURL, "https://") {
		return errors.New("base url must start with http:// or https://")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return errors.New("default model is required with a provider")
	}
	return nil
}
