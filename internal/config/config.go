package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatstream.ini"
	envPrefix        = "CHATSTREAM_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the daemon and the CLI.
type Config struct {
	Environment string
	ListenAddr  string
	LogFile     string
	LogLevel    string

	// Usage ledger
	LedgerBackend string // sqlite|postgres
	LedgerPath    string
	LedgerDSN     string
	LedgerAsync   bool

	MessageStorePath string

	// Connection catalog and send defaults
	ConnectionsFile   string
	DefaultConnection string
	DefaultModel      string
	SystemPrompt      string
	StreamEnabled     bool
	Temperature       float64
	MaxTokens         int
	HistoryLimit      int

	RequestTimeout   time.Duration
	ThrottleInterval time.Duration
	ThrottleQuiet    time.Duration
	AdapterCacheSize int
	// Routes maps model patterns to named adapters: "echo-*=loopback".
	Routes []RouteRule
}

// RouteRule captures an ordered pattern => target mapping while preserving declaration order.
type RouteRule struct {
	Pattern string
	Target  string
}

// Load reads config/setting.ini, the environment's chatstream.ini and
// CHATSTREAM_* environment overrides, in increasing precedence.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}
	if env := os.Getenv(envPrefix + "ENV"); env != "" {
		s.Environment = env
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string) string {
		return firstNonEmpty(os.Getenv(envPrefix+strings.ToUpper(key)), merged[key])
	}

	cfg := Config{
		Environment:       s.Environment,
		ListenAddr:        firstNonEmpty(get("listen_addr"), ":8090"),
		LogFile:           get("log_file"),
		LogLevel:          strings.ToLower(firstNonEmpty(get("log_level"), "info")),
		LedgerBackend:     strings.ToLower(firstNonEmpty(get("ledger_backend"), "sqlite")),
		LedgerPath:        firstNonEmpty(get("ledger_path"), DefaultDataPath("ledger.db")),
		LedgerDSN:         get("ledger_dsn"),
		LedgerAsync:       parseOptionalBool(get("ledger_async"), true),
		MessageStorePath:  firstNonEmpty(get("message_store_path"), DefaultDataPath("messages.db")),
		ConnectionsFile:   firstNonEmpty(get("connections_file"), filepath.Join(root, "config", "connections.yaml")),
		DefaultConnection: get("default_connection"),
		DefaultModel:      get("default_model"),
		SystemPrompt:      get("system_prompt"),
		StreamEnabled:     parseOptionalBool(get("stream_enabled"), true),
		MaxTokens:         parseOptionalInt(get("max_tokens"), 0),
		HistoryLimit:      parseOptionalInt(get("history_limit"), 50),
		AdapterCacheSize:  parseOptionalInt(get("adapter_cache_size"), 64),
		Routes:            parseRouteList(get("routes")),
	}

	cfg.Temperature = 0.7
	if v := get("temperature"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid temperature %q: %w", v, err)
		}
		cfg.Temperature = parsed
	}
	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"request_timeout", &cfg.RequestTimeout, 60 * time.Second},
		{"throttle_interval", &cfg.ThrottleInterval, 100 * time.Millisecond},
		{"throttle_quiet", &cfg.ThrottleQuiet, 30 * time.Millisecond},
	}
	for _, d := range durations {
		*d.dst = d.fallback
		if v := get(d.key); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s %q: %w", d.key, v, err)
			}
			*d.dst = dur
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c Config) Validate() error {
	switch c.LedgerBackend {
	case "sqlite":
	case "postgres":
		if c.LedgerDSN == "" {
			return errors.New("ledger_dsn required for postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger_backend %q", c.LedgerBackend)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens %d must not be negative", c.MaxTokens)
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseRouteList preserves ordering for pattern=>target rules (comma or
// semicolon separated; '=' or '=>').
func parseRouteList(input string) []RouteRule {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var rules []RouteRule
	for _, part := range strings.FieldsFunc(input, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		var kv []string
		if strings.Contains(entry, "=>") {
			kv = strings.SplitN(entry, "=>", 2)
		} else {
			kv = strings.SplitN(entry, "=", 2)
		}
		if len(kv) != 2 {
			continue
		}
		pattern := strings.TrimSpace(kv[0])
		target := strings.TrimSpace(kv[1])
		if pattern == "" || target == "" {
			continue
		}
		rules = append(rules, RouteRule{Pattern: pattern, Target: target})
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// DefaultDataPath returns name under ~/.chatstream, or name itself when the
// home directory is unknown.
func DefaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".chatstream", name)
}
