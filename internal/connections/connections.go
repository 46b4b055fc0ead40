package connections

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/adapter/loopback"
	"github.com/tokligence/chatstream/internal/delta"
)

// ProviderLoopback selects the in-process loopback adapter.
const ProviderLoopback = "loopback"

// Connection is one configured LLM endpoint.
type Connection struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Provider     string            `yaml:"provider" json:"provider"`
	BaseURL      string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey       string            `yaml:"api_key,omitempty" json:"-"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"-"`
	DefaultModel string            `yaml:"default_model,omitempty" json:"default_model,omitempty"`
	Models       []string          `yaml:"models,omitempty" json:"models,omitempty"`
}

// HasAPIKey reports whether a key is configured, for listings that must not
// expose it.
func (c Connection) HasAPIKey() bool { return c.APIKey != "" }

// Adapter returns the adapter connection for c.
func (c Connection) Adapter() adapter.Connection {
	conn := adapter.Connection{
		ID:      c.ID,
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Headers: c.Headers,
	}
	if strings.EqualFold(c.Provider, ProviderLoopback) {
		conn.Provider = delta.ProviderOpenAI
		conn.Adapter = loopback.Name
		return conn
	}
	conn.Provider = delta.Provider(strings.ToLower(c.Provider))
	return conn
}

// Catalog is the set of configured connections, keyed by id.
type Catalog struct {
	connections []Connection
	byID        map[string]int
}

type catalogFile struct {
	Connections []Connection `yaml:"connections"`
}

// Load reads a YAML catalog. A missing file yields an empty catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connections: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog and expands ${VAR} references in api keys
// and header values.
func Parse(data []byte) (*Catalog, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("connections: parse: %w", err)
	}
	for i := range file.Connections {
		c := &file.Connections[i]
		c.APIKey = expandEnv(c.APIKey)
		for k, v := range c.Headers {
			c.Headers[k] = expandEnv(v)
		}
	}
	return New(file.Connections)
}

// New validates conns and builds a catalog.
func New(conns []Connection) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(conns))}
	for _, conn := range conns {
		conn.ID = strings.TrimSpace(conn.ID)
		if err := validate(conn); err != nil {
			return nil, err
		}
		if _, dup := c.byID[conn.ID]; dup {
			return nil, fmt.Errorf("connections: duplicate id %q", conn.ID)
		}
		c.byID[conn.ID] = len(c.connections)
		c.connections = append(c.connections, conn)
	}
	return c, nil
}

func validate(c Connection) error {
	if c.ID == "" {
		return errors.New("connections: id required")
	}
	if strings.EqualFold(c.Provider, ProviderLoopback) {
		return nil
	}
	if _, err := delta.ParseProvider(c.Provider); err != nil {
		return fmt.Errorf("connections: %s: %w", c.ID, err)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("connections: %s: base_url required", c.ID)
	}
	return nil
}

// Get returns the connection with the given id.
func (c *Catalog) Get(id string) (Connection, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Connection{}, false
	}
	return c.connections[i], true
}

// List returns connections sorted by id.
func (c *Catalog) List() []Connection {
	out := append([]Connection(nil), c.connections...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of connections.
func (c *Catalog) Len() int { return len(c.connections) }

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the variable's value; bare $ is left alone.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}
