package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
)

const globMeta = "*?[{"

// DefaultCacheSize bounds the number of provider adapters kept alive.
const DefaultCacheSize = 64

// Factory builds an adapter for a connection.
type Factory func(conn adapter.Connection) (adapter.StreamingChatAdapter, error)

// Router picks the adapter for a connection. A connection naming a
// registered adapter wins, then model routes, then the provider factory.
// Factory-built adapters are cached per connection settings.
type Router struct {
	mu        sync.RWMutex
	adapters  map[string]adapter.StreamingChatAdapter
	routes    map[string]string // model pattern -> adapter name
	factories map[delta.Provider]Factory
	cache     *lru.Cache[string, adapter.StreamingChatAdapter]
}

// New creates a new Router instance.
func New(cacheSize int) (*Router, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, adapter.StreamingChatAdapter](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("router: create cache: %w", err)
	}
	return &Router{
		adapters:  make(map[string]adapter.StreamingChatAdapter),
		routes:    make(map[string]string),
		factories: make(map[delta.Provider]Factory),
		cache:     cache,
	}, nil
}

// RegisterAdapter registers an adapter with a name.
func (r *Router) RegisterAdapter(name string, a adapter.StreamingChatAdapter) error {
	if name == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	if a == nil {
		return errors.New("router: adapter cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(name)] = a
	return nil
}

// RegisterFactory installs the builder used for connections of provider p.
func (r *Router) RegisterFactory(p delta.Provider, f Factory) error {
	if p == "" {
		return errors.New("router: provider cannot be empty")
	}
	if f == nil {
		return errors.New("router: factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
	return nil
}

// RegisterRoute registers a model pattern to adapter mapping.
// Model patterns support:
// - Exact match: "gpt-4"
// - Prefix match: "gpt-*"
// - Suffix match: "*-turbo"
// - Contains match: "*3.5*"
// - Other globs: "gpt-*-mini", "llama3.?", "{o1,o3}-*"
func (r *Router) RegisterRoute(modelPattern, adapterName string) error {
	if modelPattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}
	if adapterName == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	if !doublestar.ValidatePattern(strings.ToLower(modelPattern)) {
		return fmt.Errorf("router: invalid model pattern %q", modelPattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(adapterName)
	if _, exists := r.adapters[name]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	r.routes[strings.ToLower(modelPattern)] = name
	return nil
}

// Resolve returns the adapter that should serve model on conn.
func (r *Router) Resolve(conn adapter.Connection, model string) (adapter.StreamingChatAdapter, error) {
	r.mu.RLock()
	if conn.Adapter != "" {
		a, ok := r.adapters[strings.ToLower(conn.Adapter)]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("router: adapter %q not registered", conn.Adapter)
		}
		return a, nil
	}
	if name, ok := r.findRoute(model); ok {
		a := r.adapters[name]
		r.mu.RUnlock()
		return a, nil
	}
	factory, ok := r.factories[conn.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("router: no adapter for provider %q", conn.Provider)
	}

	key := cacheKey(conn)
	if a, ok := r.cache.Get(key); ok {
		return a, nil
	}
	a, err := factory(conn)
	if err != nil {
		return nil, fmt.Errorf("router: build %s adapter for %q: %w", conn.Provider, conn.ID, err)
	}
	r.cache.Add(key, a)
	return a, nil
}

// ListModels resolves conn and asks its adapter for the upstream model list.
func (r *Router) ListModels(ctx context.Context, conn adapter.Connection) ([]adapter.Model, error) {
	a, err := r.Resolve(conn, "")
	if err != nil {
		return nil, err
	}
	lister, ok := a.(adapter.ModelLister)
	if !ok {
		return nil, fmt.Errorf("router: adapter for %q cannot list models", conn.ID)
	}
	return lister.ListModels(ctx)
}

// CachedAdapters reports how many factory-built adapters are cached.
func (r *Router) CachedAdapters() int {
	return r.cache.Len()
}

// findRoute must be called with r.mu held.
func (r *Router) findRoute(model string) (string, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return "", false
	}
	if name, exists := r.routes[model]; exists {
		return name, true
	}
	// Longest pattern first so overlapping wildcards resolve deterministically.
	patterns := make([]string, 0, len(r.routes))
	for p := range r.routes {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	for _, p := range patterns {
		if matchPattern(model, p) {
			return r.routes[p], true
		}
	}
	return "", false
}

// matchPattern checks if a model matches a pattern. Exact, "prefix*",
// "*suffix" and "*contains*" are matched literally; anything else
// ("gpt-*-mini", "llama3.?", "{o1,o3}-*") is a glob.
func matchPattern(model, pattern string) bool {
	model = strings.ToLower(model)
	pattern = strings.ToLower(pattern)

	if model == pattern {
		return true
	}
	if !strings.ContainsAny(pattern, globMeta) {
		return false
	}
	core := strings.Trim(pattern, "*")
	if !strings.ContainsAny(core, globMeta) {
		switch {
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
			return strings.Contains(model, core)
		case strings.HasSuffix(pattern, "*"):
			return strings.HasPrefix(model, core)
		case strings.HasPrefix(pattern, "*"):
			return strings.HasSuffix(model, core)
		}
	}
	ok, err := doublestar.Match(pattern, model)
	return err == nil && ok
}

// ListAdapters returns all registered adapter names, sorted.
func (r *Router) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns all registered routes.
func (r *Router) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[string]string, len(r.routes))
	for pattern, name := range r.routes {
		routes[pattern] = name
	}
	return routes
}

func cacheKey(conn adapter.Connection) string {
	var b strings.Builder
	b.WriteString(string(conn.Provider))
	b.WriteByte(0)
	b.WriteString(conn.BaseURL)
	b.WriteByte(0)
	b.WriteString(conn.APIKey)
	keys := make([]string, 0, len(conn.Headers))
	for k := range conn.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(conn.Headers[k])
	}
	return b.String()
}
