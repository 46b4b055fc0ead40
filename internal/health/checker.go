package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database or http
	CheckResult
}

// Pinger is satisfied by the ledger and message stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database names a store to ping.
type Database struct {
	Name string
	DB   Pinger
}

// Endpoint names an upstream base URL to probe.
type Endpoint struct {
	Name string
	URL  string
}

// Config holds health checker configuration.
type Config struct {
	Databases []Database
	Endpoints []Endpoint

	DBTimeout          time.Duration
	HTTPTimeout        time.Duration
	MaxDatabaseLatency time.Duration
	HTTPClient         *http.Client
}

// Checker performs health checks on system components.
type Checker struct {
	components []Component
	mu         sync.RWMutex

	databases []Database
	endpoints []Endpoint
	client    *http.Client

	dbTimeout          time.Duration
	maxDatabaseLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Checker{
		databases:          cfg.Databases,
		endpoints:          cfg.Endpoints,
		client:             client,
		dbTimeout:          cfg.DBTimeout,
		maxDatabaseLatency: cfg.MaxDatabaseLatency,
	}
}

// Check performs all health checks concurrently and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, len(c.databases)+len(c.endpoints))

	for _, db := range c.databases {
		if db.DB == nil {
			continue
		}
		wg.Add(1)
		go func(db Database) {
			defer wg.Done()
			results <- c.checkDatabase(ctx, db.Name, db.DB)
		}(db)
	}
	for _, ep := range c.endpoints {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, ep.Name, ep.URL)
		}(ep)
	}
	wg.Wait()
	close(results)

	components := make([]Component, 0, cap(results))
	for comp := range results {
		components = append(components, comp)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return c.calculateOverallStatus(components)
}

// checkDatabase checks database connectivity and latency.
func (c *Checker) checkDatabase(ctx context.Context, name string, db Pinger) Component {
	comp := Component{
		Name:        name,
		Type:        "database",
		CheckResult: CheckResult{Timestamp: time.Now()},
	}

	start := time.Now()
	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()
	err := db.Ping(dbCtx)
	comp.setLatency(time.Since(start))

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
		return comp
	}
	if comp.Latency > c.maxDatabaseLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	} else {
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// checkHTTPEndpoint checks if an upstream is reachable. Any HTTP response
// counts as reachable.
func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, baseURL string) Component {
	comp := Component{
		Name:        name,
		Type:        "http",
		CheckResult: CheckResult{Timestamp: time.Now()},
	}
	if baseURL == "" {
		comp.Status = StatusHealthy
		comp.Message = "Not configured"
		return comp
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.setLatency(time.Since(start))
		return comp
	}
	resp, err := c.client.Do(req)
	comp.setLatency(time.Since(start))
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

func (c *Component) setLatency(d time.Duration) {
	c.Latency = d
	c.LatencyMS = d.Milliseconds()
}

// calculateOverallStatus determines overall health based on component
// statuses. An unhealthy database makes the whole service unhealthy; an
// unreachable upstream only degrades it.
func (c *Checker) calculateOverallStatus(components []Component) HealthStatus {
	overall := StatusHealthy
	critical := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				critical = true
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	if critical {
		overall = StatusUnhealthy
	}
	return HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.components) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return c.calculateOverallStatus(c.components)
}
