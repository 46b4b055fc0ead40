package metrics

import (
	"sync"
	"time"

	"github.com/tokligence/chatstream/internal/session"
)

// Collector collects counters exported in Prometheus text format.
type Collector struct {
	mu sync.RWMutex

	// HTTP metrics, keyed by route pattern
	totalRequests      map[string]int64
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64
	requestsInProgress map[string]int64

	// Session outcomes
	sessionsByStatus map[string]int64
	incomplete       int64
	reconciled       int64

	// Token usage
	totalPromptTokens     int64
	totalCompletionTokens int64
	tokensByModel         map[string]int64

	// Per-connection attempts
	connectionSessions map[string]int64
	connectionErrors   map[string]int64
	connectionLatency  map[string]int64 // total ms

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		sessionsByStatus:   make(map[string]int64),
		tokensByModel:      make(map[string]int64),
		connectionSessions: make(map[string]int64),
		connectionErrors:   make(map[string]int64),
		connectionLatency:  make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a finished HTTP request to route.
func (c *Collector) RecordRequest(route string, duration time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[route]++
	c.totalRequestsDur[route] += duration.Milliseconds()
	if status >= 500 {
		c.requestErrors[route]++
	}
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[route]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[route]--
}

// RecordOutcome records a terminal session.
func (c *Collector) RecordOutcome(out session.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionsByStatus[string(out.Status)]++
	if out.Incomplete {
		c.incomplete++
	}
	if out.Reconciled {
		c.reconciled++
	}
	if out.Usage != nil {
		prompt, completion := int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens)
		c.totalPromptTokens += prompt
		c.totalCompletionTokens += completion
		if out.Model != "" {
			c.tokensByModel[out.Model] += prompt + completion
		}
	}
	conn := out.ConnectionID
	if conn == "" {
		return
	}
	c.connectionSessions[conn]++
	c.connectionLatency[conn] += out.Duration.Milliseconds()
	if out.Status == session.StatusFailed {
		c.connectionErrors[conn]++
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	Uptime                int64
	TotalRequests         map[string]int64
	TotalRequestsDur      map[string]int64
	RequestErrors         map[string]int64
	RequestsInProgress    map[string]int64
	SessionsByStatus      map[string]int64
	Incomplete            int64
	Reconciled            int64
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TokensByModel         map[string]int64
	ConnectionSessions    map[string]int64
	ConnectionErrors      map[string]int64
	ConnectionLatency     map[string]int64
	ActiveStreams         int64
}

// GetSnapshot returns a snapshot of current metrics. ActiveStreams is left
// for the caller, which owns the registry.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:                int64(time.Since(c.startTime).Seconds()),
		TotalRequests:         copyMap(c.totalRequests),
		TotalRequestsDur:      copyMap(c.totalRequestsDur),
		RequestErrors:         copyMap(c.requestErrors),
		RequestsInProgress:    copyMap(c.requestsInProgress),
		SessionsByStatus:      copyMap(c.sessionsByStatus),
		Incomplete:            c.incomplete,
		Reconciled:            c.reconciled,
		TotalPromptTokens:     c.totalPromptTokens,
		TotalCompletionTokens: c.totalCompletionTokens,
		TokensByModel:         copyMap(c.tokensByModel),
		ConnectionSessions:    copyMap(c.connectionSessions),
		ConnectionErrors:      copyMap(c.connectionErrors),
		ConnectionLatency:     copyMap(c.connectionLatency),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
