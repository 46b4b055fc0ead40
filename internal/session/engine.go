package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/chatstream/internal/adapter"
)

// DefaultSnapshotBuffer is the capacity of each controller's snapshot channel.
const DefaultSnapshotBuffer = 16

// AdapterResolver picks the adapter serving model on a connection.
type AdapterResolver interface {
	Resolve(conn adapter.Connection, model string) (adapter.StreamingChatAdapter, error)
}

// Options tunes an Engine. Zero values take the defaults.
type Options struct {
	ThrottleInterval time.Duration
	ThrottleQuiet    time.Duration
	SnapshotBuffer   int
	Logger           *log.Logger
}

// Request starts one attempt.
type Request struct {
	ConversationID string
	// RequestID is generated when empty.
	RequestID string
	Context   Context
	// NonStreaming asks for a single completion call when the adapter
	// supports it; the result is delivered as one delta.
	NonStreaming bool
}

// Engine starts attempts and enforces one active attempt per conversation.
type Engine struct {
	registry *Registry
	resolver AdapterResolver
	opts     Options
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewEngine returns an engine resolving adapters through resolver.
func NewEngine(resolver AdapterResolver, opts Options) *Engine {
	if opts.SnapshotBuffer <= 0 {
		opts.SnapshotBuffer = DefaultSnapshotBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		registry: NewRegistry(),
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

// Registry exposes the engine's registry for stale-snapshot checks.
func (e *Engine) Registry() *Registry { return e.registry }

// Start validates req, claims the conversation and launches the attempt.
// ctx bounds the attempt's lifetime.
func (e *Engine) Start(ctx context.Context, req Request) (*Controller, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, &PreconditionError{Field: "conversation", Reason: "is required"}
	}
	if err := req.Context.Validate(); err != nil {
		return nil, err
	}
	// A busy conversation is refused before the connection is resolved.
	// TryStart below still settles races between concurrent starts.
	if _, busy := e.registry.Active(req.ConversationID); busy {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStreaming, req.ConversationID)
	}
	a, err := e.resolver.Resolve(req.Context.Connection(), req.Context.Model)
	if err != nil {
		return nil, &PreconditionError{Field: "connection", Reason: err.Error()}
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(ctx)
	if !e.registry.TryStart(req.ConversationID, requestID, cancel) {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStreaming, req.ConversationID)
	}

	c := &Controller{
		conversationID: req.ConversationID,
		requestID:      requestID,
		connectionID:   req.Context.ConnectionID,
		model:          req.Context.Model,
		registry:       e.registry,
		cancel:         cancel,
		logger:         e.logger,
		startedAt:      time.Now(),
		snapshots:      make(chan Snapshot, e.opts.SnapshotBuffer),
		done:           make(chan struct{}),
		status:         StatusPending,
	}
	c.throttle = NewThrottle(e.opts.ThrottleInterval, e.opts.ThrottleQuiet, c.emit)

	e.logger.Printf("[INFO] session: start conversation=%s request=%s model=%s connection=%s",
		req.ConversationID, requestID, req.Context.Model, req.Context.ConnectionID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		c.run(runCtx, a, req.Context.AdapterRequest(), req.NonStreaming)
	}()
	return c, nil
}

// Send starts an attempt and waits for its outcome, discarding snapshots.
func (e *Engine) Send(ctx context.Context, req Request) (Outcome, error) {
	c, err := e.Start(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	go func() {
		for range c.Snapshots() {
		}
	}()
	return c.Wait(context.WithoutCancel(ctx))
}

// Cancel stops the active attempt of conversationID, if any.
func (e *Engine) Cancel(conversationID string) bool {
	ok := e.registry.Cancel(conversationID)
	if ok {
		e.logger.Printf("[INFO] session: cancel requested conversation=%s", conversationID)
	}
	return ok
}

// Active returns the request id currently streaming for conversationID.
func (e *Engine) Active(conversationID string) (string, bool) {
	return e.registry.Active(conversationID)
}

// Shutdown cancels every attempt and waits for them to unwind or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	if n := e.registry.CancelAll(); n > 0 {
		e.logger.Printf("[INFO] session: shutdown cancelled %d active stream(s)", n)
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
