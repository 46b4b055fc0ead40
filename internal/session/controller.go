package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
)

// Outcome is the terminal result of an attempt. It carries the ids callers
// need to update the right persisted record.
type Outcome struct {
	ConversationID string
	RequestID      string
	ConnectionID   string
	Model          string
	Status         Status
	Content        string
	Reasoning      string
	FinishReason   string
	Usage          *delta.Usage
	// Incomplete marks partial text kept from a cancelled or failed attempt.
	Incomplete bool
	// Reconciled is set when the transport's final text replaced the buffer.
	Reconciled bool
	Err        error
	StartedAt  time.Time
	Duration   time.Duration
}

// Controller owns one streaming attempt from start to terminal state.
type Controller struct {
	conversationID string
	requestID      string
	connectionID   string
	model          string
	registry       *Registry
	cancel         context.CancelFunc
	logger         *log.Logger
	startedAt      time.Time

	snapshots chan Snapshot
	dropped   atomic.Uint64
	done      chan struct{}
	throttle  *Throttle

	mu        sync.Mutex
	status    Status
	content   strings.Builder
	reasoning strings.Builder
	finish    string
	usage     *delta.Usage
	seq       uint64
	outcome   Outcome
}

// ConversationID returns the owning conversation.
func (c *Controller) ConversationID() string { return c.conversationID }

// RequestID returns the id of this attempt.
func (c *Controller) RequestID() string { return c.requestID }

// Snapshots delivers throttled cumulative snapshots. When the consumer lags
// the oldest queued snapshot is dropped. The channel is closed after the
// final snapshot, which is always delivered.
func (c *Controller) Snapshots() <-chan Snapshot { return c.snapshots }

// Done is closed once the attempt is terminal and deregistered.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Dropped reports how many snapshots were replaced before being read.
func (c *Controller) Dropped() uint64 { return c.dropped.Load() }

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Cancel stops this attempt. It returns immediately; the partial text is
// reported through the final snapshot and Wait.
func (c *Controller) Cancel() {
	c.registry.Finish(c.conversationID, c.requestID)
	c.cancel()
}

// Wait blocks until the attempt is terminal or ctx is done. The returned
// error is the outcome's error, if any.
func (c *Controller) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		out := c.outcome
		c.mu.Unlock()
		return out, out.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, a adapter.StreamingChatAdapter, req adapter.Request, nonStreaming bool) {
	defer func() {
		if r := recover(); r != nil {
			c.abort(fmt.Errorf("session: adapter panic: %v", r))
		}
		c.registry.Finish(c.conversationID, c.requestID)
		c.cancel()
		c.publishFinal()
		close(c.done)
	}()

	c.transition(StatusStreaming)

	if completer, ok := a.(adapter.ChatCompleter); ok && nonStreaming {
		res, err := completer.CreateCompletion(ctx, req)
		if err == nil {
			c.onDelta(delta.Delta{Content: res.Content, Reasoning: res.Reasoning, FinishReason: res.FinishReason, Usage: res.Usage})
		}
		c.complete(ctx, res, err)
		return
	}
	res, err := a.StreamCompletion(ctx, req, c.onDelta)
	c.complete(ctx, res, err)
}

func (c *Controller) onDelta(d delta.Delta) {
	c.mu.Lock()
	c.content.WriteString(d.Content)
	c.reasoning.WriteString(d.Reasoning)
	if d.FinishReason != "" {
		c.finish = d.FinishReason
	}
	if d.Usage != nil {
		c.usage = d.Usage
	}
	c.mu.Unlock()
	c.throttle.Notify()
}

func (c *Controller) complete(ctx context.Context, res adapter.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Outcome{
		ConversationID: c.conversationID,
		RequestID:      c.requestID,
		ConnectionID:   c.connectionID,
		Model:          firstNonEmpty(res.Model, c.model),
		Content:        c.content.String(),
		Reasoning:      c.reasoning.String(),
		FinishReason:   firstNonEmpty(res.FinishReason, c.finish),
		Usage:          c.usage,
		StartedAt:      c.startedAt,
		Duration:       time.Since(c.startedAt),
	}
	if res.Usage != nil {
		out.Usage = res.Usage
	}
	if res.SkippedFrames > 0 {
		c.logger.Printf("[DEBUG] session: skipped %d malformed frame(s) conversation=%s request=%s",
			res.SkippedFrames, c.conversationID, c.requestID)
	}

	switch {
	case err == nil:
		out.Status = StatusCompleted
		content := Reconcile(out.Content, res.Content)
		reasoning := Reconcile(out.Reasoning, res.Reasoning)
		if content.Mismatch || reasoning.Mismatch {
			c.logger.Printf("[WARN] session: reconcile mismatch conversation=%s request=%s buffer=%d final=%d; using transport text",
				c.conversationID, c.requestID, len(out.Content), len(res.Content))
			c.content.Reset()
			c.content.WriteString(content.Text)
			c.reasoning.Reset()
			c.reasoning.WriteString(reasoning.Text)
		}
		out.Content = content.Text
		out.Reasoning = reasoning.Text
		out.Reconciled = content.Mismatch || reasoning.Mismatch
	case errors.Is(err, adapter.ErrCancelled) || (ctx.Err() != nil && errors.Is(err, context.Canceled)):
		out.Status = StatusCancelled
		out.Incomplete = true
		out.Err = err
	default:
		out.Status = StatusFailed
		out.Incomplete = out.Content != "" || out.Reasoning != ""
		out.Err = err
	}

	c.setStatusLocked(out.Status)
	c.usage = out.Usage
	c.finish = out.FinishReason
	c.outcome = out
	c.logger.Printf("[INFO] session: %s conversation=%s request=%s chars=%d duration=%s",
		out.Status, c.conversationID, c.requestID, len(out.Content), out.Duration.Round(time.Millisecond))
}

// abort records a failure from the recovery path. It must not panic.
func (c *Controller) abort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Printf("[ERROR] session: conversation=%s request=%s: %v", c.conversationID, c.requestID, err)
	c.setStatusLocked(StatusFailed)
	c.outcome = Outcome{
		ConversationID: c.conversationID,
		RequestID:      c.requestID,
		ConnectionID:   c.connectionID,
		Model:          c.model,
		Status:         c.status,
		Content:        c.content.String(),
		Reasoning:      c.reasoning.String(),
		Incomplete:     c.content.Len() > 0,
		Err:            err,
		StartedAt:      c.startedAt,
		Duration:       time.Since(c.startedAt),
	}
}

func (c *Controller) transition(to Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(to)
}

func (c *Controller) setStatusLocked(to Status) {
	if !CanTransition(c.status, to) {
		c.logger.Printf("[DEBUG] session: %v", TransitionError{From: c.status, To: to})
		return
	}
	c.status = to
}

func (c *Controller) snapshotLocked(final bool) Snapshot {
	c.seq++
	s := Snapshot{
		ConversationID: c.conversationID,
		RequestID:      c.requestID,
		Seq:            c.seq,
		Status:         c.status,
		Content:        c.content.String(),
		Reasoning:      c.reasoning.String(),
		FinishReason:   c.finish,
		Usage:          c.usage,
		Final:          final,
		At:             time.Now(),
	}
	if final && c.outcome.Err != nil {
		s.Error = c.outcome.Err.Error()
	}
	return s
}

func (c *Controller) emit() {
	c.mu.Lock()
	s := c.snapshotLocked(false)
	c.mu.Unlock()
	c.publish(s)
}

func (c *Controller) publishFinal() {
	c.throttle.Stop()
	c.mu.Lock()
	s := c.snapshotLocked(true)
	c.mu.Unlock()
	c.publish(s)
	close(c.snapshots)
}

// publish never blocks: when the buffer is full the oldest snapshot gives
// way. Only one publish runs at a time.
func (c *Controller) publish(s Snapshot) {
	for {
		select {
		case c.snapshots <- s:
			return
		default:
		}
		select {
		case <-c.snapshots:
			c.dropped.Add(1)
		default:
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
