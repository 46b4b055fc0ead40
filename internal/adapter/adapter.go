package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/tokligence/chatstream/internal/delta"
)

// Message is one turn of the ordered conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a fully resolved completion request.
type Request struct {
	Model           string
	Messages        []Message
	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort string
}

// Validate rejects requests no provider could serve.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("model required")
	}
	if len(r.Messages) == 0 {
		return errors.New("no messages provided")
	}
	return nil
}

// Result is the aggregate of a completed stream.
type Result struct {
	Model        string
	Content      string
	Reasoning    string
	FinishReason string
	Usage        *delta.Usage
	// SkippedFrames counts frames dropped as malformed.
	SkippedFrames int
}

// DeltaFunc receives every non-empty delta synchronously and in stream order.
type DeltaFunc func(delta.Delta)

// StreamingChatAdapter streams a chat completion. Cancelling ctx is the
// cooperative stop signal; errors are always *TransportError.
type StreamingChatAdapter interface {
	StreamCompletion(ctx context.Context, req Request, onDelta DeltaFunc) (Result, error)
}

// ChatCompleter is implemented by adapters that also support one-shot completions.
type ChatCompleter interface {
	CreateCompletion(ctx context.Context, req Request) (Result, error)
}

// Model is an entry returned by ModelLister.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelLister is implemented by adapters that can enumerate upstream models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

// Connection describes the upstream an adapter talks to.
type Connection struct {
	ID       string
	Provider delta.Provider
	// Adapter optionally names a registered adapter (e.g. "loopback") that
	// takes precedence over the provider factory.
	Adapter string
	BaseURL string
	APIKey  string
	Headers map[string]string
}
