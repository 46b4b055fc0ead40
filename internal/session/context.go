package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
)

// ErrAlreadyStreaming is returned by Engine.Start when the conversation has
// an active attempt. Nothing is sent upstream.
var ErrAlreadyStreaming = errors.New("session: conversation already streaming")

// PreconditionError reports an incomplete send context. It is raised before
// any registry or upstream interaction.
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("session: precondition failed: %s %s", e.Field, e.Reason)
}

// Context is everything a send needs, resolved by the caller.
type Context struct {
	ConnectionID  string
	Provider      delta.Provider
	Adapter       string
	EndpointURL   string
	APIKey        string
	Headers       map[string]string
	Model         string
	SystemMessage string
	History       []adapter.Message

	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort string
}

// Validate checks the fields every send requires. A named adapter needs no
// endpoint.
func (c Context) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return &PreconditionError{Field: "model", Reason: "is required"}
	}
	if c.Adapter == "" {
		if c.Provider == "" {
			return &PreconditionError{Field: "provider", Reason: "is required"}
		}
		if strings.TrimSpace(c.EndpointURL) == "" {
			return &PreconditionError{Field: "endpoint", Reason: "is required"}
		}
	}
	if len(c.History) == 0 {
		return &PreconditionError{Field: "history", Reason: "is empty"}
	}
	return nil
}

// Connection returns the adapter connection described by c.
func (c Context) Connection() adapter.Connection {
	return adapter.Connection{
		ID:       c.ConnectionID,
		Provider: c.Provider,
		Adapter:  c.Adapter,
		BaseURL:  c.EndpointURL,
		APIKey:   c.APIKey,
		Headers:  c.Headers,
	}
}

// AdapterRequest builds the upstream request, prepending the system message
// unless the history already starts with one.
func (c Context) AdapterRequest() adapter.Request {
	msgs := make([]adapter.Message, 0, len(c.History)+1)
	if c.SystemMessage != "" && (len(c.History) == 0 || c.History[0].Role != "system") {
		msgs = append(msgs, adapter.Message{Role: "system", Content: c.SystemMessage})
	}
	msgs = append(msgs, c.History...)
	return adapter.Request{
		Model:           c.Model,
		Messages:        msgs,
		Temperature:     c.Temperature,
		MaxTokens:       c.MaxTokens,
		ReasoningEffort: c.ReasoningEffort,
	}
}
