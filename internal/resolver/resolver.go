package resolver

import (
	"strings"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/connections"
	"github.com/tokligence/chatstream/internal/messagestore"
	"github.com/tokligence/chatstream/internal/session"
)

// Defaults are the configured fallbacks for a send.
type Defaults struct {
	Connection   string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// DefaultsFromConfig extracts send defaults from the loaded config.
func DefaultsFromConfig(cfg config.Config) Defaults {
	return Defaults{
		Connection:   cfg.DefaultConnection,
		Model:        cfg.DefaultModel,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
}

// Overrides are per-request choices that win over connection and config
// defaults. Nil pointers and empty strings mean "not set".
type Overrides struct {
	ConnectionID    string   `json:"connection_id,omitempty"`
	Model           string   `json:"model,omitempty"`
	SystemPrompt    *string  `json:"system_prompt,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxTokens       *int     `json:"max_tokens,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
}

// Resolver turns a conversation plus overrides into a session.Context.
type Resolver struct {
	catalog  *connections.Catalog
	defaults Defaults
}

// New returns a resolver over catalog.
func New(catalog *connections.Catalog, defaults Defaults) *Resolver {
	return &Resolver{catalog: catalog, defaults: defaults}
}

// Catalog exposes the connection catalog the resolver reads from.
func (r *Resolver) Catalog() *connections.Catalog { return r.catalog }

// Resolve builds the send context. An unknown connection id is reported as
// a precondition failure; other missing fields are left for the engine's
// own validation.
func (r *Resolver) Resolve(o Overrides, history []messagestore.Message) (session.Context, error) {
	connID := firstNonEmpty(o.ConnectionID, r.defaults.Connection)
	var conn connections.Connection
	if connID != "" {
		var ok bool
		conn, ok = r.catalog.Get(connID)
		if !ok {
			return session.Context{}, &session.PreconditionError{Field: "connection", Reason: "unknown id " + connID}
		}
	}
	ac := conn.Adapter()

	ctx := session.Context{
		ConnectionID:    conn.ID,
		Provider:        ac.Provider,
		Adapter:         ac.Adapter,
		EndpointURL:     ac.BaseURL,
		APIKey:          ac.APIKey,
		Headers:         ac.Headers,
		Model:           firstNonEmpty(o.Model, conn.DefaultModel, r.defaults.Model),
		SystemMessage:   r.defaults.SystemPrompt,
		History:         HistoryMessages(history),
		ReasoningEffort: o.ReasoningEffort,
	}
	if o.SystemPrompt != nil {
		ctx.SystemMessage = *o.SystemPrompt
	}
	temp := r.defaults.Temperature
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	ctx.Temperature = &temp
	if o.MaxTokens != nil {
		ctx.MaxTokens = o.MaxTokens
	} else if r.defaults.MaxTokens > 0 {
		limit := r.defaults.MaxTokens
		ctx.MaxTokens = &limit
	}
	return ctx, nil
}

// HistoryMessages converts stored messages into upstream history. Assistant
// placeholders still streaming and empty failed replies are skipped.
func HistoryMessages(msgs []messagestore.Message) []adapter.Message {
	out := make([]adapter.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == messagestore.RoleAssistant {
			if m.Status == messagestore.StatusStreaming || strings.TrimSpace(m.Content) == "" {
				continue
			}
		}
		out = append(out, adapter.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
