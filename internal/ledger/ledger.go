package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/session"
)

// Entry is the usage record written once per terminal session.
type Entry struct {
	ID               int64     `json:"id"`
	UUID             string    `json:"uuid"`
	ConversationID   string    `json:"conversation_id"`
	RequestID        string    `json:"request_id"`
	ConnectionID     string    `json:"connection_id,omitempty"`
	Model            string    `json:"model"`
	Status           string    `json:"status"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	DurationMS       int64     `json:"duration_ms"`
	Annotations      []string  `json:"annotations,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// TotalTokens is prompt plus completion tokens.
func (e Entry) TotalTokens() int64 {
	return e.PromptTokens + e.CompletionTokens
}

// Summary aggregates sessions by terminal status.
type Summary struct {
	Sessions         int64 `json:"sessions"`
	Completed        int64 `json:"completed"`
	Cancelled        int64 `json:"cancelled"`
	Failed           int64 `json:"failed"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the ledger. An empty
// conversationID selects every conversation.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, conversationID string) (Summary, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]Entry, error)
	Close() error
}

// DefaultListLimit applies when ListRecent is called with a non-positive limit.
const DefaultListLimit = 50

// ErrRequestIDRequired is returned for entries without a request id.
var ErrRequestIDRequired = errors.New("ledger: request id required")

// Prepare validates entry and fills UUID and CreatedAt when unset.
func Prepare(entry Entry) (Entry, error) {
	if strings.TrimSpace(entry.RequestID) == "" {
		return entry, ErrRequestIDRequired
	}
	switch session.Status(entry.Status) {
	case session.StatusCompleted, session.StatusCancelled, session.StatusFailed:
	default:
		return entry, fmt.Errorf("ledger: invalid status %q", entry.Status)
	}
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry, nil
}

// FromOutcome converts a terminal session outcome into a ledger entry.
func FromOutcome(o session.Outcome) Entry {
	e := Entry{
		ConversationID: o.ConversationID,
		RequestID:      o.RequestID,
		ConnectionID:   o.ConnectionID,
		Model:          o.Model,
		Status:         string(o.Status),
		DurationMS:     o.Duration.Milliseconds(),
		CreatedAt:      o.StartedAt.Add(o.Duration).UTC(),
	}
	if o.StartedAt.IsZero() {
		e.CreatedAt = time.Time{}
	}
	if o.Usage != nil {
		e.PromptTokens = int64(o.Usage.PromptTokens)
		e.CompletionTokens = int64(o.Usage.CompletionTokens)
	}
	if o.Incomplete {
		e.Annotations = append(e.Annotations, "incomplete")
	}
	if o.Reconciled {
		e.Annotations = append(e.Annotations, "reconciled")
	}
	if te, ok := adapter.AsTransportError(o.Err); ok && te.Kind != adapter.KindCancelled {
		note := string(te.Kind)
		if te.StatusCode != 0 {
			note += ":" + strconv.Itoa(te.StatusCode)
		}
		e.Annotations = append(e.Annotations, note)
	}
	return e
}
