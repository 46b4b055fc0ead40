package session

import (
	"time"

	"github.com/tokligence/chatstream/internal/delta"
)

// Snapshot is the cumulative state of an attempt at one point in time.
// Later snapshots supersede earlier ones; each carries the whole buffer.
type Snapshot struct {
	ConversationID string       `json:"conversation_id"`
	RequestID      string       `json:"request_id"`
	Seq            uint64       `json:"seq"`
	Status         Status       `json:"status"`
	Content        string       `json:"content"`
	Reasoning      string       `json:"reasoning,omitempty"`
	FinishReason   string       `json:"finish_reason,omitempty"`
	Usage          *delta.Usage `json:"usage,omitempty"`
	Final          bool         `json:"final"`
	Error          string       `json:"error,omitempty"`
	At             time.Time    `json:"at"`
}

// Current reports whether s may be applied to the conversation: false when a
// different request now owns the conversation's slot. A terminal snapshot
// of an attempt whose slot is already gone is still current.
func (s Snapshot) Current(reg *Registry) bool {
	active, ok := reg.Active(s.ConversationID)
	return !ok || active == s.RequestID
}
