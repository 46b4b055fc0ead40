// Package session runs streaming completion attempts: one Controller per
// send, at most one active attempt per conversation.
package session

import "fmt"

// Status is the lifecycle state of one streaming attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusStreaming || to.Terminal()
	case StatusStreaming:
		return to.Terminal()
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From, To Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("session: invalid status transition %s -> %s", e.From, e.To)
}
