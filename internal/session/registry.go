package session

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	requestID string
	cancel    context.CancelFunc
}

// Registry tracks the active attempt per conversation. All operations share
// one mutex and never block while holding it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// TryStart registers requestID for conversationID iff no attempt is active.
func (r *Registry) TryStart(conversationID, requestID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[conversationID]; exists {
		return false
	}
	r.entries[conversationID] = entry{requestID: requestID, cancel: cancel}
	return true
}

// Cancel fires the active attempt's cancel signal and releases the slot so a
// new send may start while the old attempt unwinds. It reports whether an
// attempt was active; cancelling an idle conversation is not an error.
func (r *Registry) Cancel(conversationID string) bool {
	r.mu.Lock()
	e, exists := r.entries[conversationID]
	if exists {
		delete(r.entries, conversationID)
	}
	r.mu.Unlock()
	if !exists {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Finish removes the entry for conversationID only if it still belongs to
// requestID. It reports whether an entry was removed.
func (r *Registry) Finish(conversationID, requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[conversationID]
	if !exists || e.requestID != requestID {
		return false
	}
	delete(r.entries, conversationID)
	return true
}

// Active returns the request id registered for conversationID.
func (r *Registry) Active(conversationID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	return e.requestID, ok
}

// ActiveCount returns the number of conversations currently streaming.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Conversations returns the ids of all streaming conversations, sorted.
func (r *Registry) Conversations() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// CancelAll cancels every active attempt, e.g. on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.entries))
	for id, e := range r.entries {
		cancels = append(cancels, e.cancel)
		delete(r.entries, id)
	}
	r.mu.Unlock()
	for _, c := range cancels {
		if c != nil {
			c()
		}
	}
	return len(cancels)
}
