package flow

import (
	"sync"
	"time"
)

// Registry maps call ids to live conversations. The map is guarded by one
// mutex; each entry additionally serializes the turns of its own call.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	// turnMu is held for the whole of a turn, including analyzer calls.
	turnMu sync.Mutex
	// mu guards conv. Readers never wait on a turn in progress.
	mu   sync.RWMutex
	conv *Conversation
}

func (e *entry) current() *Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conv
}

func (e *entry) commit(c *Conversation) {
	e.mu.Lock()
	e.conv = c
	e.mu.Unlock()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// put installs conv, replacing any existing conversation for the same call.
func (r *Registry) put(conv *Conversation) {
	r.mu.Lock()
	r.entries[conv.CallID] = &entry{conv: conv}
	r.mu.Unlock()
}

func (r *Registry) lookup(callID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[callID]
	return e, ok
}

// holds reports whether e is still the live entry for callID.
func (r *Registry) holds(callID string, e *entry) bool {
	cur, ok := r.lookup(callID)
	return ok && cur == e
}

// Snapshot returns a copy of the committed conversation for callID.
func (r *Registry) Snapshot(callID string) (Conversation, bool) {
	e, ok := r.lookup(callID)
	if !ok {
		return Conversation{}, false
	}
	return *e.current().clone(), true
}

// remove deletes the conversation for callID, waiting for any turn in progress.
func (r *Registry) remove(callID string) (*Conversation, bool) {
	r.mu.Lock()
	e, ok := r.entries[callID]
	if ok {
		delete(r.entries, callID)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	return e.current(), true
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CallIDs lists the calls with live conversations.
func (r *Registry) CallIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// idleSince returns calls whose last activity is before cutoff.
func (r *Registry) idleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.entries {
		if e.current().LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
