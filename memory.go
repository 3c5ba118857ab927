package counsel

import (
	"context"
	"slices"
	"sync"
)

// Memory is a durable, append-only message log keyed by conversation id.
// A conversation exists once something has been appended to it.
type Memory interface {
	// Load returns the most recent lastN messages of a conversation in
	// chronological order. lastN <= 0 returns every message. An unknown
	// conversation yields an empty slice and no error.
	Load(ctx context.Context, conversationID string, lastN int) ([]Message, error)

	// Append persists messages atomically: either all of them are stored or
	// none are.
	Append(ctx context.Context, conversationID string, messages ...Message) error
}

// InMemory keeps conversations in a map. It is intended for tests and for
// processes that do not need history to survive a restart.
type InMemory struct {
	mu            sync.RWMutex
	conversations map[string][]Message
}

// NewInMemory creates an empty in-process memory.
func NewInMemory() *InMemory {
	return &InMemory{conversations: make(map[string][]Message)}
}

// Load implements Memory.
func (m *InMemory) Load(_ context.Context, conversationID string, lastN int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastMessages(m.conversations[conversationID], lastN), nil
}

// Append implements Memory.
func (m *InMemory) Append(_ context.Context, conversationID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversationID] = append(m.conversations[conversationID], messages...)
	return nil
}

// Conversations returns the ids of every stored conversation.
func (m *InMemory) Conversations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// lastMessages returns a copy of the trailing lastN messages.
func lastMessages(all []Message, lastN int) []Message {
	if lastN > 0 && len(all) > lastN {
		all = all[len(all)-lastN:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out
}

var _ Memory = (*InMemory)(nil)
