package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests and
// development. The first identity it ever sees is privileged, matching
// the Postgres store's behaviour.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]*State
	seeded bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]*State)}
}

// Load returns a copy of the stored state or ErrNotFound.
func (m *MemoryStore) Load(_ context.Context, identity int64) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Create registers a new identity, granting privilege to the very first one.
func (m *MemoryStore) Create(_ context.Context, identity int64, currentNode string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[identity]; ok {
		return st.Clone(), nil
	}
	st := &State{
		Identity:    identity,
		CurrentNode: currentNode,
		Privileged:  !m.seeded,
	}
	m.seeded = true
	m.states[identity] = st
	return st.Clone(), nil
}

// Save overwrites the stored state. Last write wins, as with the real store.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	state.normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state.Identity]; !ok {
		return ErrNotFound
	}
	m.states[state.Identity] = state.Clone()
	return nil
}
