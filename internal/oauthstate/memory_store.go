package oauthstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (s *MemoryStore) Put(ctx context.Context, token string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[token] = state
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, token string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[token]
	if !ok {
		return State{}, ErrStateNotFound
	}
	delete(s.states, token)

	if time.Now().UTC().After(state.ExpiresAt) {
		return State{}, ErrStateNotFound
	}

	return state, nil
}
