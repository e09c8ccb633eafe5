package subscriber

import (
	"context"
	"sync"
)

// InMemoryPositionStore is a volatile PositionStore: positions reset to 0
// on restart. Intended for tests.
type InMemoryPositionStore struct {
	mu        sync.Mutex
	positions map[string]int64
}

// NewInMemoryPositionStore constructs an empty store.
func NewInMemoryPositionStore() *InMemoryPositionStore {
	return &InMemoryPositionStore{positions: make(map[string]int64)}
}

func (s *InMemoryPositionStore) Get(_ context.Context, subscriberID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[subscriberID], nil
}

func (s *InMemoryPositionStore) Update(_ context.Context, subscriberID string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[subscriberID] = position
	return nil
}

var _ PositionStore = (*InMemoryPositionStore)(nil)
