package repository

import (
	"context"
	"sync"

	"github.com/smallbiznis/chainstream/internal/ledger/domain"
)

// MemoryStore keeps snapshots in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, namespace string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[namespace]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, namespace string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.mu.Lock()
	s.values[namespace] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, namespace string, fn domain.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if v, ok := s.values[namespace]; ok {
		current = make([]byte, len(v))
		copy(current, v)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	stored := make([]byte, len(next))
	copy(stored, next)
	s.values[namespace] = stored
	return nil
}

func (s *MemoryStore) Close() error { return nil }
