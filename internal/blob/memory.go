package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[Ref][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[Ref][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (Ref, error) {
	ref := Sum(data)
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[ref]; !ok {
		s.objects[ref] = cp
	}
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
