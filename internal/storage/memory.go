package storage

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory BlobStore used in tests and local development
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, is returned by Put to simulate upload failure.
	PutErr error
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if s.PutErr != nil {
		return "", s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return "memory://" + key, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

// Len reports the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Has reports whether any object exists under prefix
func (s *MemoryStore) Has(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
