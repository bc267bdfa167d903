package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process guard for local development and tests. It
// keeps the same first-writer-wins contract as the DynamoDB store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns the record for the key, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, errors.New("idempotency: key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

// PutIfAbsent stores the result unless a record already exists for the key.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, result []byte) (bool, *Record, error) {
	if key == "" {
		return false, nil, errors.New("idempotency: key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		copied := *existing
		return false, &copied, nil
	}
	rec := &Record{
		Key:       key,
		Result:    append([]byte(nil), result...),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.records[key] = rec
	copied := *rec
	return true, &copied, nil
}
