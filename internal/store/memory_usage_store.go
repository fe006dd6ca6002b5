package store

import (
	"context"
	"sync"

	"formfit/internal/domain"
)

// MemoryUsageStore keeps a bounded in-process log. Used when no Postgres DSN
// is configured and in tests.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	entries []domain.TransformLog
	cap     int
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{cap: 1024}
}

func (s *MemoryUsageStore) RecordTransform(_ context.Context, entry domain.TransformLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
	return nil
}

func (s *MemoryUsageStore) Recent(_ context.Context, limit int) ([]domain.TransformLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	out := make([]domain.TransformLog, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.entries[len(s.entries)-1-i]
	}
	return out, nil
}
