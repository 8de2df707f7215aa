package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is a single-process Store. Records are held as JSON so readers
// never share memory with the executing run.
type MemoryStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	jobs  map[string]memoryEntry
	index map[string]struct{}
}

func NewMemory(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		jobs:  make(map[string]memoryEntry),
		index: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Put(_ context.Context, job *schema.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = memoryEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*schema.Job, error) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	now := s.now()
	s.mu.RUnlock()
	if !ok || !now.Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	var job schema.Job
	if err := json.Unmarshal(entry.data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *MemoryStore) IndexAdd(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[id] = struct{}{}
	return nil
}

func (s *MemoryStore) IndexMembers(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	return ids, nil
}
