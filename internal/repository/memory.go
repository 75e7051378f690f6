package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/imagemux/imagemux/pkg/types"
)

// MemoryStore keeps records in process memory. Suitable for tests and
// single-instance deployments without durability requirements.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.GenerationRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.GenerationRecord)}
}

// Save implements Store. The record is deep-copied so later mutations
// by the orchestrator do not leak into stored history.
func (s *MemoryStore) Save(_ context.Context, record *types.GenerationRecord) error {
	cp, err := copyRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[record.ID] = cp
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.GenerationRecord, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record)
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*types.GenerationRecord, error) {
	s.mu.RLock()
	matched := make([]*types.GenerationRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.DepartmentID != "" && record.Request.DepartmentID != filter.DepartmentID {
			continue
		}
		if filter.UserID != "" && record.Request.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		matched = append(matched, record)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*types.GenerationRecord, 0, len(matched))
	for _, record := range matched {
		cp, err := copyRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func copyRecord(record *types.GenerationRecord) (*types.GenerationRecord, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var cp types.GenerationRecord
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
