package ledger

import (
	"context"
	"sync"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// MemoryStore keeps attempts in process memory. Records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]types.AttemptRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]types.AttemptRecord)}
}

func (s *MemoryStore) FindByKey(_ context.Context, id string) (*types.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Insert(_ context.Context, rec *types.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.AttemptID]; ok {
		return ErrDuplicate
	}
	s.records[rec.AttemptID] = *rec
	return nil
}

func (s *MemoryStore) UpdateByKey(_ context.Context, id string, patch *types.AttemptPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	patch.Apply(&rec)
	s.records[id] = rec
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }
