// Package memory implements an in-memory persistence.Store, used by
// default when no database DSN is configured and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"

	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence"
)

// Store is a mutex-guarded map adapter. It never fails.
type Store struct {
	mu   sync.RWMutex
	docs map[string]persistence.DocumentState
	ops  map[string][]opRecord
}

type opRecord struct {
	op             ot.Operation
	appliedVersion int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		docs: make(map[string]persistence.DocumentState),
		ops:  make(map[string][]opRecord),
	}
}

// SaveDocument upserts the document's snapshot.
func (s *Store) SaveDocument(_ context.Context, state persistence.DocumentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now()
	if existing, ok := s.docs[state.ID]; ok {
		state.CreatedAt = existing.CreatedAt
	} else {
		state.CreatedAt = state.UpdatedAt
	}
	s.docs[state.ID] = state
	return nil
}

// LoadDocument returns the stored snapshot, or nil if absent.
func (s *Store) LoadDocument(_ context.Context, id string) (*persistence.DocumentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// SaveOperation appends op to the document's operation log.
func (s *Store) SaveOperation(_ context.Context, documentID string, op ot.Operation, appliedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[documentID] = append(s.ops[documentID], opRecord{op: op, appliedVersion: appliedVersion})
	return nil
}

// LoadOperations returns every operation applied after sinceVersion, in
// applied order.
func (s *Store) LoadOperations(_ context.Context, documentID string, sinceVersion int64) ([]ot.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ot.Operation
	for _, rec := range s.ops[documentID] {
		if rec.appliedVersion > sinceVersion {
			out = append(out, rec.op)
		}
	}
	return out, nil
}

// DeleteDocument removes a document's snapshot and operation log.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.ops, id)
	return nil
}

// ListDocuments returns every known document ID, sorted for determinism.
func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
