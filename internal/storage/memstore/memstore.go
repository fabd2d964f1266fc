// Package memstore provides an in-memory implementation of storage.RelationStore.
// It is the default backend for development and tests; contents do not
// survive a process restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/pkg/types"
)

// Store implements storage.RelationStore with a mutex-guarded map.
type Store struct {
	mu        sync.RWMutex
	relations map[string]*types.RelationState
	closed    bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		relations: make(map[string]*types.RelationState),
	}
}

// Load retrieves the state for a relationship id.
func (s *Store) Load(ctx context.Context, id string) (*types.RelationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: relation id is required", storage.ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("memstore: store is closed")
	}

	state, ok := s.relations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state.Clone(), nil
}

// Save creates or updates the state for a relationship id.
func (s *Store) Save(ctx context.Context, id string, state *types.RelationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" || state == nil {
		return fmt.Errorf("%w: relation id and state are required", storage.ErrInvalidInput)
	}
	if state.ID != id {
		return fmt.Errorf("%w: state id %q does not match %q", storage.ErrInvalidInput, state.ID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("memstore: store is closed")
	}

	s.relations[id] = state.Clone()
	return nil
}

// Delete permanently removes the record for a relationship id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: relation id is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("memstore: store is closed")
	}

	if _, ok := s.relations[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.relations, id)
	return nil
}

// List retrieves relationship states with pagination and filtering.
// Results are ordered by id for deterministic pagination.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.RelationState], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("memstore: store is closed")
	}

	matched := make([]*types.RelationState, 0, len(s.relations))
	for _, state := range s.relations {
		if opts.GateStatus != "" && state.GateStatus != opts.GateStatus {
			continue
		}
		if state.RuptureRisk < opts.MinRisk {
			continue
		}
		matched = append(matched, state)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	items := make([]types.RelationState, 0, end-start)
	for _, state := range matched[start:end] {
		items = append(items, *state.Clone())
	}

	return &storage.PaginatedResult[types.RelationState]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < total,
	}, nil
}

// Close releases the store. Subsequent operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.relations = nil
	return nil
}
