// Package storage provides the storage interface for the relkit kernel.
//
// The kernel treats storage as a capability behind a narrow interface:
// any backend (in-memory map, SQLite, Postgres) that satisfies RelationStore
// is valid. Backends are implemented in subpackages and composed as needed.
package storage

import (
	"context"

	"github.com/relkit/relkit/pkg/types"
)

// RelationStore provides persistence for per-relationship state.
// This is the kernel's only downward dependency.
type RelationStore interface {
	// Load retrieves the state for a relationship id.
	// Returns ErrNotFound if no record exists.
	Load(ctx context.Context, id string) (*types.RelationState, error)

	// Save creates or updates the state for a relationship id
	// (upsert semantics).
	Save(ctx context.Context, id string, state *types.RelationState) error

	// Delete permanently removes the record for a relationship id.
	// Returns ErrNotFound if no record exists.
	Delete(ctx context.Context, id string) error

	// List retrieves relationship states with pagination and filtering.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.RelationState], error)

	// Close releases any resources held by the store.
	Close() error
}
