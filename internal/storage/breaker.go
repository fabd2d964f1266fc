package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relkit/relkit/pkg/types"
)

// BreakerConfig holds the configuration for the storage circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip the circuit.
	// Default: 3
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning to half-open.
	// Default: 10 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required in
	// half-open state to close the circuit again.
	// Default: 2
	HalfOpenMaxSuccesses uint32
}

// BreakerStore wraps a RelationStore in a circuit breaker so that a failing
// backend does not cascade into every kernel operation. When the circuit is
// open, calls fail fast with ErrUnavailable instead of waiting on a dead
// backend.
//
// Domain misses (ErrNotFound, ErrInvalidInput) do not count as backend
// failures and never trip the circuit.
type BreakerStore struct {
	inner   RelationStore
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps the given store with default breaker settings:
// trip after 3 consecutive failures, stay open for 10 seconds, close again
// after 2 half-open successes.
func NewBreakerStore(inner RelationStore) *BreakerStore {
	return NewBreakerStoreWithConfig(inner, BreakerConfig{
		MaxFailures:          3,
		Timeout:              10 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerStoreWithConfig wraps the given store with custom breaker settings.
func NewBreakerStoreWithConfig(inner RelationStore, cfg BreakerConfig) *BreakerStore {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = 2
	}

	settings := gobreaker.Settings{
		Name:        "RelationStoreBreaker",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Interval:    0, // Don't clear counts periodically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}

	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// execute runs fn through the breaker, translating open-circuit errors to
// ErrUnavailable and keeping domain misses out of the failure counts.
func (b *BreakerStore) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		out, innerErr := fn()
		if isDomainError(innerErr) {
			// Surface the error to the caller without counting it as a
			// backend failure. gobreaker counts any non-nil error, so
			// smuggle it out through the result.
			return domainMiss{err: innerErr}, nil
		}
		return out, innerErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}

	if miss, ok := result.(domainMiss); ok {
		return nil, miss.err
	}
	return result, nil
}

// domainMiss carries a domain error through gobreaker without tripping it.
type domainMiss struct {
	err error
}

// isDomainError reports whether err is a per-call domain error rather than
// a backend failure.
func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput)
}

// State returns the current breaker state: "closed", "open", or "half-open".
func (b *BreakerStore) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Load implements RelationStore.
func (b *BreakerStore) Load(ctx context.Context, id string) (*types.RelationState, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.RelationState), nil
}

// Save implements RelationStore.
func (b *BreakerStore) Save(ctx context.Context, id string, state *types.RelationState) error {
	_, err := b.execute(ctx, func() (interface{}, error) {
		return nil, b.inner.Save(ctx, id, state)
	})
	return err
}

// Delete implements RelationStore.
func (b *BreakerStore) Delete(ctx context.Context, id string) error {
	_, err := b.execute(ctx, func() (interface{}, error) {
		return nil, b.inner.Delete(ctx, id)
	})
	return err
}

// List implements RelationStore.
func (b *BreakerStore) List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.RelationState], error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.List(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*PaginatedResult[types.RelationState]), nil
}

// Close implements RelationStore. Close bypasses the breaker: shutting down
// should always reach the backend.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}
