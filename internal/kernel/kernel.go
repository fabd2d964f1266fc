// Package kernel implements the rupture-gated state kernel: it tracks a
// rupture risk per relationship, transitions a gate between open and blocked
// when the risk crosses a configured threshold, and releases the gate when an
// external repair claim is acknowledged.
//
// The kernel senses and signals but never decides how to respond — that is
// the expression layer's job. It holds no opinion about what repair looks
// like: repair claims are validated structurally and never interpreted.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/pkg/types"
)

// lockShards is the number of mutex shards guarding per-relationship state.
// Operations on the same id serialize on one shard; operations on different
// ids proceed in parallel unless they collide on a shard.
const lockShards = 64

// Kernel owns per-relationship rupture risk and gate state.
//
// All operations serialize per relationship id and run storage round-trips
// inside the critical section, so the state machine invariants hold under
// concurrent callers: no lost updates, no double signal emission, no race
// between EmitIfRuptured and AcknowledgeRepair. The kernel never suspends a
// caller waiting for repair — "blocked" is an observable status, and caller
// discipline does the rest.
type Kernel struct {
	store  storage.RelationStore
	scorer RiskScorer
	bus    *SignalBus
	config Config

	locks [lockShards]sync.Mutex
}

// Option is a functional option for configuring a Kernel.
type Option func(*Kernel)

// WithScorer injects a custom risk scorer. The default is PrimitiveScorer.
func WithScorer(scorer RiskScorer) Option {
	return func(k *Kernel) {
		k.scorer = scorer
	}
}

// WithConfig overrides the default kernel configuration.
func WithConfig(cfg Config) Option {
	return func(k *Kernel) {
		k.config = cfg
	}
}

// New creates a kernel backed by the given store.
func New(store storage.RelationStore, opts ...Option) (*Kernel, error) {
	if store == nil {
		return nil, fmt.Errorf("kernel: relation store is required")
	}

	k := &Kernel{
		store:  store,
		scorer: PrimitiveScorer{},
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		opt(k)
	}

	if err := k.config.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: invalid config: %w", err)
	}

	k.bus = NewSignalBus(k.config.SignalHistoryLimit)
	return k, nil
}

// Bus returns the kernel's signal bus for subscription.
func (k *Kernel) Bus() *SignalBus {
	return k.bus
}

// Threshold returns the configured rupture threshold.
func (k *Kernel) Threshold() float64 {
	return k.config.RuptureThreshold
}

// lockFor returns the mutex shard for a relationship id.
func (k *Kernel) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &k.locks[h.Sum32()%lockShards]
}

// loadOrCreate fetches the state for id, creating a fresh healthy record on
// first interaction. The caller must hold the id's lock.
func (k *Kernel) loadOrCreate(ctx context.Context, id string) (*types.RelationState, error) {
	state, err := k.store.Load(ctx, id)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewRelationState(id), nil
	}
	return nil, fmt.Errorf("kernel: failed to load relation %q: %w", id, err)
}

// ComputeRisk recomputes the rupture risk for a relationship from the
// supplied signal inputs. The state is created lazily on first call. The
// result is clamped to [0, 1] and stored; the gate is not touched — use
// EmitIfRuptured to act on the threshold.
//
// Deterministic: identical inputs against identical prior state always
// produce the same risk.
func (k *Kernel) ComputeRisk(ctx context.Context, id string, inputs SignalInputs) (float64, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}
	if err := inputs.Validate(); err != nil {
		return 0, err
	}

	mu := k.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	state, err := k.loadOrCreate(ctx, id)
	if err != nil {
		return 0, err
	}

	inputs.apply(state)
	risk := clampRisk(k.scorer.Score(*state, inputs))
	state.RuptureRisk = risk
	state.UpdatedAt = time.Now().UTC()

	if err := k.store.Save(ctx, id, state); err != nil {
		return 0, fmt.Errorf("kernel: failed to save relation %q: %w", id, err)
	}

	return risk, nil
}

// EmitIfRuptured checks the stored risk against the threshold. If the risk
// has crossed it and the gate is open, the gate transitions to blocked and
// exactly one rupture signal is emitted. Below the threshold, or while
// already blocked, it returns nil and leaves state unchanged — at most one
// signal per rupture episode.
//
// The transition is persisted before the signal is delivered to subscribers,
// so a crossed threshold is never silently swallowed: a failed save keeps the
// gate open and surfaces the error, and the next call tries again.
func (k *Kernel) EmitIfRuptured(ctx context.Context, id string) (*types.Signal, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}

	mu := k.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	state, err := k.loadOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	if state.GateStatus != types.GateOpen || state.RuptureRisk < k.config.RuptureThreshold {
		return nil, nil
	}

	if !types.IsValidGateTransition(state.GateStatus, types.GateBlocked) {
		return nil, fmt.Errorf("kernel: invalid gate transition %s -> %s", state.GateStatus, types.GateBlocked)
	}

	now := time.Now().UTC()
	signal := types.Signal{
		ID:         uuid.NewString(),
		Kind:       types.SignalRuptureDetected,
		RelationID: id,
		Risk:       state.RuptureRisk,
		Context:    fmt.Sprintf("rupture risk %.2f crossed threshold %.2f", state.RuptureRisk, k.config.RuptureThreshold),
		Timestamp:  now,
	}

	state.GateStatus = types.GateBlocked
	state.PendingRepair = true
	state.LastSignal = &signal
	state.GateHistory = append(state.GateHistory, types.GateEvent{
		Action:      types.GateActionClosed,
		Reason:      signal.Context,
		RiskAtEvent: state.RuptureRisk,
		Timestamp:   now,
	})
	state.UpdatedAt = now

	if err := k.store.Save(ctx, id, state); err != nil {
		return nil, fmt.Errorf("kernel: failed to save relation %q: %w", id, err)
	}

	k.bus.Emit(signal)
	return &signal, nil
}

// GateCheck returns the current gate status for a relationship. Read-only:
// a relationship that has never been seen reports open without a record
// being created.
func (k *Kernel) GateCheck(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}

	state, err := k.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.GateOpen, nil
		}
		return "", fmt.Errorf("kernel: failed to load relation %q: %w", id, err)
	}

	return state.GateStatus, nil
}

// AcknowledgeRepair accepts an external repair claim for a blocked
// relationship and releases the gate. The claim is validated structurally —
// matching relation id, non-empty well-formed payload — but its semantic
// content is never interpreted. The stored risk is left untouched; callers
// that want a fresh risk submit a new ComputeRisk call.
//
// Returns ErrMalformedClaim for a structurally invalid claim and
// ErrNotBlocked when the gate is already open.
func (k *Kernel) AcknowledgeRepair(ctx context.Context, id string, claim types.RepairClaim) error {
	if id == "" {
		return fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}
	if err := claim.ValidateFor(id); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}

	mu := k.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	state, err := k.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Never-seen relationships are open by construction.
			return ErrNotBlocked
		}
		return fmt.Errorf("kernel: failed to load relation %q: %w", id, err)
	}

	if state.GateStatus != types.GateBlocked {
		return ErrNotBlocked
	}

	now := time.Now().UTC()
	state.GateStatus = types.GateOpen
	state.PendingRepair = false
	state.GateHistory = append(state.GateHistory, types.GateEvent{
		Action:      types.GateActionReleased,
		Reason:      "repair_acknowledged",
		RiskAtEvent: state.RuptureRisk,
		Timestamp:   now,
	})
	state.UpdatedAt = now

	if err := k.store.Save(ctx, id, state); err != nil {
		return fmt.Errorf("kernel: failed to save relation %q: %w", id, err)
	}

	return nil
}

// UpdateState applies the supplied primitives, recomputes the risk, and
// emits a rupture signal in one serialized step. This is the convenience
// path expression protocols call after an exchange; it is equivalent to
// ComputeRisk followed by EmitIfRuptured without releasing the lock in
// between.
func (k *Kernel) UpdateState(ctx context.Context, id string, inputs SignalInputs) (float64, *types.Signal, error) {
	if id == "" {
		return 0, nil, fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}
	if err := inputs.Validate(); err != nil {
		return 0, nil, err
	}

	mu := k.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	state, err := k.loadOrCreate(ctx, id)
	if err != nil {
		return 0, nil, err
	}

	inputs.apply(state)
	risk := clampRisk(k.scorer.Score(*state, inputs))
	state.RuptureRisk = risk

	now := time.Now().UTC()
	state.UpdatedAt = now

	var signal *types.Signal
	if state.GateStatus == types.GateOpen && risk >= k.config.RuptureThreshold {
		sig := types.Signal{
			ID:         uuid.NewString(),
			Kind:       types.SignalRuptureDetected,
			RelationID: id,
			Risk:       risk,
			Context:    fmt.Sprintf("rupture risk %.2f crossed threshold %.2f", risk, k.config.RuptureThreshold),
			Timestamp:  now,
		}
		state.GateStatus = types.GateBlocked
		state.PendingRepair = true
		state.LastSignal = &sig
		state.GateHistory = append(state.GateHistory, types.GateEvent{
			Action:      types.GateActionClosed,
			Reason:      sig.Context,
			RiskAtEvent: risk,
			Timestamp:   now,
		})
		signal = &sig
	}

	if err := k.store.Save(ctx, id, state); err != nil {
		return 0, nil, fmt.Errorf("kernel: failed to save relation %q: %w", id, err)
	}

	if signal != nil {
		k.bus.Emit(*signal)
	}

	return risk, signal, nil
}

// Status returns an inspection snapshot for a relationship.
// Returns storage.ErrNotFound for a relationship that has never been seen.
func (k *Kernel) Status(ctx context.Context, id string) (*Status, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}

	state, err := k.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("kernel: failed to load relation %q: %w", id, err)
	}

	signalCount := 0
	for _, event := range state.GateHistory {
		if event.Action == types.GateActionClosed {
			signalCount++
		}
	}

	return &Status{
		State:            state,
		RuptureThreshold: k.config.RuptureThreshold,
		SignalCount:      signalCount,
	}, nil
}

// Delete removes a relationship record. Records persist for the lifetime of
// a relationship and are only removed by this explicit external request.
func (k *Kernel) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: relation id is required", ErrInvalidInput)
	}

	mu := k.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := k.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("kernel: failed to delete relation %q: %w", id, err)
	}

	return nil
}

// List returns relationship states with pagination and filtering.
func (k *Kernel) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.RelationState], error) {
	result, err := k.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("kernel: failed to list relations: %w", err)
	}
	return result, nil
}
