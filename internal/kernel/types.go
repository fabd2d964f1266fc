package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/relkit/relkit/pkg/types"
)

var (
	// ErrInvalidInput indicates that the signal inputs are outside their
	// declared domain. Recoverable: the caller corrects and retries.
	ErrInvalidInput = errors.New("invalid signal inputs")

	// ErrNotBlocked indicates acknowledge was called while the gate is open.
	// Recoverable: the caller re-checks the gate state.
	ErrNotBlocked = errors.New("relation is not blocked")

	// ErrMalformedClaim indicates a structurally invalid repair claim.
	ErrMalformedClaim = errors.New("malformed repair claim")
)

// SignalInputs carries caller-supplied signal inputs into a risk computation.
//
// The four primitive fields are optional: a nil pointer leaves the stored
// primitive untouched. Named carries free-form scorer-specific inputs
// (e.g. broken-commitment counts, directional mismatch); the kernel validates
// that named values are finite and non-negative but assigns them no meaning —
// interpretation belongs to the injected RiskScorer.
type SignalInputs struct {
	Trust       *float64 `json:"trust,omitempty"`
	Intent      *float64 `json:"intent,omitempty"`
	Narrative   *float64 `json:"narrative,omitempty"`
	Commitments *float64 `json:"commitments,omitempty"`

	// Named holds additional scorer-specific numeric inputs.
	Named map[string]float64 `json:"named,omitempty"`
}

// Validate checks that all supplied inputs are within their declared domain:
// primitives in [0, 1], named values finite and non-negative.
func (in SignalInputs) Validate() error {
	for name, v := range map[string]*float64{
		"trust":       in.Trust,
		"intent":      in.Intent,
		"narrative":   in.Narrative,
		"commitments": in.Commitments,
	} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || *v < 0.0 || *v > 1.0 {
			return fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidInput, name, *v)
		}
	}

	for name, v := range in.Named {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: named input %q must be finite, got %v", ErrInvalidInput, name, v)
		}
		if v < 0 {
			return fmt.Errorf("%w: named input %q must be non-negative, got %v", ErrInvalidInput, name, v)
		}
	}

	return nil
}

// apply writes the supplied primitives onto the state, leaving nil fields
// untouched. Validation must have succeeded first.
func (in SignalInputs) apply(state *types.RelationState) {
	if in.Trust != nil {
		state.Trust = *in.Trust
	}
	if in.Intent != nil {
		state.Intent = *in.Intent
	}
	if in.Narrative != nil {
		state.Narrative = *in.Narrative
	}
	if in.Commitments != nil {
		state.Commitments = *in.Commitments
	}
}

// Config holds the kernel's tunable parameters.
type Config struct {
	// RuptureThreshold is the risk level in [0, 1] at which EmitIfRuptured
	// transitions the gate to blocked. Default: 0.6.
	RuptureThreshold float64

	// SignalHistoryLimit caps the number of signals retained in the
	// in-memory bus history. Default: 256.
	SignalHistoryLimit int
}

// DefaultConfig returns the kernel defaults.
func DefaultConfig() Config {
	return Config{
		RuptureThreshold:   0.6,
		SignalHistoryLimit: 256,
	}
}

// Validate checks config values.
func (c Config) Validate() error {
	if c.RuptureThreshold < 0.0 || c.RuptureThreshold > 1.0 {
		return fmt.Errorf("rupture threshold must be in [0, 1], got %v", c.RuptureThreshold)
	}
	if c.SignalHistoryLimit < 0 {
		return fmt.Errorf("signal history limit must be non-negative, got %d", c.SignalHistoryLimit)
	}
	return nil
}

// Status is an inspection snapshot of a single relationship.
type Status struct {
	// State is a copy of the current relation state, gate history included.
	State *types.RelationState `json:"state"`

	// RuptureThreshold is the configured threshold the kernel gates on.
	RuptureThreshold float64 `json:"rupture_threshold"`

	// SignalCount is the number of rupture signals emitted for this
	// relationship over its lifetime.
	SignalCount int `json:"signal_count"`
}
