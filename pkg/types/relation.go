// Package types defines the core domain types shared across the relkit
// system: relational state, gate status, signals, and repair claims.
package types

import (
	"fmt"
	"time"
)

// Gate status constants for relationship flow control.
const (
	GateOpen    = "open"    // Interaction may proceed
	GateBlocked = "blocked" // Interaction is gated until repair is acknowledged
)

// ValidGateStatuses contains all valid gate status values.
var ValidGateStatuses = []string{GateOpen, GateBlocked}

// IsValidGateStatus checks if the given status is a valid gate status.
func IsValidGateStatus(status string) bool {
	for _, valid := range ValidGateStatuses {
		if status == valid {
			return true
		}
	}
	return false
}

// IsValidGateTransition validates gate transitions according to the
// two-state machine:
//
//	open -> blocked    (rupture detected)
//	blocked -> open    (repair acknowledged)
//
// Self-transitions are rejected; the kernel treats them as no-ops before
// ever reaching this check.
func IsValidGateTransition(current, next string) bool {
	switch current {
	case GateOpen:
		return next == GateBlocked
	case GateBlocked:
		return next == GateOpen
	default:
		return false
	}
}

// GateEvent records a single gate state change for a relationship.
// Events are append-only and kept with the relation state so that any
// storage backend preserves the full gate history.
type GateEvent struct {
	// Action is "closed" or "released".
	Action string `json:"action"`

	// Reason is a human-readable explanation for the change.
	Reason string `json:"reason,omitempty"`

	// RiskAtEvent is the rupture risk at the moment of the change.
	RiskAtEvent float64 `json:"risk_at_event"`

	// Timestamp is when the change occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Gate event action constants.
const (
	GateActionClosed   = "closed"
	GateActionReleased = "released"
)

// RelationState holds the per-relationship state tracked by the kernel.
//
// The four primitives (trust, intent, narrative, commitments) each live in
// [0, 1] and default to 1.0 (a healthy relationship). RuptureRisk is the
// last computed risk value; it is only ever written by a risk computation.
type RelationState struct {
	// ID is the opaque relationship identifier.
	ID string `json:"id"`

	// The four primitives, each in [0, 1].
	Trust       float64 `json:"trust"`       // confidence signal
	Intent      float64 `json:"intent"`      // directional signal
	Narrative   float64 `json:"narrative"`   // coherence signal
	Commitments float64 `json:"commitments"` // accountability signal

	// RuptureRisk is the last computed rupture risk, in [0, 1].
	RuptureRisk float64 `json:"rupture_risk"`

	// GateStatus is "open" or "blocked".
	GateStatus string `json:"gate_status"`

	// LastSignal is the most recently emitted signal for this relationship,
	// nil if none has been emitted yet.
	LastSignal *Signal `json:"last_signal,omitempty"`

	// PendingRepair indicates a rupture has been signaled and no repair
	// has been acknowledged yet.
	PendingRepair bool `json:"pending_repair"`

	// GateHistory is the append-only record of gate state changes.
	GateHistory []GateEvent `json:"gate_history,omitempty"`

	// CreatedAt is when the relationship record was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRelationState returns a healthy initial state for the given id:
// all primitives at 1.0, zero risk, gate open.
func NewRelationState(id string) *RelationState {
	now := time.Now().UTC()
	return &RelationState{
		ID:          id,
		Trust:       1.0,
		Intent:      1.0,
		Narrative:   1.0,
		Commitments: 1.0,
		RuptureRisk: 0.0,
		GateStatus:  GateOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks that all numeric fields are within their declared domain
// and the gate status is a known value.
func (s *RelationState) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("relation state: id is required")
	}
	for name, v := range map[string]float64{
		"trust":        s.Trust,
		"intent":       s.Intent,
		"narrative":    s.Narrative,
		"commitments":  s.Commitments,
		"rupture_risk": s.RuptureRisk,
	} {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("relation state: %s must be in [0, 1], got %v", name, v)
		}
	}
	if !IsValidGateStatus(s.GateStatus) {
		return fmt.Errorf("relation state: invalid gate status %q", s.GateStatus)
	}
	return nil
}

// Clone returns a deep copy of the state. Stores hand out clones so that
// callers can never mutate shared state behind the kernel's back.
func (s *RelationState) Clone() *RelationState {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastSignal != nil {
		sig := *s.LastSignal
		out.LastSignal = &sig
	}
	if s.GateHistory != nil {
		out.GateHistory = make([]GateEvent, len(s.GateHistory))
		copy(out.GateHistory, s.GateHistory)
	}
	return &out
}
