package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalKind identifies the kind of signal the kernel emitted.
// The set is extensible; rupture_detected is the only kind the kernel
// itself produces today.
type SignalKind string

// Signal kinds.
const (
	SignalRuptureDetected SignalKind = "rupture_detected"
)

// Signal is an observation emitted by the kernel. Signals nudge upward;
// they do not command. Expression protocols decide how to respond.
type Signal struct {
	// ID is a unique identifier for this emission.
	ID string `json:"id"`

	// Kind is the signal kind (e.g. rupture_detected).
	Kind SignalKind `json:"kind"`

	// RelationID is the relationship the signal concerns.
	RelationID string `json:"relation_id"`

	// Risk is the rupture risk at the moment of emission.
	Risk float64 `json:"risk"`

	// Context is a human-readable explanation of why the signal fired.
	Context string `json:"context,omitempty"`

	// Timestamp is when the signal was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// String implements fmt.Stringer for log-friendly output.
func (s Signal) String() string {
	return fmt.Sprintf("[%s] relation=%s risk=%.2f at %s",
		s.Kind, s.RelationID, s.Risk, s.Timestamp.Format(time.RFC3339))
}

// RepairClaim is an external assertion that repair occurred for a blocked
// relationship. The payload is protocol-specific and opaque to the kernel:
// it is validated structurally (present, well-formed JSON) but never
// interpreted semantically.
type RepairClaim struct {
	// RelationID must match the relationship the claim is submitted for.
	RelationID string `json:"relation_id"`

	// Payload is the expression-protocol-specific repair evidence.
	// The kernel requires it to be non-empty but assigns it no meaning.
	Payload json.RawMessage `json:"payload"`

	// ClaimedBy identifies the claiming protocol or agent, if provided.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// ClaimedAt is when the claim was made.
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
}

// ValidateFor performs the structural validation the kernel applies to a
// claim submitted for relationship id: the claim must name the same
// relationship and carry a non-empty payload. Semantic content is never
// inspected.
func (c *RepairClaim) ValidateFor(id string) error {
	if c == nil {
		return fmt.Errorf("repair claim: claim is required")
	}
	if c.RelationID == "" {
		return fmt.Errorf("repair claim: relation_id is required")
	}
	if c.RelationID != id {
		return fmt.Errorf("repair claim: relation_id %q does not match %q", c.RelationID, id)
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("repair claim: payload is required")
	}
	if !json.Valid(c.Payload) {
		return fmt.Errorf("repair claim: payload is not valid JSON")
	}
	return nil
}
