package kernel

import (
	"math"

	"github.com/relkit/relkit/pkg/types"
)

// RiskScorer computes a rupture risk from the relation state and the
// caller-supplied inputs. The exact formula is an expression-protocol
// concern: implementations are injected into the kernel, which only
// requires that the result be deterministic for identical state and
// inputs. The kernel clamps the returned value to [0, 1].
type RiskScorer interface {
	// Score computes the rupture risk. The state already has the supplied
	// primitives applied.
	Score(state types.RelationState, inputs SignalInputs) float64
}

// PrimitiveScorer is the default scorer: the mean of the inverted
// primitives. Low trust, intent, narrative, or commitments means high risk.
// Named inputs are ignored.
type PrimitiveScorer struct{}

// Score implements RiskScorer.
func (PrimitiveScorer) Score(state types.RelationState, _ SignalInputs) float64 {
	return ((1 - state.Trust) +
		(1 - state.Intent) +
		(1 - state.Narrative) +
		(1 - state.Commitments)) / 4
}

// ScorerFunc adapts a plain function to the RiskScorer interface.
type ScorerFunc func(state types.RelationState, inputs SignalInputs) float64

// Score implements RiskScorer.
func (f ScorerFunc) Score(state types.RelationState, inputs SignalInputs) float64 {
	return f(state, inputs)
}

// clampRisk clamps a computed risk into [0, 1]. NaN collapses to 0 so a
// misbehaving scorer can never poison the stored state.
func clampRisk(risk float64) float64 {
	if math.IsNaN(risk) {
		return 0
	}
	return math.Min(1, math.Max(0, risk))
}
