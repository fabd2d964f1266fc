package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/internal/storage/memstore"
	"github.com/relkit/relkit/pkg/types"
)

func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(memstore.New(), opts...)
	if err != nil {
		t.Fatalf("failed to create kernel: %v", err)
	}
	return k
}

func floatPtr(v float64) *float64 { return &v }

func validClaim(id string) types.RepairClaim {
	return types.RepairClaim{
		RelationID: id,
		Payload:    json.RawMessage(`{"action":"apology"}`),
	}
}

// allLow returns inputs that drag every primitive to the given level.
func allLow(level float64) SignalInputs {
	return SignalInputs{
		Trust:       floatPtr(level),
		Intent:      floatPtr(level),
		Narrative:   floatPtr(level),
		Commitments: floatPtr(level),
	}
}

func TestComputeRiskCreatesStateLazily(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	risk, err := k.ComputeRisk(ctx, "rel:new", SignalInputs{})
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if risk != 0.0 {
		t.Errorf("risk for healthy defaults: got %v, want 0", risk)
	}

	status, err := k.Status(ctx, "rel:new")
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if status.State.GateStatus != types.GateOpen {
		t.Errorf("initial gate: got %q, want open", status.State.GateStatus)
	}
}

func TestComputeRiskStaysInUnitInterval(t *testing.T) {
	k := newTestKernel(t, WithScorer(ScorerFunc(func(types.RelationState, SignalInputs) float64 {
		return 17.5 // deliberately out of range
	})))
	ctx := context.Background()

	risk, err := k.ComputeRisk(ctx, "rel:1", SignalInputs{})
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if risk != 1.0 {
		t.Errorf("risk should clamp to 1, got %v", risk)
	}

	k2 := newTestKernel(t, WithScorer(ScorerFunc(func(types.RelationState, SignalInputs) float64 {
		return -3
	})))
	risk, err = k2.ComputeRisk(ctx, "rel:1", SignalInputs{})
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if risk != 0.0 {
		t.Errorf("risk should clamp to 0, got %v", risk)
	}
}

func TestComputeRiskRejectsOutOfDomainInputs(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	cases := []SignalInputs{
		{Trust: floatPtr(1.5)},
		{Intent: floatPtr(-0.1)},
		{Named: map[string]float64{"broken_commitments": -2}},
	}

	for i, inputs := range cases {
		if _, err := k.ComputeRisk(ctx, "rel:1", inputs); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: got %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestComputeRiskIsDeterministic(t *testing.T) {
	ctx := context.Background()
	inputs := SignalInputs{Trust: floatPtr(0.3), Narrative: floatPtr(0.4)}

	k1 := newTestKernel(t)
	k2 := newTestKernel(t)

	r1, err := k1.ComputeRisk(ctx, "rel:1", inputs)
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	r2, err := k2.ComputeRisk(ctx, "rel:1", inputs)
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if r1 != r2 {
		t.Errorf("identical inputs and prior state should give identical risk: %v vs %v", r1, r2)
	}
}

func TestComputeRiskDoesNotTouchGate(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	// Risk well above the default 0.6 threshold.
	if _, err := k.ComputeRisk(ctx, "rel:1", allLow(0.1)); err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}

	gate, err := k.GateCheck(ctx, "rel:1")
	if err != nil {
		t.Fatalf("GateCheck() failed: %v", err)
	}
	if gate != types.GateOpen {
		t.Errorf("compute alone should not block the gate, got %q", gate)
	}
}

func TestRuptureFlowAtThreshold(t *testing.T) {
	// Scenario: threshold 0.7, risk 0.8 -> signal, blocked, repair, open.
	k := newTestKernel(t, WithConfig(Config{RuptureThreshold: 0.7, SignalHistoryLimit: 16}))
	ctx := context.Background()

	// Mean of inverted primitives at 0.2 = 0.8.
	risk, err := k.ComputeRisk(ctx, "rel:1", allLow(0.2))
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if risk < 0.79 || risk > 0.81 {
		t.Fatalf("risk: got %v, want 0.8", risk)
	}

	signal, err := k.EmitIfRuptured(ctx, "rel:1")
	if err != nil {
		t.Fatalf("EmitIfRuptured() failed: %v", err)
	}
	if signal == nil {
		t.Fatal("expected a rupture signal")
	}
	if signal.Kind != types.SignalRuptureDetected {
		t.Errorf("signal kind: got %q, want %q", signal.Kind, types.SignalRuptureDetected)
	}
	if signal.RelationID != "rel:1" {
		t.Errorf("signal relation: got %q, want rel:1", signal.RelationID)
	}
	if signal.Risk != risk {
		t.Errorf("signal risk: got %v, want %v", signal.Risk, risk)
	}

	gate, err := k.GateCheck(ctx, "rel:1")
	if err != nil {
		t.Fatalf("GateCheck() failed: %v", err)
	}
	if gate != types.GateBlocked {
		t.Fatalf("gate after rupture: got %q, want blocked", gate)
	}

	if err := k.AcknowledgeRepair(ctx, "rel:1", validClaim("rel:1")); err != nil {
		t.Fatalf("AcknowledgeRepair() failed: %v", err)
	}

	gate, err = k.GateCheck(ctx, "rel:1")
	if err != nil {
		t.Fatalf("GateCheck() failed: %v", err)
	}
	if gate != types.GateOpen {
		t.Errorf("gate after repair: got %q, want open", gate)
	}
}

func TestBelowThresholdEmitsNothing(t *testing.T) {
	k := newTestKernel(t, WithConfig(Config{RuptureThreshold: 0.7, SignalHistoryLimit: 16}))
	ctx := context.Background()

	// Mean of inverted primitives at 0.6 = 0.4 < 0.7.
	if _, err := k.ComputeRisk(ctx, "rel:1", allLow(0.6)); err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}

	signal, err := k.EmitIfRuptured(ctx, "rel:1")
	if err != nil {
		t.Fatalf("EmitIfRuptured() failed: %v", err)
	}
	if signal != nil {
		t.Errorf("below threshold should not signal, got %+v", signal)
	}

	gate, _ := k.GateCheck(ctx, "rel:1")
	if gate != types.GateOpen {
		t.Errorf("gate: got %q, want open", gate)
	}
}

func TestAtMostOneSignalPerEpisode(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if _, err := k.ComputeRisk(ctx, "rel:1", allLow(0.1)); err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}

	first, err := k.EmitIfRuptured(ctx, "rel:1")
	if err != nil {
		t.Fatalf("first EmitIfRuptured() failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected a signal on first emit")
	}

	// Repeated emits while already blocked never produce a second signal.
	for i := 0; i < 5; i++ {
		again, err := k.EmitIfRuptured(ctx, "rel:1")
		if err != nil {
			t.Fatalf("repeat EmitIfRuptured() failed: %v", err)
		}
		if again != nil {
			t.Fatalf("emit %d: got a second signal for the same episode", i+2)
		}
	}

	if got := len(k.Bus().HistoryFor("rel:1")); got != 1 {
		t.Errorf("bus history: got %d signals, want 1", got)
	}
}

func TestRiskSurvivesRepairUntouched(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	risk, err := k.ComputeRisk(ctx, "rel:1", allLow(0.1))
	if err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if _, err := k.EmitIfRuptured(ctx, "rel:1"); err != nil {
		t.Fatalf("EmitIfRuptured() failed: %v", err)
	}
	if err := k.AcknowledgeRepair(ctx, "rel:1", validClaim("rel:1")); err != nil {
		t.Fatalf("AcknowledgeRepair() failed: %v", err)
	}

	status, err := k.Status(ctx, "rel:1")
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if status.State.RuptureRisk != risk {
		t.Errorf("repair must not reset risk: got %v, want %v", status.State.RuptureRisk, risk)
	}
	if status.State.PendingRepair {
		t.Error("pending repair should clear after acknowledge")
	}
}

func TestAcknowledgeRepairIdempotence(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if _, err := k.ComputeRisk(ctx, "rel:1", allLow(0.1)); err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if _, err := k.EmitIfRuptured(ctx, "rel:1"); err != nil {
		t.Fatalf("EmitIfRuptured() failed: %v", err)
	}

	if err := k.AcknowledgeRepair(ctx, "rel:1", validClaim("rel:1")); err != nil {
		t.Fatalf("first AcknowledgeRepair() failed: %v", err)
	}

	err := k.AcknowledgeRepair(ctx, "rel:1", validClaim("rel:1"))
	if !errors.Is(err, ErrNotBlocked) {
		t.Errorf("second AcknowledgeRepair(): got %v, want ErrNotBlocked", err)
	}

	gate, _ := k.GateCheck(ctx, "rel:1")
	if gate != types.GateOpen {
		t.Errorf("gate stays open after redundant acknowledge, got %q", gate)
	}
}

func TestAcknowledgeRepairOnOpenRelation(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if err := k.AcknowledgeRepair(ctx, "rel:unseen", validClaim("rel:unseen")); !errors.Is(err, ErrNotBlocked) {
		t.Errorf("acknowledge on unseen relation: got %v, want ErrNotBlocked", err)
	}
}

func TestAcknowledgeRepairRejectsMalformedClaims(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if _, err := k.ComputeRisk(ctx, "rel:1", allLow(0.1)); err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if _, err := k.EmitIfRuptured(ctx, "rel:1"); err != nil {
		t.Fatalf("EmitIfRuptured() failed: %v", err)
	}

	cases := []types.RepairClaim{
		{RelationID: "rel:other", Payload: json.RawMessage(`{}`)}, // mismatched id
		{RelationID: "rel:1"},                                     // empty payload
		{RelationID: "rel:1", Payload: json.RawMessage(`{"x":`)},  // invalid JSON
	}

	for i, claim := range cases {
		if err := k.AcknowledgeRepair(ctx, "rel:1", claim); !errors.Is(err, ErrMalformedClaim) {
			t.Errorf("case %d: got %v, want ErrMalformedClaim", i, err)
		}
	}

	// A malformed claim must not release the gate.
	gate, _ := k.GateCheck(ctx, "rel:1")
	if gate != types.GateBlocked {
		t.Errorf("gate after malformed claims: got %q, want blocked", gate)
	}
}

func TestUpdateStateComputesAndEmits(t *testing.T) {
	k := newTestKernel(t, WithConfig(Config{RuptureThreshold: 0.5, SignalHistoryLimit: 16}))
	ctx := context.Background()

	risk, signal, err := k.UpdateState(ctx, "rel:1", allLow(0.2))
	if err != nil {
		t.Fatalf("UpdateState() failed: %v", err)
	}
	if risk < 0.79 || risk > 0.81 {
		t.Errorf("risk: got %v, want 0.8", risk)
	}
	if signal == nil {
		t.Fatal("expected a rupture signal from UpdateState")
	}

	gate, _ := k.GateCheck(ctx, "rel:1")
	if gate != types.GateBlocked {
		t.Errorf("gate after UpdateState rupture: got %q, want blocked", gate)
	}

	// A healthy update while blocked: no second signal.
	_, signal, err = k.UpdateState(ctx, "rel:1", allLow(0.9))
	if err != nil {
		t.Fatalf("second UpdateState() failed: %v", err)
	}
	if signal != nil {
		t.Error("blocked relation should not signal again")
	}
}

func TestGateCheckDoesNotCreateState(t *testing.T) {
	store := memstore.New()
	k, err := New(store)
	if err != nil {
		t.Fatalf("failed to create kernel: %v", err)
	}
	ctx := context.Background()

	gate, err := k.GateCheck(ctx, "rel:ghost")
	if err != nil {
		t.Fatalf("GateCheck() failed: %v", err)
	}
	if gate != types.GateOpen {
		t.Errorf("unseen relation gate: got %q, want open", gate)
	}

	if _, err := store.Load(ctx, "rel:ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GateCheck must not create a record, Load returned %v", err)
	}
}

func TestDeleteRemovesRelation(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if _, err := k.ComputeRisk(ctx, "rel:1", SignalInputs{}); err != nil {
		t.Fatalf("ComputeRisk() failed: %v", err)
	}
	if err := k.Delete(ctx, "rel:1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := k.Status(ctx, "rel:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Status() after delete: got %v, want ErrNotFound", err)
	}
	if err := k.Delete(ctx, "rel:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Delete(): got %v, want ErrNotFound", err)
	}
}

func TestIsolationBetweenRelationships(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if _, err := k.ComputeRisk(ctx, "rel:a", allLow(0.1)); err != nil {
		t.Fatalf("ComputeRisk(a) failed: %v", err)
	}
	if _, err := k.EmitIfRuptured(ctx, "rel:a"); err != nil {
		t.Fatalf("EmitIfRuptured(a) failed: %v", err)
	}
	if _, err := k.ComputeRisk(ctx, "rel:b", allLow(0.9)); err != nil {
		t.Fatalf("ComputeRisk(b) failed: %v", err)
	}

	gateA, _ := k.GateCheck(ctx, "rel:a")
	gateB, _ := k.GateCheck(ctx, "rel:b")
	if gateA != types.GateBlocked {
		t.Errorf("rel:a gate: got %q, want blocked", gateA)
	}
	if gateB != types.GateOpen {
		t.Errorf("rel:b gate: got %q, want open — rupturing rel:a must not leak", gateB)
	}
}

func TestConcurrentOperationsKeepInvariants(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()
	const id = "rel:contended"

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		signals int
	)

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			switch n % 4 {
			case 0:
				_, _ = k.ComputeRisk(ctx, id, allLow(0.1))
			case 1:
				sig, err := k.EmitIfRuptured(ctx, id)
				if err != nil {
					t.Errorf("EmitIfRuptured() failed: %v", err)
				}
				if sig != nil {
					mu.Lock()
					signals++
					mu.Unlock()
				}
			case 2:
				_, _ = k.GateCheck(ctx, id)
			case 3:
				err := k.AcknowledgeRepair(ctx, id, validClaim(id))
				if err != nil && !errors.Is(err, ErrNotBlocked) {
					t.Errorf("AcknowledgeRepair() failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	// Whatever interleaving happened, the final state must be coherent:
	// risk in range, gate status valid, and pending repair consistent with
	// the gate.
	status, err := k.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	state := status.State
	if state.RuptureRisk < 0 || state.RuptureRisk > 1 {
		t.Errorf("risk out of range: %v", state.RuptureRisk)
	}
	if !types.IsValidGateStatus(state.GateStatus) {
		t.Errorf("invalid gate status: %q", state.GateStatus)
	}
	if state.GateStatus == types.GateOpen && state.PendingRepair {
		t.Error("open gate must not have pending repair")
	}

	// Signal count equals the number of open->blocked transitions recorded.
	closedEvents := 0
	for _, event := range state.GateHistory {
		if event.Action == types.GateActionClosed {
			closedEvents++
		}
	}
	if signals != closedEvents {
		t.Errorf("signals emitted (%d) != closed transitions recorded (%d)", signals, closedEvents)
	}
}

func TestParallelRelationshipsDoNotInterfere(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("rel:%d", n)
			level := 0.1
			if n%2 == 0 {
				level = 0.9
			}
			if _, err := k.ComputeRisk(ctx, id, allLow(level)); err != nil {
				t.Errorf("ComputeRisk(%s) failed: %v", id, err)
			}
			if _, err := k.EmitIfRuptured(ctx, id); err != nil {
				t.Errorf("EmitIfRuptured(%s) failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("rel:%d", i)
		gate, err := k.GateCheck(ctx, id)
		if err != nil {
			t.Fatalf("GateCheck(%s) failed: %v", id, err)
		}
		want := types.GateBlocked // low primitives, risk 0.9
		if i%2 == 0 {
			want = types.GateOpen // healthy primitives, risk 0.1
		}
		if gate != want {
			t.Errorf("%s gate: got %q, want %q", id, gate, want)
		}
	}
}

func TestStorageFailureSurfacesToCaller(t *testing.T) {
	k, err := New(failingStore{})
	if err != nil {
		t.Fatalf("failed to create kernel: %v", err)
	}
	ctx := context.Background()

	if _, err := k.ComputeRisk(ctx, "rel:1", SignalInputs{}); err == nil {
		t.Error("ComputeRisk() should propagate storage failure")
	}
	if _, err := k.GateCheck(ctx, "rel:1"); err == nil {
		t.Error("GateCheck() should propagate storage failure")
	}
}

// failingStore is a RelationStore whose every operation fails.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Load(context.Context, string) (*types.RelationState, error) {
	return nil, errStoreDown
}
func (failingStore) Save(context.Context, string, *types.RelationState) error { return errStoreDown }
func (failingStore) Delete(context.Context, string) error                     { return errStoreDown }
func (failingStore) List(context.Context, storage.ListOptions) (*storage.PaginatedResult[types.RelationState], error) {
	return nil, errStoreDown
}
func (failingStore) Close() error { return nil }
