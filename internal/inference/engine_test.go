package inference

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/wuweilabs/cogkernel/internal/action"
	"github.com/wuweilabs/cogkernel/internal/events"
)

func newTestEngine(seed int64) *Engine {
	bus := events.New(events.BusOptions{})
	cfg := DefaultEngineConfig()
	cfg.RNG = rand.New(rand.NewSource(seed))
	return New(bus, cfg)
}

func TestBeliefsAlwaysNormalized(t *testing.T) {
	e := newTestEngine(1)
	obs := Observation{Energy: 2, Phi: 3, Tool: 1, Coherence: 4, Task: 2}
	if _, err := e.Step(obs); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	b := e.Beliefs()
	if !b.Valid() {
		t.Fatalf("beliefs not valid: %+v", b)
	}
}

func TestPolicySumsToOneAndMatchesArity(t *testing.T) {
	e := newTestEngine(2)
	obs := Observation{Energy: 1, Phi: 1, Tool: 1, Coherence: 1, Task: 1}
	var gotPolicy Policy
	sub := e.bus.Subscribe(events.TopicAIPolicyInferred, func(ev events.Event) {
		gotPolicy = ev.Payload.(PolicyInferredPayload).Policy
	})
	defer sub.Unsubscribe()

	if _, err := e.Step(obs); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if len(gotPolicy) != action.Arity() {
		t.Fatalf("policy length = %d, want %d", len(gotPolicy), action.Arity())
	}
	var sum float64
	for _, p := range gotPolicy {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("policy sum = %v, want 1", sum)
	}
}

func TestInvariantViolationOnOffDomainObservation(t *testing.T) {
	e := newTestEngine(3)
	var violation InvariantViolationPayload
	sub := e.bus.Subscribe(events.TopicConsciousnessInvariantViolation, func(ev events.Event) {
		violation = ev.Payload.(InvariantViolationPayload)
	})
	defer sub.Unsubscribe()

	_, err := e.Step(Observation{Energy: 99})
	if err == nil {
		t.Fatal("expected error for off-domain observation")
	}
	var ive *InvariantViolationError
	if !errors.As(err, &ive) {
		t.Fatalf("error type = %T, want *InvariantViolationError", err)
	}
	if violation.Reason == "" {
		t.Fatal("expected consciousness.invariant.violation to be published")
	}
}

func TestAllMinimumObservationSelectsNonEmptyPolicy(t *testing.T) {
	e := newTestEngine(4)
	a, err := e.Step(Observation{})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if a.Index() < 0 || a.Index() >= action.Arity() {
		t.Fatalf("selected action index = %d, want in [0,%d)", a.Index(), action.Arity())
	}
	if !e.Beliefs().Valid() {
		t.Fatal("beliefs at the observation floor must still be valid")
	}
}

func TestSameSeedSameObservationsProducesIdenticalActionSequence(t *testing.T) {
	obsStream := []Observation{
		{Energy: 4, Phi: 2, Tool: 1, Coherence: 3, Task: 0},
		{Energy: 3, Phi: 2, Tool: 2, Coherence: 2, Task: 1},
		{Energy: 2, Phi: 3, Tool: 3, Coherence: 3, Task: 2},
	}
	run := func(seed int64) []action.V1 {
		e := newTestEngine(seed)
		var actions []action.V1
		for _, obs := range obsStream {
			a, err := e.Step(obs)
			if err != nil {
				t.Fatalf("Step() error = %v", err)
			}
			actions = append(actions, a)
		}
		return actions
	}
	first := run(42)
	second := run(42)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("action[%d] = %v, want %v (replay mismatch)", i, second[i], first[i])
		}
	}
}

// TestScenarioEnergyCritical is S1: a single step with Energy at its
// floor and nothing else contradicting it drives Viability's mode to
// Critical and selects Recover.
func TestScenarioEnergyCritical(t *testing.T) {
	e := newTestEngine(5)
	obs := Observation{Energy: 0, Phi: 2, Tool: 2, Coherence: 2, Task: 2}

	var policy Policy
	sub := e.bus.Subscribe(events.TopicAIPolicyInferred, func(ev events.Event) {
		policy = ev.Payload.(PolicyInferredPayload).Policy
	})
	defer sub.Unsubscribe()

	var energyCriticalFired bool
	sub2 := e.bus.Subscribe(events.TopicAIEnergyCritical, func(ev events.Event) {
		energyCriticalFired = true
	})
	defer sub2.Unsubscribe()

	if _, err := e.Step(obs); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !energyCriticalFired {
		t.Fatal("expected ai.energy_critical to fire at Energy=0")
	}
	if e.MostLikelyState().Viability != ViabilityCritical {
		t.Fatalf("viability mode = %d, want ViabilityCritical", e.MostLikelyState().Viability)
	}
	if policy.Mode() != action.Recover {
		t.Fatalf("top-probability action = %v, want Recover", policy.Mode())
	}
}

// TestScenarioViabilityOptimalSelectsRest is S2: a step whose
// viability-weighted dimensions sit at their ceiling drives Viability's
// mode to Optimal and selects Rest.
func TestScenarioViabilityOptimalSelectsRest(t *testing.T) {
	e := newTestEngine(6)
	obs := Observation{Energy: 4, Phi: 4, Tool: 2, Coherence: 4, Task: 1}

	var policy Policy
	sub := e.bus.Subscribe(events.TopicAIPolicyInferred, func(ev events.Event) {
		policy = ev.Payload.(PolicyInferredPayload).Policy
	})
	defer sub.Unsubscribe()

	if _, err := e.Step(obs); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if e.MostLikelyState().Viability != ViabilityOptimal {
		t.Fatalf("viability mode = %d, want ViabilityOptimal", e.MostLikelyState().Viability)
	}
	if policy.Mode() != action.Rest {
		t.Fatalf("top-probability action = %v, want Rest", policy.Mode())
	}
}

// TestScenarioValueAugmentedCumulativeMeanNonDecreasing is S3: over a
// five-step sequence that steadily improves viability and goal
// progress, the value-augmented engine's cumulative mean value must be
// non-decreasing from the second recorded step onward.
func TestScenarioValueAugmentedCumulativeMeanNonDecreasing(t *testing.T) {
	bus := events.New(events.BusOptions{})
	cfg := DefaultEngineConfig()
	cfg.RNG = rand.New(rand.NewSource(7))
	e := NewValueAugmented(bus, cfg, DefaultValueFunction{}, 1.0)

	obsStream := []Observation{
		{Energy: 1, Phi: 1, Tool: 1, Coherence: 1, Task: 0},
		{Energy: 1, Phi: 1, Tool: 1, Coherence: 1, Task: 0},
		{Energy: 1, Phi: 1, Tool: 1, Coherence: 1, Task: 0},
		{Energy: 3, Phi: 3, Tool: 2, Coherence: 3, Task: 3},
		{Energy: 4, Phi: 4, Tool: 3, Coherence: 4, Task: 4},
	}
	for _, obs := range obsStream {
		if _, err := e.Step(obs); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	means := e.CumulativeMeanValue()
	if len(means) != len(obsStream) {
		t.Fatalf("len(means) = %d, want %d", len(means), len(obsStream))
	}
	for i := 1; i < len(means); i++ {
		if means[i] < means[i-1]-1e-9 {
			t.Fatalf("cumulative mean value decreased at step %d: %v -> %v", i, means[i-1], means[i])
		}
	}
}

func TestSurpriseIsZeroOnFirstStep(t *testing.T) {
	e := newTestEngine(8)
	var surprise float64
	sub := e.bus.Subscribe(events.TopicAISurprise, func(ev events.Event) {
		surprise = ev.Payload.(SurprisePayload).Value
	})
	defer sub.Unsubscribe()

	if _, err := e.Step(Observation{Energy: 2, Phi: 2, Tool: 2, Coherence: 2, Task: 2}); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if surprise != 0 {
		t.Fatalf("surprise on first step = %v, want 0", surprise)
	}
}

func TestGoalAchievedFiresAtThreshold(t *testing.T) {
	e := newTestEngine(9)
	var fired bool
	sub := e.bus.Subscribe(events.TopicAIGoalAchieved, func(ev events.Event) {
		fired = true
	})
	defer sub.Unsubscribe()

	if _, err := e.Step(Observation{Energy: 2, Phi: 2, Tool: 2, Coherence: 2, Task: 3}); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !fired {
		t.Fatal("expected ai.goal_achieved to fire at Task=3")
	}
}

func TestStatsTracksHistogramAndMeanSurprise(t *testing.T) {
	e := newTestEngine(10)
	for i := 0; i < 3; i++ {
		if _, err := e.Step(Observation{Energy: 2, Phi: 2, Tool: 2, Coherence: 2, Task: i}); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	stats := e.Stats()
	if stats.StepCount != 3 {
		t.Fatalf("StepCount = %d, want 3", stats.StepCount)
	}
	var total int
	for _, n := range stats.ActionHistogram {
		total += n
	}
	if total != 3 {
		t.Fatalf("histogram total = %d, want 3", total)
	}
}
