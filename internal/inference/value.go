package inference

import (
	"sync"

	"github.com/wuweilabs/cogkernel/internal/action"
	"github.com/wuweilabs/cogkernel/internal/events"
)

// ValueFunction scores a belief state, giving the value-augmented
// engine a λ·V(s′) term to add to its policy logits alongside -EFE.
type ValueFunction interface {
	Evaluate(Beliefs) (value float64, components map[string]float64)
}

// DefaultValueFunction rewards belief mass on the two "home" states:
// optimal viability and achieved goal-progress.
type DefaultValueFunction struct{}

// Evaluate implements ValueFunction.
func (DefaultValueFunction) Evaluate(b Beliefs) (float64, map[string]float64) {
	viability := b.Viability[ViabilityOptimal]
	goal := b.GoalProgress[GoalAchieved]
	return viability + goal, map[string]float64{
		"viability_optimal": viability,
		"goal_achieved":     goal,
	}
}

// ValueAugmentedEngine wraps an Engine with a ValueFunction, adding
// λ·V(s′) to every action's policy logit: π(a|s) ∝ exp(−EFE(a) + λ·V(s′)).
// The core has no per-action state-transition model, so s′ is
// approximated as the posterior belief state already computed for the
// step — shared by every candidate action. V(s′) is therefore a
// uniform additive term across the policy, not a per-action
// differentiator; since softmax is unchanged by adding the same value
// to every logit, the resulting policy equals the plain Engine's. V(s′)
// is recorded for inspection via ValueHistory.
type ValueAugmentedEngine struct {
	*Engine
	vf     ValueFunction
	lambda float64

	mu           sync.Mutex
	valueHistory []float64
}

// NewValueAugmented constructs a ValueAugmentedEngine. A nil vf falls
// back to DefaultValueFunction.
func NewValueAugmented(bus *events.Bus, cfg EngineConfig, vf ValueFunction, lambda float64) *ValueAugmentedEngine {
	if vf == nil {
		vf = DefaultValueFunction{}
	}
	return &ValueAugmentedEngine{
		Engine: New(bus, cfg),
		vf:     vf,
		lambda: lambda,
	}
}

// Step performs one engine step with the value bonus folded into the
// policy, and records V(s′) in the value history.
func (e *ValueAugmentedEngine) Step(obs Observation) (action.V1, error) {
	var lastValue float64
	bonusFn := func(posterior Beliefs) []float64 {
		v, _ := e.vf.Evaluate(posterior)
		lastValue = v
		bonus := make([]float64, action.Arity())
		for i := range bonus {
			bonus[i] = e.lambda * v
		}
		return bonus
	}

	selected, _, err := e.Engine.stepInternal(obs, bonusFn)
	if err != nil {
		return selected, err
	}

	e.mu.Lock()
	e.valueHistory = append(e.valueHistory, lastValue)
	e.mu.Unlock()
	return selected, nil
}

// ValueHistory returns the per-step V(s′) values recorded so far, in
// step order.
func (e *ValueAugmentedEngine) ValueHistory() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.valueHistory))
	copy(out, e.valueHistory)
	return out
}

// CumulativeMeanValue returns, for each recorded step, the running
// mean of ValueHistory up to and including that step.
func (e *ValueAugmentedEngine) CumulativeMeanValue() []float64 {
	hist := e.ValueHistory()
	out := make([]float64, len(hist))
	var sum float64
	for i, v := range hist {
		sum += v
		out[i] = sum / float64(i+1)
	}
	return out
}
