package inference

import (
	"math"

	"github.com/wuweilabs/cogkernel/internal/action"
)

// Policy is a probability vector over the finite action set, indexed by
// action.V1.Index(). It sums to 1 within epsilon.
type Policy []float64

// Mode returns the action with the highest policy entry, breaking ties
// by declaration order (lowest action.Index()).
func (p Policy) Mode() action.V1 {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return action.V1(best)
}

// neutralPragmaticCost is the flat baseline cost assigned to actions
// whose attractiveness is not directly tied to a belief factor
// (Explore, Exploit, Communicate). It sits strictly between the
// extremes Recover/Rest/Consolidate can reach, so it never masks a
// strong pull toward or away from those targeted actions.
const neutralPragmaticCost = 0.6

// efeScores computes one expected-free-energy score per action in
// canonical order. Pragmatic cost pulls Recover toward a critical
// viability belief, Rest toward an optimal one, and Consolidate toward
// an achieved goal-progress belief; Explore, Exploit, and Communicate
// carry a flat baseline. Explore additionally receives an epistemic
// bonus (negative cost, lowering its EFE) proportional to the belief
// set's normalised entropy, but only while viability's mode is
// Suboptimal: under threat (Critical) curiosity is suppressed by
// urgency, and at equilibrium (Optimal) there is nothing left to
// resolve by exploring.
func efeScores(b Beliefs, cfg EngineConfig) []float64 {
	scores := make([]float64, action.Arity())

	pragmatic := map[action.V1]float64{
		action.Explore:     neutralPragmaticCost,
		action.Exploit:     neutralPragmaticCost,
		action.Communicate: neutralPragmaticCost,
		action.Recover:     1 - b.Viability[ViabilityCritical],
		action.Rest:        1 - b.Viability[ViabilityOptimal],
		action.Consolidate: 1 - b.GoalProgress[GoalAchieved],
	}

	epistemicBonus := 0.0
	if b.Viability.Mode() == ViabilitySuboptimal {
		epistemicBonus = -b.meanNormalizedEntropy()
	}

	for _, a := range action.All() {
		score := cfg.PragmaticWeight * pragmatic[a]
		if a == action.Explore {
			score += cfg.EpistemicWeight * epistemicBonus
		}
		scores[a.Index()] = score
	}
	return scores
}

// softmax turns EFE scores (and, for a value-augmented engine, a value
// bonus added per §4.2's π(a|s) ∝ exp(−EFE(a) + λ·V(s′))) into a Policy.
// A temperature <= 0 is treated as 1 (no scaling).
func softmax(efe []float64, valueBonus []float64, temperature float64) Policy {
	if temperature <= 0 {
		temperature = 1
	}
	logits := make([]float64, len(efe))
	maxLogit := math.Inf(-1)
	for i := range efe {
		bonus := 0.0
		if valueBonus != nil {
			bonus = valueBonus[i]
		}
		logits[i] = (-efe[i] + bonus) / temperature
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}
	p := make(Policy, len(efe))
	var sum float64
	for i, l := range logits {
		p[i] = math.Exp(l - maxLogit)
		sum += p[i]
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}
