// Package inference implements the Active Inference engine and its
// value-augmented variant: belief update, expected-free-energy policy
// inference, and softmax action sampling.
package inference

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/wuweilabs/cogkernel/internal/action"
	"github.com/wuweilabs/cogkernel/internal/events"
)

// EngineConfig carries the EFE weighting and softmax temperature the
// source left as configuration rather than fixed constants, along with
// the raw-observation thresholds for the two direct homeostatic
// triggers (energy_critical, goal_achieved).
type EngineConfig struct {
	PragmaticWeight         float64
	EpistemicWeight         float64
	Temperature             float64
	EnergyCriticalThreshold int
	GoalTaskThreshold       int
	RNG                     *rand.Rand
	Logger                  *slog.Logger
}

// DefaultEngineConfig returns the documented defaults for the Open
// Question left by spec.md §9: pragmatic value dominates epistemic
// value, and the softmax is unscaled.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PragmaticWeight:         1.0,
		EpistemicWeight:         0.5,
		Temperature:             1.0,
		EnergyCriticalThreshold: 0,
		GoalTaskThreshold:       3,
	}
}

// InvariantViolationError marks an observation or resulting belief
// state that violates the engine's invariants (off-domain observation,
// non-normalised beliefs, NaN). It is fatal to the current step; the
// loop may continue on the next cycle with the previous belief state.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("inference: invariant violation: %s", e.Reason)
}

// BeliefsUpdatedPayload is published on events.TopicAIBeliefsUpdated.
type BeliefsUpdatedPayload struct {
	Beliefs  Beliefs
	Surprise float64
}

// PolicyInferredPayload is published on events.TopicAIPolicyInferred.
type PolicyInferredPayload struct {
	Policy Policy
}

// ActionSelectedPayload is published on events.TopicAIActionSelected.
type ActionSelectedPayload struct {
	Action action.V1
}

// SurprisePayload is published on events.TopicAISurprise.
type SurprisePayload struct {
	Value float64
}

// EnergyCriticalPayload is published on events.TopicAIEnergyCritical.
type EnergyCriticalPayload struct {
	Observation Observation
}

// GoalAchievedPayload is published on events.TopicAIGoalAchieved.
type GoalAchievedPayload struct {
	Observation Observation
}

// InvariantViolationPayload is published on
// events.TopicConsciousnessInvariantViolation.
type InvariantViolationPayload struct {
	Reason string
}

// Stats is a running summary of an engine's activity across its steps.
type Stats struct {
	StepCount       int
	ActionHistogram map[action.V1]int
	MeanSurprise    float64
}

// State is a snapshot of each hidden factor's most likely value.
type State struct {
	Viability    int
	WorldState   int
	Coupling     int
	GoalProgress int
}

// Engine maintains categorical beliefs over four hidden factors and
// selects actions by Active Inference: belief update, per-action
// expected-free-energy scoring, and softmax action sampling.
type Engine struct {
	bus    *events.Bus
	cfg    EngineConfig
	logger *slog.Logger
	rng    *rand.Rand

	mu              sync.Mutex
	beliefs         Beliefs
	hasStepped      bool
	stepCount       int
	actionHistogram map[action.V1]int
	surpriseSum     float64
}

// New constructs an Engine publishing to bus.
func New(bus *events.Bus, cfg EngineConfig) *Engine {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		bus:             bus,
		cfg:             cfg,
		logger:          logger,
		rng:             rng,
		actionHistogram: make(map[action.V1]int),
	}
}

// Step performs one synchronous belief-update / policy-inference /
// action-selection cycle for obs, publishing the events described in
// spec.md §4.2.
func (e *Engine) Step(obs Observation) (action.V1, error) {
	a, _, err := e.stepInternal(obs, nil)
	return a, err
}

// stepInternal is shared by Engine.Step and ValueAugmentedEngine.Step.
// bonus, when non-nil, is called with the freshly computed posterior
// and returns a per-action additive term (in EFE-score units) folded
// into the softmax alongside -EFE.
func (e *Engine) stepInternal(obs Observation, bonus func(Beliefs) []float64) (action.V1, Beliefs, error) {
	if err := obs.Validate(); err != nil {
		e.bus.Publish(events.TopicConsciousnessInvariantViolation, InvariantViolationPayload{Reason: err.Error()})
		return 0, Beliefs{}, &InvariantViolationError{Reason: err.Error()}
	}

	e.mu.Lock()
	prior := e.beliefs
	firstStep := !e.hasStepped
	e.mu.Unlock()

	likelihood := likelihoodFromObservation(obs)
	posterior := updateBeliefs(prior, likelihood, firstStep)

	if !posterior.Valid() {
		e.bus.Publish(events.TopicConsciousnessInvariantViolation, InvariantViolationPayload{Reason: "posterior beliefs failed normalisation"})
		return 0, Beliefs{}, &InvariantViolationError{Reason: "posterior beliefs failed normalisation"}
	}

	surprise := 0.0
	if !firstStep {
		surprise = klDivergence(posterior.Viability, prior.Viability) +
			klDivergence(posterior.WorldState, prior.WorldState) +
			klDivergence(posterior.Coupling, prior.Coupling) +
			klDivergence(posterior.GoalProgress, prior.GoalProgress)
	}

	e.mu.Lock()
	e.beliefs = posterior
	e.hasStepped = true
	e.stepCount++
	e.surpriseSum += surprise
	e.mu.Unlock()

	e.bus.Publish(events.TopicAIBeliefsUpdated, BeliefsUpdatedPayload{Beliefs: posterior, Surprise: surprise})

	efe := efeScores(posterior, e.cfg)
	var valueBonus []float64
	if bonus != nil {
		valueBonus = bonus(posterior)
	}
	policy := softmax(efe, valueBonus, e.cfg.Temperature)
	e.bus.Publish(events.TopicAIPolicyInferred, PolicyInferredPayload{Policy: policy})

	selected := e.sample(policy)
	e.mu.Lock()
	e.actionHistogram[selected]++
	e.mu.Unlock()
	e.bus.Publish(events.TopicAIActionSelected, ActionSelectedPayload{Action: selected})
	e.bus.Publish(events.TopicAISurprise, SurprisePayload{Value: surprise})

	if obs.Energy <= e.cfg.EnergyCriticalThreshold {
		e.bus.Publish(events.TopicAIEnergyCritical, EnergyCriticalPayload{Observation: obs})
	}
	if obs.Task >= e.cfg.GoalTaskThreshold {
		e.bus.Publish(events.TopicAIGoalAchieved, GoalAchievedPayload{Observation: obs})
	}

	return selected, posterior, nil
}

func (e *Engine) sample(p Policy) action.V1 {
	r := e.rng.Float64()
	var cum float64
	for i, w := range p {
		cum += w
		if r <= cum {
			return action.V1(i)
		}
	}
	return action.V1(len(p) - 1)
}

// Beliefs returns a snapshot of the engine's current beliefs.
func (e *Engine) Beliefs() Beliefs {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beliefs
}

// MostLikelyState returns the mode of each hidden factor's belief
// distribution.
func (e *Engine) MostLikelyState() State {
	b := e.Beliefs()
	return State{
		Viability:    b.Viability.Mode(),
		WorldState:   b.WorldState.Mode(),
		Coupling:     b.Coupling.Mode(),
		GoalProgress: b.GoalProgress.Mode(),
	}
}

// Stats returns the running action histogram and mean surprise.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := make(map[action.V1]int, len(e.actionHistogram))
	for k, v := range e.actionHistogram {
		hist[k] = v
	}
	mean := 0.0
	if e.stepCount > 0 {
		mean = e.surpriseSum / float64(e.stepCount)
	}
	return Stats{StepCount: e.stepCount, ActionHistogram: hist, MeanSurprise: mean}
}

func likelihoodFromObservation(obs Observation) Beliefs {
	viabilityScore := 0.6*normalize(obs.Energy) + 0.2*normalize(obs.Phi) + 0.2*normalize(obs.Coherence)
	worldScore := 0.5*normalize(obs.Phi) + 0.5*normalize(obs.Coherence)
	couplingScore := normalize(obs.Tool)
	goalScore := normalize(obs.Task)

	return Beliefs{
		Viability:    hatLikelihood(viabilityScore),
		WorldState:   hatLikelihood(worldScore),
		Coupling:     hatLikelihood(couplingScore),
		GoalProgress: hatLikelihood(goalScore),
	}
}

// updateBeliefs folds likelihood into prior. On the first step (no
// prior observation yet), the posterior is the likelihood itself —
// blending with an arbitrary flat prior would bias the very first
// inference away from evidence that is already available. Every
// subsequent step is an exponential moving average of the previous
// posterior and the new likelihood.
func updateBeliefs(prior, likelihood Beliefs, firstStep bool) Beliefs {
	if firstStep {
		return likelihood
	}
	const alpha = 0.5
	return Beliefs{
		Viability:    blend(prior.Viability, likelihood.Viability, alpha),
		WorldState:   blend(prior.WorldState, likelihood.WorldState, alpha),
		Coupling:     blend(prior.Coupling, likelihood.Coupling, alpha),
		GoalProgress: blend(prior.GoalProgress, likelihood.GoalProgress, alpha),
	}
}
