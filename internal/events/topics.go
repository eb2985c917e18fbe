package events

// Topic namespaces form the closed set of dotted-string topics the core
// and its collaborators publish on. Each topic is bound to exactly one
// payload shape, documented beside the constant and defined in the
// package that owns the concern (inference.BeliefsUpdated,
// loop.CyclePayload, orchestrator payload types, and so on) — never an
// open "any"/"unknown" shape.
const (
	// TopicKernelCycle marks one AutonomousLoop cycle boundary.
	// Payload: loop.CyclePayload.
	TopicKernelCycle = "kernel.cycle"
	// TopicKernelMode marks a change in the kernel's operating mode.
	TopicKernelMode = "kernel.mode"
	// TopicKernelPredictionError carries a raw prediction-error signal
	// ahead of belief update.
	TopicKernelPredictionError = "kernel.prediction_error"
	// TopicKernelPanic is published by AutonomousLoop when an OnCycle
	// or OnStop callback panics and is recovered. A panicking bus
	// handler is recovered and logged by the bus, not published here.
	// Payload: loop.PanicPayload.
	TopicKernelPanic = "kernel.panic"

	// TopicAIBeliefsUpdated carries the posterior Beliefs after a step.
	// Payload: inference.BeliefsUpdatedPayload.
	TopicAIBeliefsUpdated = "ai.beliefs.updated"
	// TopicAIPolicyInferred carries the computed Policy before sampling.
	// Payload: inference.PolicyInferredPayload.
	TopicAIPolicyInferred = "ai.policy.inferred"
	// TopicAIActionSelected carries the sampled action.
	// Payload: inference.ActionSelectedPayload.
	TopicAIActionSelected = "ai.action.selected"
	// TopicAISurprise carries the step's KL-divergence surprise value.
	// Payload: inference.SurprisePayload.
	TopicAISurprise = "ai.surprise"
	// TopicAIEnergyCritical is published when the energy observation
	// dimension hits its minimum.
	// Payload: inference.EnergyCriticalPayload.
	TopicAIEnergyCritical = "ai.energy_critical"
	// TopicAIGoalAchieved is published when the task observation
	// dimension reaches the engine's goal threshold.
	// Payload: inference.GoalAchievedPayload.
	TopicAIGoalAchieved = "ai.goal_achieved"

	// TopicConsciousnessPhiUpdate carries an updated phi value from a
	// PhiProvider collaborator.
	TopicConsciousnessPhiUpdate = "consciousness.phi.update"
	// TopicConsciousnessIgnition is published when a collaborator's
	// workspace selects new contents; the core treats it as an ordinary
	// bus event with no special handling.
	TopicConsciousnessIgnition = "consciousness.ignition"
	// TopicConsciousnessInvariantViolation is published when an engine
	// step detects non-normalised beliefs, NaN, or an off-domain
	// observation.
	// Payload: inference.InvariantViolationPayload.
	TopicConsciousnessInvariantViolation = "consciousness.invariant.violation"
	// TopicConsciousnessAttentionShift marks a collaborator-reported
	// attention change.
	TopicConsciousnessAttentionShift = "consciousness.attention.shift"

	// TopicMemoryPrefix is the prefix namespace memory collaborators
	// publish under (recall, consolidation, learning).
	TopicMemoryPrefix = "memory."
	// TopicNeuromodPrefix is the prefix namespace neuromodulation
	// collaborators publish under.
	TopicNeuromodPrefix = "neuromod."

	// TopicEconomicCost is published by a collaborator reporting a spend.
	TopicEconomicCost = "economic.cost"
	// TopicEconomicRevenue is published by a collaborator reporting income.
	TopicEconomicRevenue = "economic.revenue"
	// TopicEconomicNessDeviation reports deviation from a collaborator's
	// "ness" (need-satisfaction) baseline.
	TopicEconomicNessDeviation = "economic.ness.deviation"

	// TopicContentPrefix is the prefix namespace content-publishing
	// collaborators publish under.
	TopicContentPrefix = "content."
	// TopicLifecyclePrefix is the prefix namespace process-lifecycle
	// events (start, shutdown) publish under.
	TopicLifecyclePrefix = "lifecycle."

	// TopicDevicePairingRequested asks a pairing collaborator to render
	// a new out-of-band pairing code. A side-channel action: it carries
	// no belief-state implication and is never dispatched through
	// loop.ActionExecutor.
	// Payload: pairing.Request.
	TopicDevicePairingRequested = "device.pairing.requested"
	// TopicDevicePairingCompleted carries the result of a pairing
	// request.
	// Payload: pairing.Completed.
	TopicDevicePairingCompleted = "device.pairing.completed"
)
