// Package loop implements AutonomousLoop, the timed driver that
// composes observation gathering, an Active Inference engine step, and
// action execution into a running cycle.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/wuweilabs/cogkernel/internal/action"
	"github.com/wuweilabs/cogkernel/internal/events"
	"github.com/wuweilabs/cogkernel/internal/inference"
	"github.com/wuweilabs/cogkernel/internal/kernellog"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("loop: already running")

// Engine is the subset of *inference.Engine / *inference.ValueAugmentedEngine
// the loop depends on.
type Engine interface {
	Step(inference.Observation) (action.V1, error)
	Beliefs() inference.Beliefs
	Stats() inference.Stats
}

// ObservationGatherer produces one Observation per cycle. It should be a
// pure, non-blocking read from whatever sources it wraps.
type ObservationGatherer interface {
	Gather() (inference.Observation, error)
}

// CycleContext is handed to an ActionExecutor and to OnCycle callbacks.
type CycleContext struct {
	CycleIndex int
	Beliefs    inference.Beliefs
}

// ActionResult reports the outcome of executing one action.
type ActionResult struct {
	Success  bool
	Action   action.V1
	Data     any
	Error    string
	Duration time.Duration
}

// ActionExecutor carries out the action the engine selected. A non-nil
// error is treated as a fatal loop failure (spec's "exception raised by
// an action executor"); an in-band failure that should not stop the
// loop belongs in ActionResult.Error instead.
type ActionExecutor interface {
	Execute(ctx context.Context, a action.V1, cycleCtx CycleContext) (ActionResult, error)
}

// LoopConfig configures stopping predicates and pacing.
type LoopConfig struct {
	CycleInterval        time.Duration
	MaxCycles            int
	StopOnGoalAchieved   bool
	StopOnEnergyCritical bool
	StopOnHighSurprise   bool
	SurpriseThreshold    float64
	Verbose              bool
}

// CyclePayload is published on events.TopicKernelCycle after every cycle.
type CyclePayload struct {
	CycleIndex int
	Action     action.V1
	Beliefs    inference.Beliefs
}

// PanicPayload is published on events.TopicKernelPanic when a callback
// panics.
type PanicPayload struct {
	Source    string
	Recovered any
}

// AutonomousLoop drives repeated cycles of
// gather -> engine.Step -> executor.Execute -> event emissions -> sleep.
type AutonomousLoop struct {
	bus      *events.Bus
	engine   Engine
	gatherer ObservationGatherer
	executor ActionExecutor
	cfg      LoopConfig
	logger   *slog.Logger

	goalSub   *events.Subscription
	energySub *events.Subscription

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	stopReason     string
	goalAchieved   bool
	energyCritical bool
	cycleHandlers  []func(CycleContext)
	stopHandlers   []func(reason string)
}

// New constructs an AutonomousLoop. executor may be nil for an
// engine-only run (the loop then executes nothing and never stops on
// executor error). A nil gatherer stops Run at its first cycle with an
// "error: no observation gatherer configured" reason.
func New(bus *events.Bus, engine Engine, gatherer ObservationGatherer, executor ActionExecutor, cfg LoopConfig, logger *slog.Logger) *AutonomousLoop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &AutonomousLoop{
		bus:      bus,
		engine:   engine,
		gatherer: gatherer,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
	l.goalSub = bus.Subscribe(events.TopicAIGoalAchieved, func(events.Event) {
		l.mu.Lock()
		l.goalAchieved = true
		l.mu.Unlock()
	})
	l.energySub = bus.Subscribe(events.TopicAIEnergyCritical, func(events.Event) {
		l.mu.Lock()
		l.energyCritical = true
		l.mu.Unlock()
	})
	return l
}

// Close unsubscribes the loop's internal bus listeners. Call once the
// loop will no longer be run.
func (l *AutonomousLoop) Close() {
	l.goalSub.Unsubscribe()
	l.energySub.Unsubscribe()
}

// OnCycle registers a callback invoked after every completed cycle.
func (l *AutonomousLoop) OnCycle(handler func(CycleContext)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycleHandlers = append(l.cycleHandlers, handler)
}

// OnStop registers a callback invoked once, when the loop stops.
func (l *AutonomousLoop) OnStop(handler func(reason string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopHandlers = append(l.stopHandlers, handler)
}

// Stop requests the loop halt at the next cycle boundary with reason.
// The first call to Stop (or the first internal stop condition) wins;
// later calls are no-ops.
func (l *AutonomousLoop) Stop(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	if l.stopReason == "" {
		l.stopReason = reason
	}
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

// Run drives cycles until a stopping predicate fires. maxCycles <= 0
// falls back to cfg.MaxCycles (itself <= 0 meaning unbounded by cycle
// count). Run is not re-entrant: a second concurrent call returns
// ErrAlreadyRunning.
func (l *AutonomousLoop) Run(maxCycles int) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.stopReason = ""
	l.goalAchieved = false
	l.energyCritical = false
	l.mu.Unlock()

	requestID := kernellog.NewRequestID()
	log := kernellog.WithRequest(l.logger, requestID)

	limit := maxCycles
	if limit <= 0 {
		limit = l.cfg.MaxCycles
	}

	log.Info("loop run started", "max_cycles", limit)
	reason := l.runCycles(limit, log)
	log.Info("loop run stopped", "reason", reason)

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	l.fireOnStop(reason, log)
	return nil
}

func (l *AutonomousLoop) runCycles(limit int, log *slog.Logger) string {
	cycle := 0
	for {
		select {
		case <-l.stopCh:
			return l.currentStopReason()
		default:
		}

		if limit > 0 && cycle >= limit {
			return "max_cycles"
		}

		reason, stop := l.runOneCycle(cycle, log)
		if stop {
			return reason
		}
		cycle++

		if l.cfg.StopOnGoalAchieved && l.consumeGoalAchieved() {
			return "goal_achieved"
		}
		if l.cfg.StopOnEnergyCritical && l.consumeEnergyCritical() {
			return "energy_critical"
		}
		if l.cfg.StopOnHighSurprise && l.engine.Stats().MeanSurprise > l.cfg.SurpriseThreshold {
			return "high_surprise"
		}

		if l.cfg.CycleInterval > 0 {
			select {
			case <-time.After(l.cfg.CycleInterval):
			case <-l.stopCh:
				return l.currentStopReason()
			}
		} else {
			runtime.Gosched()
		}
	}
}

// runOneCycle performs one gather/step/execute/publish cycle. It
// returns (reason, true) if a fatal error stopped the loop. log is
// the request-scoped logger for this Run call; runOneCycle further
// scopes it by cycle before handing it to cycle callbacks.
func (l *AutonomousLoop) runOneCycle(cycle int, log *slog.Logger) (string, bool) {
	cycleLog := kernellog.WithCycle(log, cycle)

	if l.gatherer == nil {
		return "error: no observation gatherer configured", true
	}

	obs, err := l.gatherer.Gather()
	if err != nil {
		return fmt.Sprintf("error: %v", err), true
	}

	a, err := l.engine.Step(obs)
	if err != nil {
		return fmt.Sprintf("error: %v", err), true
	}
	beliefs := l.engine.Beliefs()
	cycleCtx := CycleContext{CycleIndex: cycle, Beliefs: beliefs}

	if l.executor != nil {
		if _, err := l.executor.Execute(context.Background(), a, cycleCtx); err != nil {
			return fmt.Sprintf("error: %v", err), true
		}
	}

	l.bus.Publish(events.TopicKernelCycle, CyclePayload{CycleIndex: cycle, Action: a, Beliefs: beliefs})
	cycleLog.Debug("cycle completed", "action", a.String())
	l.fireOnCycle(cycleCtx, cycleLog)
	return "", false
}

func (l *AutonomousLoop) consumeGoalAchieved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.goalAchieved
	l.goalAchieved = false
	return v
}

func (l *AutonomousLoop) consumeEnergyCritical() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.energyCritical
	l.energyCritical = false
	return v
}

func (l *AutonomousLoop) currentStopReason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopReason == "" {
		return "stopped"
	}
	return l.stopReason
}

func (l *AutonomousLoop) fireOnCycle(ctx CycleContext, log *slog.Logger) {
	l.mu.Lock()
	handlers := append([]func(CycleContext){}, l.cycleHandlers...)
	l.mu.Unlock()
	for _, h := range handlers {
		l.invokeCycleHandler(h, ctx, log)
	}
}

func (l *AutonomousLoop) invokeCycleHandler(h func(CycleContext), ctx CycleContext, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("onCycle handler panicked", "panic", r)
			l.bus.Publish(events.TopicKernelPanic, PanicPayload{Source: "onCycle", Recovered: r})
		}
	}()
	h(ctx)
}

func (l *AutonomousLoop) fireOnStop(reason string, log *slog.Logger) {
	l.mu.Lock()
	handlers := append([]func(string){}, l.stopHandlers...)
	l.mu.Unlock()
	for _, h := range handlers {
		l.invokeStopHandler(h, reason, log)
	}
}

func (l *AutonomousLoop) invokeStopHandler(h func(string), reason string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("onStop handler panicked", "panic", r)
			l.bus.Publish(events.TopicKernelPanic, PanicPayload{Source: "onStop", Recovered: r})
		}
	}()
	h(reason)
}
