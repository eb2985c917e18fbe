// Package orchestrator implements StreamOrchestrator, the single-stream
// state machine that drives one logical LLM turn through token, tool,
// and thinking events, executes tool calls, enforces turn-level caps,
// and exposes a live metrics snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wuweilabs/cogkernel/internal/provider"
)

// State is one node of the orchestrator's state machine.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateToolExecuting
	StateThinking
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateToolExecuting:
		return "tool_executing"
	case StateThinking:
		return "thinking"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrMaxToolCalls is the code carried by the Error event emitted when
// maxToolCalls is exceeded; the turn then ends in completed, not error.
const ErrMaxToolCalls = "MAX_TOOL_CALLS"

// ToolHandler executes one tool call and returns its result content.
// A tool with no registered handler is reported to the caller but
// does not abort the stream.
type ToolHandler interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// ToolHandlerFunc adapts a function to a ToolHandler.
type ToolHandlerFunc func(ctx context.Context, name string, args map[string]any) (string, error)

func (f ToolHandlerFunc) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}

// ModelCost is a model's per-million-token pricing.
type ModelCost struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Metrics is the orchestrator's live, continuously updated snapshot.
type Metrics struct {
	InputTokens      int
	OutputTokens     int
	ThinkingTokens   int
	TokensPerSecond  float64
	TimeToFirstToken time.Duration
	ToolCallCount    int
	ToolLatency      time.Duration
	EstimatedCostUSD float64
}

// Checkpoint captures enough state to resume a turn later: the content
// streamed so far, the metrics at that point, and the state the
// orchestrator was in.
type Checkpoint struct {
	ContentSoFar string
	Metrics      Metrics
	State        State
	Messages     []provider.Message
}

// Config configures one StreamOrchestrator.
type Config struct {
	MaxToolCalls int
	CostTable    map[string]ModelCost
	Tools        map[string]ToolHandler
	Logger       *slog.Logger
}

// StreamOrchestrator drives one logical turn against a
// provider.ProviderAdapter, resolving tool calls via registered
// ToolHandlers and re-entering the adapter until a terminal Done.
type StreamOrchestrator struct {
	adapter provider.ProviderAdapter
	cfg     Config
	logger  *slog.Logger

	mu           sync.Mutex
	state        State
	metrics      Metrics
	contentSoFar string
	firstTokenAt time.Time
	startedAt    time.Time
	cancel       context.CancelFunc
}

// New constructs a StreamOrchestrator over adapter.
func New(adapter provider.ProviderAdapter, cfg Config) *StreamOrchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 50
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]ToolHandler{}
	}
	return &StreamOrchestrator{adapter: adapter, cfg: cfg, logger: cfg.Logger, state: StateIdle}
}

// State returns the orchestrator's current state.
func (o *StreamOrchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Metrics returns a snapshot of the orchestrator's live metrics.
func (o *StreamOrchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics
}

// Checkpoint captures the orchestrator's current state for later
// resumption via ResumeFrom.
func (o *StreamOrchestrator) Checkpoint(messages []provider.Message) Checkpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Checkpoint{
		ContentSoFar: o.contentSoFar,
		Metrics:      o.metrics,
		State:        o.state,
		Messages:     append([]provider.Message(nil), messages...),
	}
}

// Abort cancels the underlying adapter stream and transitions to
// completed. Safe to call even if no turn is in flight.
func (o *StreamOrchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	if o.state != StateCompleted && o.state != StateError {
		o.state = StateCompleted
	}
}

func (o *StreamOrchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Execute runs one turn: it streams from the adapter, transparently
// loops through any tool calls the model issues (re-entering the
// adapter with the assistant prefix and tool results appended to the
// conversation), and forwards every event it sees to the returned
// channel. The channel closes once the turn reaches completed or
// error.
func (o *StreamOrchestrator) Execute(ctx context.Context, messages []provider.Message, opts provider.StreamOptions) (<-chan provider.StreamEvent, error) {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateCompleted && o.state != StateError {
		o.mu.Unlock()
		return nil, errors.New("orchestrator: turn already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = StateStreaming
	o.metrics = Metrics{}
	o.contentSoFar = ""
	o.firstTokenAt = time.Time{}
	o.startedAt = time.Now()
	o.mu.Unlock()

	out := make(chan provider.StreamEvent)
	go o.run(runCtx, cancel, append([]provider.Message(nil), messages...), opts, out)
	return out, nil
}

// ResumeFrom continues a checkpointed turn: it restores the captured
// metrics and content as the starting snapshot, appends the
// checkpoint's content to cp.Messages as an assistant prefix, and
// streams a new turn against that conversation the way Execute does.
func (o *StreamOrchestrator) ResumeFrom(ctx context.Context, cp Checkpoint, opts provider.StreamOptions) (<-chan provider.StreamEvent, error) {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateCompleted && o.state != StateError {
		o.mu.Unlock()
		return nil, errors.New("orchestrator: turn already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = StateStreaming
	o.metrics = cp.Metrics
	o.contentSoFar = cp.ContentSoFar
	o.firstTokenAt = time.Time{}
	if cp.Metrics.TimeToFirstToken > 0 {
		o.firstTokenAt = time.Now() // keep the captured TimeToFirstToken
	}
	o.startedAt = time.Now()
	o.mu.Unlock()

	messages := append([]provider.Message(nil), cp.Messages...)
	if cp.ContentSoFar != "" {
		messages = append(messages, provider.Message{Role: "assistant", Content: cp.ContentSoFar})
	}
	out := make(chan provider.StreamEvent)
	go o.run(runCtx, cancel, messages, opts, out)
	return out, nil
}

func (o *StreamOrchestrator) run(ctx context.Context, cancel context.CancelFunc, messages []provider.Message, opts provider.StreamOptions, out chan<- provider.StreamEvent) {
	defer close(out)
	defer cancel()

	toolCallsSoFar := 0

	for {
		events, err := o.adapter.Stream(ctx, messages, opts)
		if err != nil {
			o.emitError(out, "ADAPTER_START_FAILED", err.Error(), false)
			o.setState(StateError)
			return
		}

		leg := o.drain(ctx, events, out, messages, &toolCallsSoFar)
		if leg.stop {
			return
		}
		if !leg.hasMoreWork {
			o.setState(StateCompleted)
			return
		}
		messages = leg.nextMessages
	}
}

// legResult reports how one adapter stream (one "leg" of a possibly
// multi-leg tool-calling turn) ended.
type legResult struct {
	hasMoreWork  bool // true: tool calls were resolved; loop again with nextMessages
	nextMessages []provider.Message
	stop         bool // true: run() must stop immediately (cancel, non-retryable error, or stream closed without Done)
}

// drain reads one adapter stream to completion, executing any tool
// calls it requests once the stream reaches Done.
func (o *StreamOrchestrator) drain(ctx context.Context, events <-chan provider.StreamEvent, out chan<- provider.StreamEvent, messages []provider.Message, toolCallsSoFar *int) legResult {
	var calls []toolCall

	for {
		select {
		case <-ctx.Done():
			o.setState(StateCompleted)
			return legResult{stop: true}
		case ev, ok := <-events:
			if !ok {
				return legResult{stop: true}
			}
			switch e := ev.(type) {
			case provider.TokenEvent:
				o.recordToken(e.Content)
				forward(out, ev)
			case provider.ThinkingStartEvent:
				o.setState(StateThinking)
				forward(out, ev)
			case provider.ThinkingTokenEvent:
				o.mu.Lock()
				o.metrics.ThinkingTokens++
				o.mu.Unlock()
				forward(out, ev)
			case provider.ThinkingEndEvent:
				o.setState(StateStreaming)
				forward(out, ev)
			case provider.MetadataEvent:
				o.applyUsage(e)
				forward(out, ev)
			case provider.ToolStartEvent:
				*toolCallsSoFar++
				if *toolCallsSoFar > o.cfg.MaxToolCalls {
					o.emitError(out, ErrMaxToolCalls, fmt.Sprintf("maxToolCalls (%d) exceeded", o.cfg.MaxToolCalls), false)
					return legResult{stop: false, hasMoreWork: false}
				}
				o.setState(StateToolExecuting)
				forward(out, ev)
				calls = append(calls, toolCall{id: e.ToolCallID, name: e.Name, args: e.Args})
			case provider.ErrorEvent:
				forward(out, ev)
				if !e.Retryable {
					o.setState(StateError)
					return legResult{stop: true}
				}
			case provider.DoneEvent:
				if len(calls) == 0 {
					// Final leg: this Done is the turn's externally
					// observed completion.
					forward(out, ev)
					return legResult{stop: false, hasMoreWork: false}
				}
				// A leg that ends with pending tool calls is an internal
				// boundary, not the turn's Done; the caller only ever
				// observes one Done, once every tool call has resolved
				// and the model has nothing left to say.
				return legResult{stop: false, hasMoreWork: true, nextMessages: o.resolveToolCalls(ctx, messages, calls, out)}
			}
		}
	}
}

// toolCall is one pending tool invocation collected while draining an
// adapter stream, resolved once the stream reaches Done.
type toolCall struct {
	id   string
	name string
	args map[string]any
}

func (o *StreamOrchestrator) resolveToolCalls(ctx context.Context, messages []provider.Message, calls []toolCall, out chan<- provider.StreamEvent) []provider.Message {
	next := append([]provider.Message(nil), messages...)
	if o.snapshotContent() != "" {
		next = append(next, provider.Message{Role: "assistant", Content: o.snapshotContent()})
	}

	for _, c := range calls {
		handler, ok := o.cfg.Tools[c.name]
		start := time.Now()
		var result string
		var success bool
		var err error
		if !ok {
			result = fmt.Sprintf("tool %q has no registered handler", c.name)
			success = false
		} else {
			result, err = handler.Execute(ctx, c.name, c.args)
			success = err == nil
			if err != nil {
				result = "error: " + err.Error()
			}
		}
		duration := time.Since(start)

		o.mu.Lock()
		o.metrics.ToolCallCount++
		o.metrics.ToolLatency += duration
		o.mu.Unlock()

		forward(out, provider.ToolResultEvent{ToolCallID: c.id, Content: result, Success: success, Duration: duration})
		next = append(next, provider.Message{Role: "user", Content: fmt.Sprintf("tool_result[%s]: %s", c.id, result)})
	}

	o.setState(StateStreaming)
	return next
}

func (o *StreamOrchestrator) snapshotContent() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.contentSoFar
}

func (o *StreamOrchestrator) recordToken(content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.firstTokenAt.IsZero() {
		o.firstTokenAt = time.Now()
		o.metrics.TimeToFirstToken = o.firstTokenAt.Sub(o.startedAt)
	}
	o.contentSoFar += content
	o.metrics.OutputTokens++
	elapsed := time.Since(o.startedAt).Seconds()
	if elapsed > 0 {
		o.metrics.TokensPerSecond = float64(o.metrics.OutputTokens) / elapsed
	}
}

// applyUsage records provider-reported input/thinking token counts and
// cost. OutputTokens is deliberately left to recordToken: it must equal
// the number of Token events yielded in the run, not a provider-reported
// count that may diverge from what was actually streamed.
func (o *StreamOrchestrator) applyUsage(e provider.MetadataEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.InputTokens = e.Usage.InputTokens
	o.metrics.ThinkingTokens = e.Usage.ThinkingTokens
	cost, ok := o.cfg.CostTable[e.Model]
	if !ok {
		o.metrics.EstimatedCostUSD = 0
		return
	}
	o.metrics.EstimatedCostUSD = float64(o.metrics.InputTokens)/1_000_000*cost.InputPerMillion +
		float64(o.metrics.OutputTokens)/1_000_000*cost.OutputPerMillion
}

func (o *StreamOrchestrator) emitError(out chan<- provider.StreamEvent, code, message string, retryable bool) {
	forward(out, provider.ErrorEvent{Code: code, Message: message, Retryable: retryable})
}

func forward(out chan<- provider.StreamEvent, ev provider.StreamEvent) {
	out <- ev
}
