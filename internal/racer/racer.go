// Package racer implements ModelRacer: racing multiple provider.ProviderAdapter
// streams against each other under a chosen strategy, learning from the
// outcome via internal/latency.
package racer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wuweilabs/cogkernel/internal/latency"
	"github.com/wuweilabs/cogkernel/internal/provider"
)

// Strategy selects how candidates are raced.
type Strategy int

const (
	// StrategyTTFT starts every candidate at once; the first to yield a
	// token wins.
	StrategyTTFT Strategy = iota
	// StrategyHedged starts the best-scored candidate, then the
	// second-best after HedgeDelay if no token has arrived.
	StrategyHedged
	// StrategySpeculative commits to the fastest-scored candidate once it
	// has streamed SpeculativeTokens tokens.
	StrategySpeculative
	// StrategyQuality collapses to StrategyTTFT in this implementation;
	// reserved for an external verifier.
	StrategyQuality
)

// Config configures one ModelRacer.
type Config struct {
	Strategy             Strategy
	MaxRacers            int
	MaxRaceCost          float64
	TTFTTimeout          time.Duration
	HedgeDelay           time.Duration
	SpeculativeTokens    int
	SkipRacingConfidence float64
	PreferredProviders   []string
	ExcludeModels        map[string]bool
	EnableLearning       bool
}

// RaceError reports that a race produced no winner.
type RaceError struct {
	Reason string
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("racer: %s", e.Reason)
}

// Result is returned once a race has picked a winner, before its
// remaining tokens have been drained by the caller.
type Result struct {
	Winner   latency.RacingCandidate
	Events   <-chan provider.StreamEvent
	Savings  time.Duration
	Directly bool // true if the race was skipped via SkipRacingConfidence
}

// AdapterResolver maps a (provider, model) candidate to the concrete
// ProviderAdapter that serves it.
type AdapterResolver func(candidate latency.RacingCandidate) (provider.ProviderAdapter, bool)

// ModelRacer races candidates from a latency.Tracker against each
// other and records the outcome back into it.
type ModelRacer struct {
	tracker  *latency.Tracker
	resolve  AdapterResolver
	cfg      Config
	logger   *slog.Logger
}

// New constructs a ModelRacer.
func New(tracker *latency.Tracker, resolve AdapterResolver, cfg Config, logger *slog.Logger) *ModelRacer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelRacer{tracker: tracker, resolve: resolve, cfg: cfg, logger: logger}
}

// Race runs one race over messages/opts and returns the winning
// candidate's remaining event stream.
func (r *ModelRacer) Race(ctx context.Context, messages []provider.Message, opts provider.StreamOptions) (Result, error) {
	candidates := r.tracker.RacingCandidates(latency.RacingCandidatesOptions{
		Max:              r.cfg.MaxRacers,
		ExcludeProviders: r.cfg.ExcludeModels,
	})
	if len(candidates) == 0 {
		return Result{}, &RaceError{Reason: "no racing candidates available"}
	}

	// A zero SkipRacingConfidence disables the shortcut.
	if r.cfg.SkipRacingConfidence > 0 && candidates[0].Confidence >= r.cfg.SkipRacingConfidence {
		events, err := r.startCandidate(ctx, candidates[0], messages, opts)
		if err != nil {
			return Result{}, err
		}
		return Result{Winner: candidates[0], Events: events, Directly: true}, nil
	}

	switch r.cfg.Strategy {
	case StrategyHedged:
		return r.raceHedged(ctx, candidates, messages, opts)
	case StrategySpeculative:
		return r.raceSpeculative(ctx, candidates, messages, opts)
	default:
		return r.raceTTFT(ctx, candidates, messages, opts)
	}
}

type candidateRun struct {
	candidate latency.RacingCandidate
	ctx       context.Context
	cancel    context.CancelFunc
	events    <-chan provider.StreamEvent
	started   time.Time
}

func (r *ModelRacer) startCandidate(ctx context.Context, c latency.RacingCandidate, messages []provider.Message, opts provider.StreamOptions) (<-chan provider.StreamEvent, error) {
	adapter, ok := r.resolve(c)
	if !ok {
		return nil, &RaceError{Reason: fmt.Sprintf("no adapter for %s/%s", c.Provider, c.Model)}
	}
	return adapter.Stream(ctx, messages, opts)
}

func (r *ModelRacer) launch(parent context.Context, c latency.RacingCandidate, messages []provider.Message, opts provider.StreamOptions) (*candidateRun, error) {
	cctx, cancel := context.WithCancel(parent)
	events, err := r.startCandidate(cctx, c, messages, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	return &candidateRun{candidate: c, ctx: cctx, cancel: cancel, events: events, started: time.Now()}, nil
}

// raceTTFT starts every candidate at once. The racer pulls events one
// at a time from each candidate via select — never via a range/for-await
// that would leave a losing candidate's producer goroutine blocked on
// send after the consumer stops reading.
func (r *ModelRacer) raceTTFT(ctx context.Context, candidates []latency.RacingCandidate, messages []provider.Message, opts provider.StreamOptions) (Result, error) {
	runs := make([]*candidateRun, 0, len(candidates))
	for _, c := range candidates {
		run, err := r.launch(ctx, c, messages, opts)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	if len(runs) == 0 {
		return Result{}, &RaceError{Reason: "no candidate could be started"}
	}

	winner, winnerEvents, err := r.pullUntilFirstToken(runs, r.cfg.TTFTTimeout)
	if err != nil {
		for _, run := range runs {
			run.cancel()
		}
		return Result{}, err
	}

	for _, run := range runs {
		if run.candidate != winner.candidate {
			run.cancel()
		}
	}

	savings := r.recordWin(winner, candidates[0])
	return Result{Winner: winner.candidate, Events: winnerEvents, Savings: savings}, nil
}

// raceHedged starts the best candidate, then the second-best after
// HedgeDelay if no token has arrived yet.
func (r *ModelRacer) raceHedged(ctx context.Context, candidates []latency.RacingCandidate, messages []provider.Message, opts provider.StreamOptions) (Result, error) {
	primary, err := r.launch(ctx, candidates[0], messages, opts)
	if err != nil {
		if len(candidates) < 2 {
			return Result{}, err
		}
		return r.raceTTFT(ctx, candidates[1:], messages, opts)
	}

	runs := []*candidateRun{primary}
	hedgeTimer := time.NewTimer(r.cfg.HedgeDelay)
	defer hedgeTimer.Stop()

	deadline := time.Now().Add(r.cfg.TTFTTimeout)

	for {
		select {
		case ev, ok := <-primary.events:
			if !ok {
				// Primary closed with no token: disable this case (nil
				// channels block forever in select) and wait on the hedge
				// or the deadline instead of busy-spinning on a drained
				// channel.
				primary.events = nil
				continue
			}
			if isTokenEvent(ev) {
				r.cancelOthers(runs, primary)
				savings := r.recordWin(primary, candidates[0])
				return Result{Winner: primary.candidate, Events: prepend(ev, primary.events), Savings: savings}, nil
			}
		case <-hedgeTimer.C:
			if len(candidates) < 2 {
				continue
			}
			secondary, err := r.launch(ctx, candidates[1], messages, opts)
			if err == nil {
				runs = append(runs, secondary)
				return r.pullHedgedRace(runs, primary, candidates[0], deadline)
			}
		case <-time.After(time.Until(deadline)):
			primary.cancel()
			if r.cfg.EnableLearning {
				r.tracker.Record(latency.LatencyRecord{
					Provider: candidates[0].Provider, Model: candidates[0].Model,
					TTFT: r.cfg.TTFTTimeout, Success: false, Timestamp: time.Now(),
				})
			}
			return Result{}, &RaceError{Reason: "hedged race timed out"}
		}
	}
}

// pullHedgedRace pulls from every run in the hedged pack until one
// yields a token. primary is runs[0]'s original candidate: if a later
// run wins instead, primary never responded within HedgeDelay and is
// recorded as a timed-out failure alongside the winner's success.
func (r *ModelRacer) pullHedgedRace(runs []*candidateRun, primary *candidateRun, baseline latency.RacingCandidate, deadline time.Time) (Result, error) {
	for {
		for _, run := range runs {
			select {
			case ev, ok := <-run.events:
				if !ok {
					continue
				}
				if isTokenEvent(ev) {
					r.cancelOthers(runs, run)
					if run != primary {
						r.recordTimeout(primary.candidate)
					}
					savings := r.recordWin(run, baseline)
					return Result{Winner: run.candidate, Events: prepend(ev, run.events), Savings: savings}, nil
				}
			default:
			}
		}
		if time.Now().After(deadline) {
			for _, run := range runs {
				run.cancel()
			}
			return Result{}, &RaceError{Reason: "hedged race timed out"}
		}
		time.Sleep(time.Millisecond)
	}
}

// raceSpeculative streams from the top-scored candidate and commits to
// it once SpeculativeTokens have been emitted. If it errors first, it
// falls back to the next candidate.
func (r *ModelRacer) raceSpeculative(ctx context.Context, candidates []latency.RacingCandidate, messages []provider.Message, opts provider.StreamOptions) (Result, error) {
	run, err := r.launch(ctx, candidates[0], messages, opts)
	if err != nil {
		if len(candidates) < 2 {
			return Result{}, err
		}
		return r.raceSpeculative(ctx, candidates[1:], messages, opts)
	}

	tokenCount := 0
	var buffered []provider.StreamEvent
	for ev := range run.events {
		buffered = append(buffered, ev)
		if isTokenEvent(ev) {
			tokenCount++
		}
		if _, isErr := ev.(provider.ErrorEvent); isErr {
			run.cancel()
			if len(candidates) < 2 {
				return Result{}, &RaceError{Reason: "speculative candidate errored with no fallback"}
			}
			return r.raceSpeculative(ctx, candidates[1:], messages, opts)
		}
		if tokenCount >= r.cfg.SpeculativeTokens {
			break
		}
	}

	savings := r.recordWin(run, candidates[0])
	return Result{Winner: run.candidate, Events: prependAll(buffered, run.events), Savings: savings}, nil
}

func (r *ModelRacer) pullUntilFirstToken(runs []*candidateRun, timeout time.Duration) (*candidateRun, <-chan provider.StreamEvent, error) {
	deadline := time.After(timeout)
	for {
		for _, run := range runs {
			select {
			case ev, ok := <-run.events:
				if !ok {
					continue
				}
				if isTokenEvent(ev) {
					return run, prepend(ev, run.events), nil
				}
			default:
			}
		}
		select {
		case <-deadline:
			return nil, nil, &RaceError{Reason: "no candidate produced a token before ttftTimeout"}
		default:
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *ModelRacer) cancelOthers(runs []*candidateRun, winner *candidateRun) {
	for _, run := range runs {
		if run != winner {
			run.cancel()
		}
	}
}

// recordWin learns run's observed TTFT into the tracker and returns how
// much faster it was than baseline's pre-race expectation (zero if not
// faster).
func (r *ModelRacer) recordWin(run *candidateRun, baseline latency.RacingCandidate) time.Duration {
	ttft := time.Since(run.started)
	if r.cfg.EnableLearning {
		r.tracker.Record(latency.LatencyRecord{
			Provider:  run.candidate.Provider,
			Model:     run.candidate.Model,
			TTFT:      ttft,
			Success:   true,
			Timestamp: time.Now(),
		})
	}
	savings := baseline.ExpectedTTFT - ttft
	if savings < 0 {
		savings = 0
	}
	return savings
}

// recordTimeout learns that candidate failed to produce a token within
// TTFTTimeout — a hedged primary outrun by its own backup.
func (r *ModelRacer) recordTimeout(candidate latency.RacingCandidate) {
	if !r.cfg.EnableLearning {
		return
	}
	r.tracker.Record(latency.LatencyRecord{
		Provider:  candidate.Provider,
		Model:     candidate.Model,
		TTFT:      r.cfg.TTFTTimeout,
		Success:   false,
		Timestamp: time.Now(),
	})
}

func isTokenEvent(ev provider.StreamEvent) bool {
	_, ok := ev.(provider.TokenEvent)
	return ok
}

// prepend returns a channel that yields first, then drains rest.
func prepend(first provider.StreamEvent, rest <-chan provider.StreamEvent) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent)
	go func() {
		defer close(out)
		out <- first
		for ev := range rest {
			out <- ev
		}
	}()
	return out
}

// prependAll returns a channel that yields every buffered event, then
// drains rest.
func prependAll(buffered []provider.StreamEvent, rest <-chan provider.StreamEvent) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range buffered {
			out <- ev
		}
		for ev := range rest {
			out <- ev
		}
	}()
	return out
}
