// Package latency implements the process-wide latency tracker: a
// bounded per-(provider,model) history of observed stream timings used
// to score racing candidates for internal/racer.
package latency

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	defaultWindow             = 50
	defaultEWMAAlpha          = 0.3
	confidenceHalfLife        = 5.0
	defaultExpectedTTFT       = 500 * time.Millisecond
	defaultExpectedTokPerSec  = 20.0
	minTTFTSecondsForScoring  = 0.001
)

// LatencyRecord is one observed (provider, model) stream outcome.
type LatencyRecord struct {
	Provider  string
	Model     string
	TTFT      time.Duration
	TokPerSec float64
	Success   bool
	Timestamp time.Time
}

// ProviderStats summarises a (provider, model) pair's recent history.
type ProviderStats struct {
	Provider      string
	Model         string
	MeanTTFT      time.Duration
	MeanTokPerSec float64
	SuccessRate   float64
	Confidence    float64
	SampleCount   int
}

// ProviderConfig is a statically known racing candidate: a backend the
// tracker may recommend once it has observed (or estimated) its
// performance. Available gates whether the candidate is ever returned
// by RacingCandidates — set false for a provider missing required
// configuration (API key, endpoint), matching "exclude unconfigured
// ones."
type ProviderConfig struct {
	Provider     string
	Model        string
	CostPerToken float64
	Available    bool
}

// RacingCandidate is one scored, available backend, ready for
// internal/racer to race or stream directly.
type RacingCandidate struct {
	Provider          string
	Model             string
	Score             float64
	ExpectedTTFT      time.Duration
	ExpectedTokPerSec float64
	Confidence        float64
	CostPerToken      float64
}

// RacingCandidatesOptions filters and bounds RacingCandidates' output.
type RacingCandidatesOptions struct {
	Max              int
	PreferSpeed      bool
	ExcludeProviders map[string]bool
}

type key struct {
	provider string
	model    string
}

// Tracker is a process-wide, concurrency-safe store of LatencyRecords
// keyed by (provider, model), bounded to a FIFO window per key.
type Tracker struct {
	logger    *slog.Logger
	window    int
	ewmaAlpha float64

	mu        sync.RWMutex
	providers []ProviderConfig
	records   map[key][]LatencyRecord
}

// NewTracker constructs a Tracker. window <= 0 defaults to 50 records
// per (provider, model) key.
func NewTracker(logger *slog.Logger, window int, providers []ProviderConfig) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Tracker{
		logger:    logger,
		window:    window,
		ewmaAlpha: defaultEWMAAlpha,
		providers: append([]ProviderConfig(nil), providers...),
		records:   make(map[key][]LatencyRecord),
	}
}

// Record appends r to its (provider, model) history, evicting the
// oldest entry once the window is exceeded.
func (t *Tracker) Record(r LatencyRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{r.Provider, r.Model}
	list := append(t.records[k], r)
	if len(list) > t.window {
		list = list[len(list)-t.window:]
	}
	t.records[k] = list
}

// Stats returns an exponentially-weighted summary of provider's recent
// history for model. A pair with no recorded history returns a zero
// ProviderStats (SampleCount 0, Confidence 0).
func (t *Tracker) Stats(provider, model string) ProviderStats {
	t.mu.RLock()
	list := append([]LatencyRecord(nil), t.records[key{provider, model}]...)
	t.mu.RUnlock()

	stats := ProviderStats{Provider: provider, Model: model}
	if len(list) == 0 {
		return stats
	}

	var ewmaTTFTMs, ewmaTokPerSec float64
	var successes int
	for i, r := range list {
		ttftMs := float64(r.TTFT.Milliseconds())
		if i == 0 {
			ewmaTTFTMs = ttftMs
			ewmaTokPerSec = r.TokPerSec
		} else {
			ewmaTTFTMs = t.ewmaAlpha*ttftMs + (1-t.ewmaAlpha)*ewmaTTFTMs
			ewmaTokPerSec = t.ewmaAlpha*r.TokPerSec + (1-t.ewmaAlpha)*ewmaTokPerSec
		}
		if r.Success {
			successes++
		}
	}

	stats.MeanTTFT = time.Duration(ewmaTTFTMs) * time.Millisecond
	stats.MeanTokPerSec = ewmaTokPerSec
	stats.SuccessRate = float64(successes) / float64(len(list))
	stats.SampleCount = len(list)
	stats.Confidence = confidence(len(list))
	return stats
}

// confidence is monotone-increasing in n, saturating toward 1; n equal
// to confidenceHalfLife yields 0.5.
func confidence(n int) float64 {
	return float64(n) / (float64(n) + confidenceHalfLife)
}

// RacingCandidates enumerates available backends, scores each by a
// weighted sum of 1/expectedTTFT, expectedTokPerSec, and confidence
// (penalised by costPerToken unless PreferSpeed), and returns the
// top Max sorted by descending score. A candidate with no observed
// history yet still scores, using a neutral expected-performance
// baseline, so a newly configured backend is never permanently
// excluded for lack of samples.
func (t *Tracker) RacingCandidates(opts RacingCandidatesOptions) []RacingCandidate {
	t.mu.RLock()
	providers := append([]ProviderConfig(nil), t.providers...)
	t.mu.RUnlock()

	var candidates []RacingCandidate
	for _, p := range providers {
		if !p.Available {
			continue
		}
		if opts.ExcludeProviders != nil && opts.ExcludeProviders[p.Provider] {
			continue
		}

		stats := t.Stats(p.Provider, p.Model)
		expectedTTFT := stats.MeanTTFT
		if expectedTTFT <= 0 {
			expectedTTFT = defaultExpectedTTFT
		}
		expectedTokPerSec := stats.MeanTokPerSec
		if expectedTokPerSec <= 0 {
			expectedTokPerSec = defaultExpectedTokPerSec
		}

		candidates = append(candidates, RacingCandidate{
			Provider:          p.Provider,
			Model:             p.Model,
			Score:             scoreCandidate(expectedTTFT, expectedTokPerSec, stats.Confidence, p.CostPerToken, opts.PreferSpeed),
			ExpectedTTFT:      expectedTTFT,
			ExpectedTokPerSec: expectedTokPerSec,
			Confidence:        stats.Confidence,
			CostPerToken:      p.CostPerToken,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if opts.Max > 0 && len(candidates) > opts.Max {
		candidates = candidates[:opts.Max]
	}
	return candidates
}

func scoreCandidate(ttft time.Duration, tokPerSec, confidence, costPerToken float64, preferSpeed bool) float64 {
	ttftSeconds := ttft.Seconds()
	if ttftSeconds < minTTFTSecondsForScoring {
		ttftSeconds = minTTFTSecondsForScoring
	}
	score := 1/ttftSeconds + tokPerSec + confidence
	if !preferSpeed {
		score -= costPerToken
	}
	return score
}
