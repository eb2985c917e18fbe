package latency

import (
	"testing"
	"time"
)

func TestStatsEmptyForUnknownPair(t *testing.T) {
	tr := NewTracker(nil, 0, nil)
	s := tr.Stats("anthropic", "claude")
	if s.SampleCount != 0 || s.Confidence != 0 {
		t.Fatalf("stats = %+v, want zero value", s)
	}
}

func TestRecordWindowEvictsOldest(t *testing.T) {
	tr := NewTracker(nil, 3, nil)
	for i := 0; i < 5; i++ {
		tr.Record(LatencyRecord{Provider: "p", Model: "m", TTFT: time.Duration(i) * time.Millisecond, TokPerSec: 10, Success: true})
	}
	s := tr.Stats("p", "m")
	if s.SampleCount != 3 {
		t.Fatalf("SampleCount = %d, want 3 (window bound)", s.SampleCount)
	}
}

func TestStatsSuccessRate(t *testing.T) {
	tr := NewTracker(nil, 10, nil)
	tr.Record(LatencyRecord{Provider: "p", Model: "m", TTFT: 100 * time.Millisecond, TokPerSec: 10, Success: true})
	tr.Record(LatencyRecord{Provider: "p", Model: "m", TTFT: 100 * time.Millisecond, TokPerSec: 10, Success: false})
	s := tr.Stats("p", "m")
	if s.SuccessRate != 0.5 {
		t.Fatalf("SuccessRate = %v, want 0.5", s.SuccessRate)
	}
}

func TestConfidenceIsMonotoneIncreasing(t *testing.T) {
	tr := NewTracker(nil, 100, nil)
	var prev float64
	for i := 0; i < 20; i++ {
		tr.Record(LatencyRecord{Provider: "p", Model: "m", TTFT: 100 * time.Millisecond, TokPerSec: 10, Success: true})
		s := tr.Stats("p", "m")
		if s.Confidence < prev {
			t.Fatalf("confidence decreased at sample %d: %v -> %v", i, prev, s.Confidence)
		}
		if s.Confidence >= 1 {
			t.Fatalf("confidence = %v, want < 1", s.Confidence)
		}
		prev = s.Confidence
	}
}

func TestRacingCandidatesExcludesUnavailableAndExcludedProviders(t *testing.T) {
	providers := []ProviderConfig{
		{Provider: "fast", Model: "m1", CostPerToken: 0.01, Available: true},
		{Provider: "no-key", Model: "m2", CostPerToken: 0.01, Available: false},
		{Provider: "excluded", Model: "m3", CostPerToken: 0.01, Available: true},
	}
	tr := NewTracker(nil, 10, providers)

	got := tr.RacingCandidates(RacingCandidatesOptions{ExcludeProviders: map[string]bool{"excluded": true}})
	if len(got) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(got))
	}
	if got[0].Provider != "fast" {
		t.Fatalf("candidate = %q, want fast", got[0].Provider)
	}
}

func TestRacingCandidatesSortedDescendingByScoreAndBoundedByMax(t *testing.T) {
	providers := []ProviderConfig{
		{Provider: "slow", Model: "m", Available: true},
		{Provider: "fast", Model: "m", Available: true},
	}
	tr := NewTracker(nil, 10, providers)
	tr.Record(LatencyRecord{Provider: "slow", Model: "m", TTFT: 2 * time.Second, TokPerSec: 5, Success: true})
	tr.Record(LatencyRecord{Provider: "fast", Model: "m", TTFT: 50 * time.Millisecond, TokPerSec: 80, Success: true})

	got := tr.RacingCandidates(RacingCandidatesOptions{Max: 1})
	if len(got) != 1 {
		t.Fatalf("len(candidates) = %d, want 1 (Max bound)", len(got))
	}
	if got[0].Provider != "fast" {
		t.Fatalf("top candidate = %q, want fast", got[0].Provider)
	}
}

func TestRacingCandidatesPreferSpeedIgnoresCost(t *testing.T) {
	providers := []ProviderConfig{
		{Provider: "cheap-slow", Model: "m", CostPerToken: 0, Available: true},
		{Provider: "pricey-fast", Model: "m", CostPerToken: 100, Available: true},
	}
	tr := NewTracker(nil, 10, providers)
	tr.Record(LatencyRecord{Provider: "cheap-slow", Model: "m", TTFT: 2 * time.Second, TokPerSec: 5, Success: true})
	tr.Record(LatencyRecord{Provider: "pricey-fast", Model: "m", TTFT: 20 * time.Millisecond, TokPerSec: 100, Success: true})

	got := tr.RacingCandidates(RacingCandidatesOptions{PreferSpeed: true})
	if len(got) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(got))
	}
	if got[0].Provider != "pricey-fast" {
		t.Fatalf("top candidate with PreferSpeed = %q, want pricey-fast", got[0].Provider)
	}
}
