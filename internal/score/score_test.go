// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package score

import (
	"testing"
	"time"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/config"
	"github.com/morganforge/llmgate/internal/outcome"
)

func testScoring() config.ScoringConfig {
	return config.ScoringConfig{
		PriorityWeight:   0.40,
		SuccessWeight:    0.30,
		SpeedWeight:      0.15,
		LatencyWeight:    0.15,
		MinSamples:       5,
		PriorSuccessRate: 0.7,
	}
}

func desc(provider, model string, priority, speed int, cost float64) catalog.Descriptor {
	return catalog.Descriptor{
		Provider:       provider,
		Model:          model,
		Priority:       priority,
		Speed:          speed,
		InputCostPer1M: cost,
		Enabled:        true,
	}
}

func TestRankEmpty(t *testing.T) {
	s := New(testScoring())
	if got := s.Rank(nil, nil); got != nil {
		t.Errorf("Rank(nil) = %v, want nil", got)
	}
}

func TestRankOrdersByScore(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{
		desc("p", "low", 10, 3, 0.1),
		desc("p", "high", 90, 3, 0.1),
		desc("p", "mid", 50, 3, 0.1),
	}
	ranked := s.Rank(candidates, nil)
	want := []string{"p/high", "p/mid", "p/low"}
	for i, w := range want {
		if got := ranked[i].Descriptor.ID(); got != w {
			t.Errorf("ranked[%d] = %s, want %s", i, got, w)
		}
	}
}

func TestRankPriorSubstitution(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{desc("p", "new", 50, 3, 0)}

	// Two samples with a 0% success rate is below MinSamples; the prior
	// must be used instead of the raw rate.
	aggs := map[string]outcome.Aggregate{
		"p/new": {Samples: 2, SuccessRate: 0},
	}
	ranked := s.Rank(candidates, aggs)
	if ranked[0].SuccessRate != 0.7 {
		t.Errorf("success rate = %v, want prior 0.7", ranked[0].SuccessRate)
	}

	// At MinSamples the observed rate takes over.
	aggs["p/new"] = outcome.Aggregate{Samples: 5, SuccessRate: 0.2}
	ranked = s.Rank(candidates, aggs)
	if ranked[0].SuccessRate != 0.2 {
		t.Errorf("success rate = %v, want observed 0.2", ranked[0].SuccessRate)
	}
}

func TestRankHistoryBeatsEqualPriority(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{
		desc("p", "flaky", 50, 3, 0.1),
		desc("p", "solid", 50, 3, 0.1),
	}
	aggs := map[string]outcome.Aggregate{
		"p/flaky": {Samples: 20, SuccessRate: 0.3, AvgLatency: time.Second},
		"p/solid": {Samples: 20, SuccessRate: 0.95, AvgLatency: time.Second},
	}
	ranked := s.Rank(candidates, aggs)
	if ranked[0].Descriptor.ID() != "p/solid" {
		t.Errorf("top = %s, want p/solid", ranked[0].Descriptor.ID())
	}
}

func TestRankLatencyNormalization(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{
		desc("p", "fast", 50, 3, 0.1),
		desc("p", "slow", 50, 3, 0.1),
	}
	aggs := map[string]outcome.Aggregate{
		"p/fast": {Samples: 10, SuccessRate: 0.9, AvgLatency: 500 * time.Millisecond},
		"p/slow": {Samples: 10, SuccessRate: 0.9, AvgLatency: 8 * time.Second},
	}
	ranked := s.Rank(candidates, aggs)
	if ranked[0].Descriptor.ID() != "p/fast" {
		t.Errorf("top = %s, want p/fast", ranked[0].Descriptor.ID())
	}
}

func TestRankTieBreaksByCost(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{
		desc("p", "pricey", 50, 3, 2.0),
		desc("p", "bargain", 50, 3, 0.01),
	}
	ranked := s.Rank(candidates, nil)
	if ranked[0].Descriptor.ID() != "p/bargain" {
		t.Errorf("top = %s, want cheaper model on tie", ranked[0].Descriptor.ID())
	}
}

func TestRankDeterministicOnFullTie(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{
		desc("p", "first", 50, 3, 0.1),
		desc("p", "second", 50, 3, 0.1),
	}
	for i := 0; i < 20; i++ {
		ranked := s.Rank(candidates, nil)
		if ranked[0].Descriptor.ID() != "p/first" {
			t.Fatalf("run %d: tie broke away from input order", i)
		}
	}
}

func TestLatencyScore(t *testing.T) {
	tests := []struct {
		name string
		agg  outcome.Aggregate
		min  time.Duration
		max  time.Duration
		want float64
	}{
		{"no history is neutral", outcome.Aggregate{}, time.Second, 2 * time.Second, 0.5},
		{"degenerate range", outcome.Aggregate{AvgLatency: time.Second}, time.Second, time.Second, 1.0},
		{"fastest", outcome.Aggregate{AvgLatency: time.Second}, time.Second, 3 * time.Second, 1.0},
		{"slowest", outcome.Aggregate{AvgLatency: 3 * time.Second}, time.Second, 3 * time.Second, 0.0},
		{"midpoint", outcome.Aggregate{AvgLatency: 2 * time.Second}, time.Second, 3 * time.Second, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := latencyScore(tt.agg, tt.min, tt.max); got != tt.want {
				t.Errorf("latencyScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpeedScore(t *testing.T) {
	tests := []struct {
		speed int
		want  float64
	}{
		{1, 0}, {3, 0.5}, {5, 1}, {0, 0}, {9, 1},
	}
	for _, tt := range tests {
		if got := speedScore(tt.speed); got != tt.want {
			t.Errorf("speedScore(%d) = %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func TestRankScoreBounds(t *testing.T) {
	s := New(testScoring())
	candidates := []catalog.Descriptor{
		desc("p", "best", 100, 5, 0),
		desc("p", "worst", 0, 1, 5),
	}
	aggs := map[string]outcome.Aggregate{
		"p/best":  {Samples: 10, SuccessRate: 1, AvgLatency: time.Second},
		"p/worst": {Samples: 10, SuccessRate: 0, AvgLatency: 10 * time.Second},
	}
	for _, r := range s.Rank(candidates, aggs) {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("%s score %v out of [0,1]", r.Descriptor.ID(), r.Score)
		}
	}
}
