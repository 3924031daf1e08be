// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package score ranks candidate models for a task category.
//
// The composite score blends the catalog-declared priority with the
// observed per-category history. Models with too little history use a
// configured prior instead of their raw success rate, so a single early
// failure cannot bury a new model, and a lucky first call cannot promote
// one past proven performers.
package score

import (
	"sort"
	"time"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/config"
	"github.com/morganforge/llmgate/internal/outcome"
)

// ============================================================================
// TYPES
// ============================================================================

// Ranked is one candidate with its computed score, best first after Rank.
type Ranked struct {
	// Descriptor is the scored model.
	Descriptor catalog.Descriptor
	// Score is the composite score in [0, 1] given unit weights.
	Score float64
	// Samples is the history depth backing the success component.
	Samples int
	// SuccessRate is the rate that entered the score (prior-substituted
	// below the minimum sample count).
	SuccessRate float64
}

// Scorer computes composite rankings from static metadata and history.
// It is stateless apart from its weights and safe for concurrent use.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a scorer with the given weights and sampling policy.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// ============================================================================
// RANKING
// ============================================================================

// Rank scores the candidates against the per-model aggregates for one
// category and returns them best first. The input slice is not modified.
//
// Latency and speed are min-max normalized across this candidate set
// only; scores from different Rank calls are not comparable. Ties are
// broken by lower input cost, then by the candidates' original order,
// so the ranking is deterministic.
func (s *Scorer) Rank(candidates []catalog.Descriptor, aggs map[string]outcome.Aggregate) []Ranked {
	if len(candidates) == 0 {
		return nil
	}

	minLat, maxLat := latencyBounds(candidates, aggs)

	ranked := make([]Ranked, len(candidates))
	for i, d := range candidates {
		agg := aggs[d.ID()]

		rate := agg.SuccessRate
		if agg.Samples < s.cfg.MinSamples {
			rate = s.cfg.PriorSuccessRate
		}

		composite := s.cfg.PriorityWeight*float64(d.Priority)/100 +
			s.cfg.SuccessWeight*rate +
			s.cfg.SpeedWeight*speedScore(d.Speed) +
			s.cfg.LatencyWeight*latencyScore(agg, minLat, maxLat)

		ranked[i] = Ranked{
			Descriptor:  d,
			Score:       composite,
			Samples:     agg.Samples,
			SuccessRate: rate,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Descriptor.InputCostPer1M < ranked[j].Descriptor.InputCostPer1M
	})
	return ranked
}

// ============================================================================
// COMPONENTS
// ============================================================================

// speedScore maps the 1-5 speed class onto [0, 1].
func speedScore(speed int) float64 {
	if speed < 1 {
		speed = 1
	}
	if speed > 5 {
		speed = 5
	}
	return float64(speed-1) / 4
}

// latencyBounds finds the observed latency range across candidates with
// enough history to report one.
func latencyBounds(candidates []catalog.Descriptor, aggs map[string]outcome.Aggregate) (min, max time.Duration) {
	first := true
	for _, d := range candidates {
		agg, ok := aggs[d.ID()]
		if !ok || agg.AvgLatency <= 0 {
			continue
		}
		if first || agg.AvgLatency < min {
			min = agg.AvgLatency
		}
		if first || agg.AvgLatency > max {
			max = agg.AvgLatency
		}
		first = false
	}
	return min, max
}

// latencyScore normalizes observed latency onto [0, 1], faster is
// higher. Models without latency history score a neutral 0.5; when all
// observed latencies are equal the range is degenerate and every
// observed model scores 1.
func latencyScore(agg outcome.Aggregate, min, max time.Duration) float64 {
	if agg.AvgLatency <= 0 {
		return 0.5
	}
	if max <= min {
		return 1.0
	}
	return 1 - float64(agg.AvgLatency-min)/float64(max-min)
}
