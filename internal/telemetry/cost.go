// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"time"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/provider"
)

// =============================================================================
// COST TRACKING
// =============================================================================

// ModelCost accumulates spend for one model.
type ModelCost struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// CostTracker accumulates per-model spend for the process lifetime.
// Costs are estimates computed from catalog pricing and reported token
// usage; backends that omit usage contribute zero cost.
type CostTracker struct {
	mu      sync.Mutex
	started time.Time
	byModel map[string]*ModelCost
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		started: time.Now(),
		byModel: make(map[string]*ModelCost),
	}
}

// Record adds one completion's usage, priced from the descriptor.
func (t *CostTracker) Record(d catalog.Descriptor, usage provider.Usage) {
	cost := float64(usage.PromptTokens)/1_000_000*d.InputCostPer1M +
		float64(usage.CompletionTokens)/1_000_000*d.OutputCostPer1M

	t.mu.Lock()
	defer t.mu.Unlock()

	mc, ok := t.byModel[d.ID()]
	if !ok {
		mc = &ModelCost{}
		t.byModel[d.ID()] = mc
	}
	mc.Requests++
	mc.PromptTokens += usage.PromptTokens
	mc.CompletionTokens += usage.CompletionTokens
	mc.CostUSD += cost
}

// Summary is a point-in-time cost report.
type Summary struct {
	Since    time.Time            `json:"since"`
	TotalUSD float64              `json:"total_usd"`
	ByModel  map[string]ModelCost `json:"by_model"`
}

// Summarize returns a copy of the accumulated costs.
func (t *CostTracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Summary{
		Since:   t.started,
		ByModel: make(map[string]ModelCost, len(t.byModel)),
	}
	for id, mc := range t.byModel {
		out.ByModel[id] = *mc
		out.TotalUSD += mc.CostUSD
	}
	return out
}
