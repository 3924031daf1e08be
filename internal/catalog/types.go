// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog maintains the live inventory of routable models.
//
// The inventory is refreshed from an upstream discovery endpoint and held
// as an immutable snapshot that is swapped atomically, so readers never
// observe a partially replaced catalog and never need a lock.
package catalog

import "fmt"

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier represents a cost/capability bracket for routing decisions.
// Ordered by cost ceiling: Free < Cheap < Standard < Premium; Research is
// a capability bracket rather than a price point.
type Tier int

const (
	// TierFree routes to zero-cost models only.
	TierFree Tier = iota
	// TierCheap routes to low-cost models.
	TierCheap
	// TierStandard routes to mid-cost generalist models.
	TierStandard
	// TierPremium routes to frontier models regardless of cost.
	TierPremium
	// TierResearch routes to search-capable models.
	TierResearch
)

// tierNames is the canonical order used for parsing and iteration.
var tierNames = [...]string{"free", "cheap", "standard", "premium", "research"}

// String returns the lower-case tier name.
func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return fmt.Sprintf("Tier(%d)", t)
	}
	return tierNames[t]
}

// Valid reports whether the tier is one of the defined brackets.
func (t Tier) Valid() bool {
	return t >= TierFree && t <= TierResearch
}

// ParseTier converts a tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if s == name {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Tiers returns all tiers in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierCheap, TierStandard, TierPremium, TierResearch}
}

// ============================================================================
// CAPABILITIES
// ============================================================================

// Capability is a declared model capability tag.
type Capability string

// Capability tags recognized by tier rules and discovery derivation.
const (
	CapChat      Capability = "chat"
	CapCode      Capability = "code"
	CapReasoning Capability = "reasoning"
	CapVision    Capability = "vision"
	CapResearch  Capability = "research"
)

// ============================================================================
// MODEL DESCRIPTOR
// ============================================================================

// Descriptor holds the static metadata for one routable model.
// Descriptors are immutable once published in a snapshot; a refresh
// replaces them wholesale rather than mutating in place.
type Descriptor struct {
	// Provider is the backend that serves this model (e.g. "openrouter").
	Provider string `json:"provider"`
	// Model is the provider-scoped model name.
	Model string `json:"model"`
	// InputCostPer1M is the declared cost in USD per 1M input tokens.
	InputCostPer1M float64 `json:"input_cost_per_1m"`
	// OutputCostPer1M is the declared cost in USD per 1M output tokens.
	OutputCostPer1M float64 `json:"output_cost_per_1m"`
	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`
	// Speed is a coarse latency class, 1 (slow) to 5 (fast).
	Speed int `json:"speed"`
	// Priority is the catalog-declared desirability, 0-100.
	Priority int `json:"priority"`
	// Capabilities are the declared capability tags.
	Capabilities []Capability `json:"capabilities"`
	// Enabled gates whether the model may be ranked at all.
	Enabled bool `json:"enabled"`
}

// ID returns the full model identifier "provider/model".
func (d Descriptor) ID() string {
	return d.Provider + "/" + d.Model
}

// IsFree reports whether the model costs nothing to call.
func (d Descriptor) IsFree() bool {
	return d.InputCostPer1M == 0 && d.OutputCostPer1M == 0
}

// Has reports whether the descriptor carries the given capability tag.
func (d Descriptor) Has(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ============================================================================
// TIER RULES
// ============================================================================

// TierRule defines which descriptors qualify for a tier.
type TierRule struct {
	// MaxInputCostPer1M is the cost ceiling; negative means unlimited.
	MaxInputCostPer1M float64
	// Require lists capability tags a model must carry.
	Require []Capability
}

// Admits reports whether the descriptor satisfies the rule.
func (r TierRule) Admits(d Descriptor) bool {
	if r.MaxInputCostPer1M >= 0 && d.InputCostPer1M > r.MaxInputCostPer1M {
		return false
	}
	for _, cap := range r.Require {
		if !d.Has(cap) {
			return false
		}
	}
	return true
}
