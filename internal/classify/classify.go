// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classify assigns a task category and routing tier to free-form
// prompt text.
//
// Classification is deterministic keyword matching over case-folded
// text. There is no model call and no randomness: the same prompt always
// maps to the same category, which keeps routing decisions explainable
// and testable.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/config"
)

// ============================================================================
// RESULT
// ============================================================================

// Result is the classification of one prompt.
type Result struct {
	// Category is the matched task category.
	Category string
	// Tier is the routing tier mapped from the category.
	Tier catalog.Tier
	// Matched lists the keywords that fired, in dictionary order.
	// Empty when the fallback category was used.
	Matched []string
}

// ============================================================================
// CLASSIFIER
// ============================================================================

// Classifier matches prompts against per-category keyword dictionaries.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	fallback string
	priority []string
	keywords map[string][]string
	tierMap  map[string]catalog.Tier
}

// New builds a classifier from configuration. Keywords are case-folded
// once here so Classify only folds the prompt. Unicode folding, not
// ASCII lowercasing, is required for the Cyrillic dictionaries.
func New(cfg config.ClassifierConfig) (*Classifier, error) {
	folder := cases.Fold()

	c := &Classifier{
		fallback: cfg.Fallback,
		priority: append([]string(nil), cfg.Priority...),
		keywords: make(map[string][]string, len(cfg.Keywords)),
		tierMap:  make(map[string]catalog.Tier, len(cfg.TierMap)),
	}

	for category, words := range cfg.Keywords {
		folded := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.TrimSpace(folder.String(w)); w != "" {
				folded = append(folded, w)
			}
		}
		c.keywords[category] = folded
	}

	for category, tierName := range cfg.TierMap {
		tier, err := catalog.ParseTier(tierName)
		if err != nil {
			return nil, fmt.Errorf("classifier: category %q: %w", category, err)
		}
		c.tierMap[category] = tier
	}
	if _, ok := c.tierMap[c.fallback]; !ok {
		return nil, fmt.Errorf("classifier: fallback category %q has no tier mapping", c.fallback)
	}

	// Categories absent from the priority list still participate, after
	// the listed ones. Sorted for a stable tie-break.
	listed := make(map[string]bool, len(c.priority))
	for _, category := range c.priority {
		listed[category] = true
	}
	var extra []string
	for category := range c.keywords {
		if !listed[category] {
			extra = append(extra, category)
		}
	}
	sort.Strings(extra)
	c.priority = append(c.priority, extra...)

	return c, nil
}

// Classify assigns a category and tier to the prompt.
//
// The category with the most keyword hits wins. Ties are broken by the
// configured priority order so that specific categories beat generic
// ones regardless of map iteration order. Prompts with no hits fall
// back to the configured default category.
func (c *Classifier) Classify(text string) Result {
	folded := cases.Fold().String(text)

	best := c.fallback
	bestHits := 0
	var bestMatched []string

	for _, category := range c.priority {
		var matched []string
		for _, kw := range c.keywords[category] {
			if strings.Contains(folded, kw) {
				matched = append(matched, kw)
			}
		}
		hits := len(matched)
		if category == "code" && hasCodeFence(text) {
			// A fenced block is a stronger signal than any single keyword.
			hits += 2
			matched = append(matched, "```")
		}
		if category == "analysis" && hits > 0 && wordCount(text) >= longPromptWords {
			// Long prompts with analysis keywords lean analytical.
			hits++
		}
		if hits > bestHits {
			best, bestHits, bestMatched = category, hits, matched
		}
	}

	return Result{
		Category: best,
		Tier:     c.tierMap[best],
		Matched:  bestMatched,
	}
}

// TierFor returns the tier mapped to a category, with the fallback
// category's tier for unknown names.
func (c *Classifier) TierFor(category string) catalog.Tier {
	if t, ok := c.tierMap[category]; ok {
		return t
	}
	return c.tierMap[c.fallback]
}

// Categories returns the known categories in priority order.
func (c *Classifier) Categories() []string {
	return append([]string(nil), c.priority...)
}

// longPromptWords is the length at which a prompt starts reading like
// an analysis task rather than a quick question.
const longPromptWords = 120

func hasCodeFence(text string) bool {
	return strings.Count(text, "```") >= 2
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
