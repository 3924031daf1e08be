// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// DISCOVERY CONSTANTS
// ============================================================================

const (
	// maxDiscoveryResponse caps the discovery payload size.
	maxDiscoveryResponse = 20 * 1024 * 1024

	// discoveryTimeout bounds a single discovery fetch.
	discoveryTimeout = 30 * time.Second

	// defaultContextWindow is assumed when the payload omits one.
	defaultContextWindow = 128000
)

// ============================================================================
// HTTP SOURCE
// ============================================================================

// HTTPSource fetches model metadata from an OpenRouter-compatible
// /models endpoint. Unknown payload fields are ignored; entries missing
// required fields are skipped individually rather than failing the
// whole payload, so one malformed model cannot blank the catalog.
type HTTPSource struct {
	url        string
	apiKey     string
	provider   string
	maxCost    float64
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPSource creates a discovery source for the given endpoint.
// Discovered models are attributed to the named provider. Models whose
// input cost exceeds maxCost (USD per 1M tokens) are skipped.
func NewHTTPSource(url, apiKey, provider string, maxCost float64, log zerolog.Logger) *HTTPSource {
	return &HTTPSource{
		url:      url,
		apiKey:   apiKey,
		provider: provider,
		maxCost:  maxCost,
		httpClient: &http.Client{
			Timeout: discoveryTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log,
	}
}

// discoveryPayload mirrors the subset of the /models response we read.
// Pricing comes back as decimal strings (USD per token).
type discoveryPayload struct {
	Data []discoveryEntry `json:"data"`
}

type discoveryEntry struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	ContextLength int               `json:"context_length"`
	Created       int64             `json:"created"`
	Pricing       *discoveryPricing `json:"pricing"`
}

type discoveryPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// FetchModels implements Source.
func (s *HTTPSource) FetchModels(ctx context.Context) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}

	var payload discoveryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse discovery response: %w", err)
	}

	models := make([]Descriptor, 0, len(payload.Data))
	skipped := 0
	for _, m := range payload.Data {
		d, ok := s.toDescriptor(m)
		if !ok {
			skipped++
			continue
		}
		models = append(models, d)
	}
	if skipped > 0 {
		s.log.Debug().Int("skipped", skipped).Int("kept", len(models)).Msg("discovery entries skipped")
	}
	return models, nil
}

// toDescriptor validates one payload entry and derives routing metadata.
// Returns ok=false for entries that are malformed or over the cost cap.
func (s *HTTPSource) toDescriptor(m discoveryEntry) (Descriptor, bool) {
	if m.ID == "" {
		return Descriptor{}, false
	}
	contextLen := m.ContextLength
	if contextLen == 0 {
		contextLen = defaultContextWindow
	}
	if contextLen < 0 {
		return Descriptor{}, false
	}

	var inCost, outCost float64
	if m.Pricing != nil {
		var err error
		inCost, err = perMillion(m.Pricing.Prompt)
		if err != nil {
			return Descriptor{}, false
		}
		outCost, err = perMillion(m.Pricing.Completion)
		if err != nil {
			return Descriptor{}, false
		}
	}
	if inCost < 0 || outCost < 0 {
		return Descriptor{}, false
	}
	if inCost > s.maxCost {
		return Descriptor{}, false
	}

	return Descriptor{
		Provider:        s.provider,
		Model:           m.ID,
		InputCostPer1M:  inCost,
		OutputCostPer1M: outCost,
		ContextWindow:   contextLen,
		Speed:           deriveSpeed(m.ID, inCost),
		Priority:        derivePriority(m.ID, inCost, contextLen, m.Created),
		Capabilities:    deriveCapabilities(m.ID, m.Description),
		Enabled:         true,
	}, true
}

// perMillion converts a per-token decimal string to USD per 1M tokens.
func perMillion(perToken string) (float64, error) {
	if perToken == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(perToken, 64)
	if err != nil {
		return 0, err
	}
	return v * 1_000_000, nil
}

// ============================================================================
// METADATA DERIVATION
// ============================================================================

// deriveSpeed assigns a coarse latency class from cost and naming.
// Free and "flash"/"mini" models are assumed fast; expensive frontier
// models are assumed slow.
func deriveSpeed(id string, inCost float64) int {
	lower := strings.ToLower(id)
	switch {
	case inCost == 0, strings.Contains(lower, "flash"), strings.Contains(lower, "mini"):
		return 5
	case inCost > 5.0:
		return 2
	default:
		return 3
	}
}

// derivePriority computes the catalog-declared desirability (0-100).
// Cheaper, larger-context and recently released models score higher.
func derivePriority(id string, inCost float64, contextLen int, created int64) int {
	priority := 50

	switch {
	case inCost == 0:
		priority += 20
	case inCost < 0.02:
		priority += 15
	case inCost < 0.05:
		priority += 10
	}

	switch {
	case contextLen >= 128000:
		priority += 15
	case contextLen >= 32000:
		priority += 10
	case contextLen >= 16000:
		priority += 5
	}

	if created > 0 {
		daysOld := time.Since(time.Unix(created, 0)).Hours() / 24
		switch {
		case daysOld < 30:
			priority += 10
		case daysOld < 90:
			priority += 5
		}
	}

	lower := strings.ToLower(id)
	for _, name := range []string{"claude", "gemini", "gpt-4", "gpt-5"} {
		if strings.Contains(lower, name) {
			priority += 5
			break
		}
	}

	if priority > 100 {
		priority = 100
	}
	if priority < 0 {
		priority = 0
	}
	return priority
}

// deriveCapabilities infers capability tags from the model id and
// description text.
func deriveCapabilities(id, description string) []Capability {
	lower := strings.ToLower(id + " " + description)
	caps := []Capability{CapChat}

	add := func(c Capability) {
		for _, have := range caps {
			if have == c {
				return
			}
		}
		caps = append(caps, c)
	}

	for _, kw := range []string{"code", "codex", "codestral", "starcoder", "coder"} {
		if strings.Contains(lower, kw) {
			add(CapCode)
			break
		}
	}
	for _, kw := range []string{"vision", "image", "multimodal", "4o", "gemini"} {
		if strings.Contains(lower, kw) {
			add(CapVision)
			break
		}
	}
	for _, kw := range []string{"reason", "thinking", "o1", "o3", "r1"} {
		if strings.Contains(lower, kw) {
			add(CapReasoning)
			break
		}
	}
	for _, kw := range []string{"sonar", "perplexity", "search", "online"} {
		if strings.Contains(lower, kw) {
			add(CapResearch)
			break
		}
	}
	// Frontier generalists can code and reason even without it in the name.
	for _, kw := range []string{"claude", "gpt-4", "gpt-5", "gemini", "llama-3"} {
		if strings.Contains(lower, kw) {
			add(CapCode)
			add(CapReasoning)
			break
		}
	}
	return caps
}
