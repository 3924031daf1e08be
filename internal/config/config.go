// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for llmgate.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides for credentials, and validation.
//
// Configuration file locations (in order of precedence):
//   - path passed on the command line
//   - ~/.llmgate/config.toml
//   - ~/.llmgate/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete llmgate configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server" json:"server"`

	// Catalog discovery configuration
	Catalog CatalogConfig `toml:"catalog" json:"catalog"`

	// Tier definitions (cost ceilings and required capability tags)
	Tiers map[string]TierRule `toml:"tiers" json:"tiers"`

	// Classifier configuration (keyword dictionaries, fallback, tier map)
	Classifier ClassifierConfig `toml:"classifier" json:"classifier"`

	// Scoring weights and sampling policy
	Scoring ScoringConfig `toml:"scoring" json:"scoring"`

	// Cascade retry/backoff parameters
	Cascade CascadeConfig `toml:"cascade" json:"cascade"`

	// Provider backends
	Providers []ProviderConfig `toml:"providers" json:"providers"`

	// Outcome store settings
	Outcomes OutcomeConfig `toml:"outcomes" json:"outcomes"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port)
	Addr string `toml:"addr" json:"addr"`
	// MaxRequestBytes caps the request body size
	MaxRequestBytes int64 `toml:"max_request_bytes" json:"max_request_bytes"`
}

// CatalogConfig contains model discovery configuration.
type CatalogConfig struct {
	// DiscoveryURL is the model listing endpoint (OpenRouter-compatible /models)
	DiscoveryURL string `toml:"discovery_url" json:"discovery_url"`
	// APIKeyEnv names the environment variable holding the discovery API key
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env"`
	// RefreshIntervalSecs is the periodic refresh interval (0 disables the timer)
	RefreshIntervalSecs int `toml:"refresh_interval_secs" json:"refresh_interval_secs"`
	// CachePath is where the last good snapshot is persisted
	// (empty = default ~/.llmgate/models.json)
	CachePath string `toml:"cache_path" json:"cache_path"`
	// MaxInputCostPer1M skips discovered models more expensive than this
	MaxInputCostPer1M float64 `toml:"max_input_cost_per_1m" json:"max_input_cost_per_1m"`
}

// TierRule defines which models qualify for a tier.
type TierRule struct {
	// MaxInputCostPer1M is the cost ceiling in USD per 1M input tokens.
	// A negative value means no ceiling.
	MaxInputCostPer1M float64 `toml:"max_input_cost_per_1m" json:"max_input_cost_per_1m"`
	// Require lists capability tags a model must carry to qualify
	Require []string `toml:"require" json:"require"`
}

// ClassifierConfig contains task classification configuration.
type ClassifierConfig struct {
	// Fallback is the category used when no keyword matches
	Fallback string `toml:"fallback" json:"fallback"`
	// Priority is the fixed tie-break ordering, most specific first
	Priority []string `toml:"priority" json:"priority"`
	// Keywords maps category -> bilingual keyword list
	Keywords map[string][]string `toml:"keywords" json:"keywords"`
	// TierMap maps category -> tier name
	TierMap map[string]string `toml:"tier_map" json:"tier_map"`
}

// ScoringConfig contains composite scoring weights.
type ScoringConfig struct {
	// PriorityWeight scales the catalog-declared priority (default 0.40)
	PriorityWeight float64 `toml:"priority_weight" json:"priority_weight"`
	// SuccessWeight scales the historical success rate (default 0.30)
	SuccessWeight float64 `toml:"success_weight" json:"success_weight"`
	// SpeedWeight scales the normalized speed score (default 0.15)
	SpeedWeight float64 `toml:"speed_weight" json:"speed_weight"`
	// LatencyWeight scales the normalized latency score (default 0.15)
	LatencyWeight float64 `toml:"latency_weight" json:"latency_weight"`
	// MinSamples is the minimum outcome count before history is trusted
	MinSamples int `toml:"min_samples" json:"min_samples"`
	// PriorSuccessRate is substituted for models below MinSamples
	PriorSuccessRate float64 `toml:"prior_success_rate" json:"prior_success_rate"`
}

// CascadeConfig contains fallback execution parameters.
type CascadeConfig struct {
	// AttemptTimeoutSecs bounds a single provider call
	AttemptTimeoutSecs int `toml:"attempt_timeout_secs" json:"attempt_timeout_secs"`
	// MaxRetries is the per-candidate retry budget for retriable failures
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// BackoffBaseMs is the base delay for exponential backoff
	BackoffBaseMs int `toml:"backoff_base_ms" json:"backoff_base_ms"`
	// BackoffMaxMs caps the backoff delay
	BackoffMaxMs int `toml:"backoff_max_ms" json:"backoff_max_ms"`
	// MaxCandidates caps how many ranked candidates are attempted (0 = all)
	MaxCandidates int `toml:"max_candidates" json:"max_candidates"`
}

// ProviderConfig describes one upstream backend.
type ProviderConfig struct {
	// Name is the provider identifier used in model IDs (e.g. "openrouter")
	Name string `toml:"name" json:"name"`
	// BaseURL is the OpenAI-compatible API root
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env"`
	// APIKey is the literal key; APIKeyEnv takes precedence when set
	APIKey string `toml:"api_key" json:"api_key"`
	// RequestsPerSec rate-limits outbound calls (0 = unlimited)
	RequestsPerSec float64 `toml:"requests_per_sec" json:"requests_per_sec"`
}

// Key resolves the API key, preferring the environment variable.
func (p ProviderConfig) Key() string {
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return p.APIKey
}

// OutcomeConfig contains outcome store settings.
type OutcomeConfig struct {
	// Path is the sqlite database location (empty = ~/.llmgate/outcomes.db)
	Path string `toml:"path" json:"path"`
	// Retain bounds how many records Trim keeps (0 = unlimited)
	Retain int `toml:"retain" json:"retain"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8719",
			MaxRequestBytes: 1 << 20,
		},
		Catalog: CatalogConfig{
			DiscoveryURL:        "https://openrouter.ai/api/v1/models",
			APIKeyEnv:           "LLMGATE_DISCOVERY_KEY",
			RefreshIntervalSecs: 86400,
			MaxInputCostPer1M:   20.0,
		},
		Tiers: map[string]TierRule{
			"free":     {MaxInputCostPer1M: 0},
			"cheap":    {MaxInputCostPer1M: 0.05},
			"standard": {MaxInputCostPer1M: 0.15},
			"premium":  {MaxInputCostPer1M: -1},
			"research": {MaxInputCostPer1M: -1, Require: []string{"research"}},
		},
		Classifier: DefaultClassifier(),
		Scoring: ScoringConfig{
			PriorityWeight:   0.40,
			SuccessWeight:    0.30,
			SpeedWeight:      0.15,
			LatencyWeight:    0.15,
			MinSamples:       5,
			PriorSuccessRate: 0.7,
		},
		Cascade: CascadeConfig{
			AttemptTimeoutSecs: 60,
			MaxRetries:         2,
			BackoffBaseMs:      500,
			BackoffMaxMs:       10000,
			MaxCandidates:      4,
		},
		Providers: []ProviderConfig{
			{
				Name:           "openrouter",
				BaseURL:        "https://openrouter.ai/api/v1",
				APIKeyEnv:      "OPENROUTER_API_KEY",
				RequestsPerSec: 5,
			},
		},
		Outcomes: OutcomeConfig{
			Retain: 10000,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// ErrUnsupportedFormat is returned for config files with unknown extensions.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Load reads configuration from path, layered over the defaults.
// The format is chosen by file extension (.toml or .json).
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault searches the standard locations and loads the first config
// file found. Missing files are not an error; defaults are returned.
func LoadDefault() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"config.toml", "config.json"} {
		path := filepath.Join(home, ".llmgate", name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration and clamps out-of-range values to
// safe defaults rather than failing where a sane substitute exists.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8719"
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = 1 << 20
	}

	if c.Catalog.DiscoveryURL != "" {
		u, err := url.Parse(c.Catalog.DiscoveryURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("catalog: invalid discovery_url %q", c.Catalog.DiscoveryURL)
		}
	}
	if c.Catalog.MaxInputCostPer1M <= 0 {
		c.Catalog.MaxInputCostPer1M = 20.0
	}

	if len(c.Tiers) == 0 {
		c.Tiers = Default().Tiers
	}

	if err := c.Classifier.validate(); err != nil {
		return err
	}

	s := &c.Scoring
	if s.PriorityWeight <= 0 {
		s.PriorityWeight = 0.40
	}
	if s.SuccessWeight <= 0 {
		s.SuccessWeight = 0.30
	}
	if s.SpeedWeight < 0 {
		s.SpeedWeight = 0.15
	}
	if s.LatencyWeight < 0 {
		s.LatencyWeight = 0.15
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 5
	}
	if s.PriorSuccessRate <= 0 || s.PriorSuccessRate > 1 {
		s.PriorSuccessRate = 0.7
	}

	cc := &c.Cascade
	if cc.AttemptTimeoutSecs <= 0 {
		cc.AttemptTimeoutSecs = 60
	}
	if cc.MaxRetries < 0 {
		cc.MaxRetries = 2
	}
	if cc.BackoffBaseMs <= 0 {
		cc.BackoffBaseMs = 500
	}
	if cc.BackoffMaxMs < cc.BackoffBaseMs {
		cc.BackoffMaxMs = 10000
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers: duplicate name %q", p.Name)
		}
		seen[p.Name] = true
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("provider %q: invalid base_url %q", p.Name, p.BaseURL)
		}
	}

	if c.Outcomes.Retain < 0 {
		c.Outcomes.Retain = 0
	}
	return nil
}

func (cc *ClassifierConfig) validate() error {
	def := DefaultClassifier()
	if len(cc.Keywords) == 0 {
		cc.Keywords = def.Keywords
	}
	if cc.Fallback == "" {
		cc.Fallback = def.Fallback
	}
	if len(cc.Priority) == 0 {
		cc.Priority = def.Priority
	}
	if len(cc.TierMap) == 0 {
		cc.TierMap = def.TierMap
	}
	if _, ok := cc.Keywords[cc.Fallback]; !ok {
		// Fallback must be a known category even if it has no keywords.
		cc.Keywords[cc.Fallback] = nil
	}
	for _, cat := range cc.Priority {
		if _, ok := cc.Keywords[cat]; !ok {
			return fmt.Errorf("classifier: priority lists unknown category %q", cat)
		}
	}
	for cat := range cc.Keywords {
		if _, ok := cc.TierMap[cat]; !ok {
			return fmt.Errorf("classifier: category %q has no tier mapping", cat)
		}
	}
	return nil
}
