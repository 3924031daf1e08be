// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway is the routing facade: classify a prompt, pick a
// tier, run the cascade, account for the result.
//
// Callers see three failure modes: the catalog is unavailable, the tier
// has no qualifying model, or every candidate was exhausted. Everything
// else is absorbed by the cascade's fallback behavior.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/morganforge/llmgate/internal/cascade"
	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/classify"
	"github.com/morganforge/llmgate/internal/outcome"
	"github.com/morganforge/llmgate/internal/provider"
	"github.com/morganforge/llmgate/internal/telemetry"
)

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway routes prompts to models.
type Gateway struct {
	classifier *classify.Classifier
	executor   *cascade.Executor
	catalog    *catalog.Catalog
	store      *outcome.Store
	costs      *telemetry.CostTracker
	metrics    *telemetry.Metrics
	log        zerolog.Logger
}

// New wires a gateway from its components. metrics may be nil when no
// collector is registered (library embedding).
func New(classifier *classify.Classifier, executor *cascade.Executor, cat *catalog.Catalog,
	store *outcome.Store, costs *telemetry.CostTracker, metrics *telemetry.Metrics,
	log zerolog.Logger) *Gateway {
	return &Gateway{
		classifier: classifier,
		executor:   executor,
		catalog:    cat,
		store:      store,
		costs:      costs,
		metrics:    metrics,
		log:        log,
	}
}

// =============================================================================
// REQUEST OPTIONS
// =============================================================================

// request carries the per-call overrides.
type request struct {
	tier        catalog.Tier
	tierSet     bool
	history     []provider.Message
	system      string
	temperature float64
	maxTokens   int
}

// Option overrides routing or completion parameters for one call.
type Option func(*request)

// WithTier pins the routing tier, bypassing the classifier's tier
// mapping. The prompt is still classified for outcome bookkeeping.
func WithTier(t catalog.Tier) Option {
	return func(r *request) { r.tier = t; r.tierSet = true }
}

// WithHistory prepends prior conversation turns.
func WithHistory(msgs []provider.Message) Option {
	return func(r *request) { r.history = msgs }
}

// WithSystemPrompt sets a system message.
func WithSystemPrompt(s string) Option {
	return func(r *request) { r.system = s }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *request) { r.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(r *request) { r.maxTokens = n }
}

// =============================================================================
// COMPLETION
// =============================================================================

// Completion is the result of one routed request.
type Completion struct {
	// RequestID is the unique identifier assigned to this request.
	RequestID string `json:"request_id"`
	// Model is the full identifier that served the request.
	Model string `json:"model"`
	// Category is the classified task category.
	Category string `json:"category"`
	// Tier is the tier the request was routed in.
	Tier string `json:"tier"`
	// Content is the completion text.
	Content string `json:"content"`
	// Usage is the reported token accounting.
	Usage provider.Usage `json:"usage"`
	// Attempts counts provider calls made.
	Attempts int `json:"attempts"`
	// Fallbacks counts candidates skipped before the winning one.
	Fallbacks int `json:"fallbacks"`
	// Latency is the winning attempt's wall time.
	Latency time.Duration `json:"latency_ms"`
}

// buildRequest assembles the provider request and routing decision.
func (g *Gateway) buildRequest(text string, opts []Option) (classify.Result, provider.Request) {
	var r request
	for _, opt := range opts {
		opt(&r)
	}

	cls := g.classifier.Classify(text)
	if r.tierSet {
		cls.Tier = r.tier
	}

	msgs := make([]provider.Message, 0, len(r.history)+2)
	if r.system != "" {
		msgs = append(msgs, provider.SystemMessage(r.system))
	}
	msgs = append(msgs, r.history...)
	msgs = append(msgs, provider.UserMessage(text))

	return cls, provider.Request{
		Messages:    msgs,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}
}

// RouteAndComplete classifies the prompt, routes it and returns the
// completion from the first model that succeeds.
func (g *Gateway) RouteAndComplete(ctx context.Context, text string, opts ...Option) (*Completion, error) {
	requestID := uuid.NewString()
	start := time.Now()

	cls, preq := g.buildRequest(text, opts)
	log := g.log.With().
		Str("request_id", requestID).
		Str("category", cls.Category).
		Str("tier", cls.Tier.String()).
		Logger()
	log.Debug().Strs("matched", cls.Matched).Msg("request classified")

	res, err := g.executor.Execute(ctx, cls.Tier, cls.Category, preq)
	g.observe(cls, err, time.Since(start), res)
	if err != nil {
		log.Warn().Err(err).Msg("routing failed")
		return nil, err
	}

	if d, ok := g.catalog.Get(res.Model); ok {
		g.costs.Record(d, res.Response.Usage)
	}

	return &Completion{
		RequestID: requestID,
		Model:     res.Model,
		Category:  cls.Category,
		Tier:      cls.Tier.String(),
		Content:   res.Response.Content,
		Usage:     res.Response.Usage,
		Attempts:  res.Attempts,
		Fallbacks: res.Fallbacks,
		Latency:   res.Latency,
	}, nil
}

// StreamHandle is an in-flight routed stream.
type StreamHandle struct {
	RequestID string
	Model     string
	Category  string
	Tier      string
	Fallbacks int
	Stream    provider.Stream
}

// RouteAndStream classifies the prompt and opens a stream on the first
// model that accepts it. The caller must close the stream.
func (g *Gateway) RouteAndStream(ctx context.Context, text string, opts ...Option) (*StreamHandle, error) {
	requestID := uuid.NewString()

	cls, preq := g.buildRequest(text, opts)
	res, err := g.executor.ExecuteStream(ctx, cls.Tier, cls.Category, preq)
	if err != nil {
		g.observe(cls, err, 0, nil)
		return nil, err
	}

	return &StreamHandle{
		RequestID: requestID,
		Model:     res.Model,
		Category:  cls.Category,
		Tier:      cls.Tier.String(),
		Fallbacks: res.Fallbacks,
		Stream:    res.Stream,
	}, nil
}

// observe updates the Prometheus collectors for one routed request.
func (g *Gateway) observe(cls classify.Result, err error, elapsed time.Duration, res *cascade.Result) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.RequestsTotal.WithLabelValues(cls.Category, cls.Tier.String(), status).Inc()
	if elapsed > 0 {
		g.metrics.RequestLatency.WithLabelValues(cls.Category).Observe(elapsed.Seconds())
	}
	if res != nil && res.Fallbacks > 0 {
		g.metrics.FallbacksTotal.WithLabelValues(cls.Tier.String()).Add(float64(res.Fallbacks))
	}
	if snap := g.catalog.Snapshot(); snap != nil {
		g.metrics.CatalogModels.Set(float64(len(snap.Models())))
	}
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// Stats is the operational state exposed by the stats endpoint.
type Stats struct {
	CatalogModels    int                      `json:"catalog_models"`
	CatalogFetchedAt time.Time                `json:"catalog_fetched_at"`
	OutcomeRecords   int                      `json:"outcome_records"`
	Costs            telemetry.Summary        `json:"costs"`
	Categories       map[string]CategoryStats `json:"categories"`
}

// CategoryStats summarizes history for one category.
type CategoryStats struct {
	Models map[string]outcome.Aggregate `json:"models"`
}

// Stats reports the gateway's operational state.
func (g *Gateway) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Costs:      g.costs.Summarize(),
		Categories: make(map[string]CategoryStats),
	}

	if snap := g.catalog.Snapshot(); snap != nil {
		st.CatalogModels = len(snap.Models())
		st.CatalogFetchedAt = snap.FetchedAt()
	}

	n, err := g.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	st.OutcomeRecords = n

	for _, category := range g.classifier.Categories() {
		aggs, err := g.store.AggregateByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		if len(aggs) > 0 {
			st.Categories[category] = CategoryStats{Models: aggs}
		}
	}
	return st, nil
}

// Classify exposes the classifier's decision without routing.
func (g *Gateway) Classify(text string) classify.Result {
	return g.classifier.Classify(text)
}
