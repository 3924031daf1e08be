// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cascade executes completions against a ranked candidate list
// with per-candidate retry and cross-candidate fallback.
//
// The executor walks candidates best-first. Transient failures are
// retried with exponential backoff against the same candidate; terminal
// failures advance to the next one immediately. Every attempted
// candidate produces exactly one outcome record, so the history that
// drives future rankings reflects what actually happened.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/config"
	"github.com/morganforge/llmgate/internal/outcome"
	"github.com/morganforge/llmgate/internal/provider"
	"github.com/morganforge/llmgate/internal/score"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNoQualifyingModel indicates the catalog holds no enabled model for
// the requested tier.
var ErrNoQualifyingModel = errors.New("no qualifying model for tier")

// CandidateError records why one candidate failed.
type CandidateError struct {
	Model string
	Kind  provider.Kind
	Err   error
}

// ExhaustedError indicates every candidate failed.
type ExhaustedError struct {
	Tier       catalog.Tier
	Category   string
	Candidates []CandidateError
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d candidates exhausted for tier %s", len(e.Candidates), e.Tier)
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, "; %s: %s", c.Model, c.Kind)
	}
	return b.String()
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs the fallback cascade.
type Executor struct {
	catalog   *catalog.Catalog
	store     *outcome.Store
	scorer    *score.Scorer
	providers *provider.Registry
	cfg       config.CascadeConfig
	log       zerolog.Logger
	onOutcome func(model string, success bool, failure outcome.FailureKind)
}

// OnOutcome registers a hook invoked once per recorded outcome, after
// the store write. Used to feed metrics counters. Must be set before
// the executor serves requests.
func (e *Executor) OnOutcome(fn func(model string, success bool, failure outcome.FailureKind)) {
	e.onOutcome = fn
}

// New creates an executor.
func New(cat *catalog.Catalog, store *outcome.Store, scorer *score.Scorer,
	providers *provider.Registry, cfg config.CascadeConfig, log zerolog.Logger) *Executor {
	return &Executor{
		catalog:   cat,
		store:     store,
		scorer:    scorer,
		providers: providers,
		cfg:       cfg,
		log:       log,
	}
}

// Result is a successful cascade execution.
type Result struct {
	// Model is the full "provider/model" identifier that served the
	// request.
	Model string
	// Response is the completion.
	Response *provider.Response
	// Attempts counts provider calls across all candidates.
	Attempts int
	// Fallbacks counts candidates skipped before the winning one.
	Fallbacks int
	// Latency is the wall time of the winning attempt only.
	Latency time.Duration
}

// candidates ranks the eligible models for a tier and category.
func (e *Executor) candidates(ctx context.Context, tier catalog.Tier, category string) ([]score.Ranked, error) {
	models, err := e.catalog.List(tier)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoQualifyingModel, tier)
	}

	aggs, err := e.store.AggregateByCategory(ctx, category)
	if err != nil {
		// History is an optimization; rank on priors rather than fail.
		e.log.Warn().Err(err).Msg("outcome aggregation failed, ranking without history")
		aggs = nil
	}

	ranked := e.scorer.Rank(models, aggs)
	if e.cfg.MaxCandidates > 0 && len(ranked) > e.cfg.MaxCandidates {
		ranked = ranked[:e.cfg.MaxCandidates]
	}
	return ranked, nil
}

// Execute runs the cascade for a blocking completion.
func (e *Executor) Execute(ctx context.Context, tier catalog.Tier, category string, req provider.Request) (*Result, error) {
	ranked, err := e.candidates(ctx, tier, category)
	if err != nil {
		return nil, err
	}

	totalAttempts := 0
	var failures []CandidateError

	for i, cand := range ranked {
		d := cand.Descriptor
		resp, latency, attempts, attemptErr := e.tryCandidate(ctx, d, category, req)
		totalAttempts += attempts

		if attemptErr == nil {
			e.log.Info().
				Str("model", d.ID()).
				Str("category", category).
				Int("fallbacks", i).
				Dur("latency", latency).
				Msg("cascade completed")
			return &Result{
				Model:     d.ID(),
				Response:  resp,
				Attempts:  totalAttempts,
				Fallbacks: i,
				Latency:   latency,
			}, nil
		}

		kind := provider.Classify(attemptErr)
		failures = append(failures, CandidateError{Model: d.ID(), Kind: kind, Err: attemptErr})
		e.log.Warn().
			Str("model", d.ID()).
			Str("kind", kind.String()).
			Err(attemptErr).
			Msg("candidate failed, falling back")

		// Caller cancellation ends the cascade; the outcome for this
		// candidate was already recorded as cancelled.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ExhaustedError{Tier: tier, Category: category, Candidates: failures}
}

// tryCandidate runs one candidate with its retry budget and records
// exactly one outcome for the terminal attempt.
func (e *Executor) tryCandidate(ctx context.Context, d catalog.Descriptor, category string, req provider.Request) (*provider.Response, time.Duration, int, error) {
	adapter, err := e.providers.Get(d.Provider)
	if err != nil {
		// Misconfiguration, not a model failure; nothing to record.
		return nil, 0, 0, err
	}

	req.Model = d.Model

	var lastErr error
	var lastLatency time.Duration
	attempts := 0

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleepBackoff(ctx, attempt, lastErr); err != nil {
				lastErr = err
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.AttemptTimeoutSecs)*time.Second)
		start := time.Now()
		resp, err := adapter.Complete(attemptCtx, req)
		latency := time.Since(start)
		cancel()
		attempts++

		if err == nil {
			e.record(d.ID(), category, true, latency, outcome.FailureNone)
			return resp, latency, attempts, nil
		}

		lastErr = err
		lastLatency = latency

		// The parent context ending means the caller gave up, not that
		// the attempt timed out.
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if !provider.Retryable(err) {
			break
		}
	}

	e.record(d.ID(), category, false, lastLatency, failureKind(lastErr))
	return nil, 0, attempts, lastErr
}

// sleepBackoff waits before a retry, honoring any Retry-After hint.
func (e *Executor) sleepBackoff(ctx context.Context, attempt int, lastErr error) error {
	delay := e.backoff(attempt)
	if ra := provider.RetryAfter(lastErr); ra > delay {
		delay = ra
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// backoff computes the exponential delay with jitter for the given
// retry attempt (attempt >= 1).
func (e *Executor) backoff(attempt int) time.Duration {
	base := time.Duration(e.cfg.BackoffBaseMs) * time.Millisecond
	max := time.Duration(e.cfg.BackoffMaxMs) * time.Millisecond

	delay := base << (attempt - 1)
	if delay > max || delay <= 0 {
		delay = max
	}
	// Up to 25% jitter spreads retries from concurrent requests.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// record writes one outcome, logging rather than failing on error so a
// full outcome disk never blocks completions.
func (e *Executor) record(model, category string, success bool, latency time.Duration, failure outcome.FailureKind) {
	// Recording uses its own context; the request context is often
	// already cancelled by the time a cancelled outcome is written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.store.Record(ctx, outcome.Outcome{
		Model:    model,
		Category: category,
		Success:  success,
		Latency:  latency,
		Failure:  failure,
	})
	if err != nil {
		e.log.Error().Err(err).Str("model", model).Msg("failed to record outcome")
	}
	if e.onOutcome != nil {
		e.onOutcome(model, success, failure)
	}
}

// failureKind maps a provider error onto the stored failure taxonomy.
func failureKind(err error) outcome.FailureKind {
	switch provider.Classify(err) {
	case provider.KindAuth:
		return outcome.FailureAuth
	case provider.KindRateLimit:
		return outcome.FailureRateLimit
	case provider.KindTransient:
		return outcome.FailureTransient
	case provider.KindContent:
		return outcome.FailureContent
	case provider.KindTimeout:
		return outcome.FailureTimeout
	case provider.KindCancelled:
		return outcome.FailureCancelled
	default:
		return outcome.FailureOther
	}
}
