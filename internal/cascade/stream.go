// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cascade

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/outcome"
	"github.com/morganforge/llmgate/internal/provider"
)

// StreamResult is a successfully opened cascade stream.
type StreamResult struct {
	// Model is the full identifier of the candidate serving the stream.
	Model string
	// Stream delivers the fragments. The caller must Close it.
	Stream provider.Stream
	// Fallbacks counts candidates skipped before this one.
	Fallbacks int
}

// ExecuteStream runs the cascade for a streaming completion.
//
// Fallback happens only while opening the stream; once fragments are
// flowing the chosen model is committed and a mid-stream failure
// surfaces to the caller rather than restarting on another model, since
// partial output has already been delivered. The outcome is recorded
// when the stream terminates.
func (e *Executor) ExecuteStream(ctx context.Context, tier catalog.Tier, category string, req provider.Request) (*StreamResult, error) {
	ranked, err := e.candidates(ctx, tier, category)
	if err != nil {
		return nil, err
	}

	var failures []CandidateError

	for i, cand := range ranked {
		d := cand.Descriptor
		adapter, err := e.providers.Get(d.Provider)
		if err != nil {
			failures = append(failures, CandidateError{Model: d.ID(), Kind: provider.KindUnknown, Err: err})
			continue
		}

		req.Model = d.Model
		stream, openErr := e.openStream(ctx, adapter, d.ID(), category, req)
		if openErr == nil {
			return &StreamResult{
				Model:     d.ID(),
				Stream:    stream,
				Fallbacks: i,
			}, nil
		}

		kind := provider.Classify(openErr)
		failures = append(failures, CandidateError{Model: d.ID(), Kind: kind, Err: openErr})
		e.log.Warn().
			Str("model", d.ID()).
			Str("kind", kind.String()).
			Err(openErr).
			Msg("stream open failed, falling back")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ExhaustedError{Tier: tier, Category: category, Candidates: failures}
}

// openStream opens one candidate's stream with the retry budget.
// Open failures record an outcome here; a successfully opened stream
// records its own when it terminates.
func (e *Executor) openStream(ctx context.Context, adapter provider.Adapter, modelID, category string, req provider.Request) (provider.Stream, error) {
	var lastErr error
	var lastLatency time.Duration

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleepBackoff(ctx, attempt, lastErr); err != nil {
				lastErr = err
				break
			}
		}

		start := time.Now()
		// No attempt timeout here: the deadline would kill the stream
		// mid-delivery. Cancellation comes from the caller's context.
		stream, err := adapter.Stream(ctx, req)
		lastLatency = time.Since(start)

		if err == nil {
			return &trackedStream{
				inner:    stream,
				exec:     e,
				model:    modelID,
				category: category,
				started:  start,
			}, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if !provider.Retryable(err) {
			break
		}
	}

	e.record(modelID, category, false, lastLatency, failureKind(lastErr))
	return nil, lastErr
}

// trackedStream records the outcome when the wrapped stream terminates:
// success at clean EOF, failure on a stream error, cancelled when the
// caller closes before the end.
type trackedStream struct {
	inner    provider.Stream
	exec     *Executor
	model    string
	category string
	started  time.Time

	once sync.Once
}

func (t *trackedStream) Recv() (provider.Fragment, error) {
	frag, err := t.inner.Recv()
	if err == nil {
		return frag, nil
	}
	if err == io.EOF {
		t.once.Do(func() {
			t.exec.record(t.model, t.category, true, time.Since(t.started), outcome.FailureNone)
		})
		return frag, io.EOF
	}
	t.once.Do(func() {
		t.exec.record(t.model, t.category, false, time.Since(t.started), failureKind(err))
	})
	return frag, err
}

func (t *trackedStream) Close() error {
	t.once.Do(func() {
		// Closed before the terminal fragment: the caller abandoned it.
		t.exec.record(t.model, t.category, false, time.Since(t.started), outcome.FailureCancelled)
	})
	return t.inner.Close()
}
