// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cascade

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/outcome"
	"github.com/morganforge/llmgate/internal/provider"
)

func drain(t *testing.T, s provider.Stream) string {
	t.Helper()
	var out string
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		out += frag.Content
	}
}

func TestExecuteStreamRecordsSuccessAtEOF(t *testing.T) {
	exec, _, store := testHarness(t, twoModels())

	res, err := exec.ExecuteStream(context.Background(), catalog.TierPremium, "chat", provider.Request{})
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	if res.Model != "fake/primary" {
		t.Errorf("model = %s", res.Model)
	}

	// Nothing recorded until the stream finishes.
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("outcomes before EOF = %d, want 0", n)
	}

	got := drain(t, res.Stream)
	if got != "streamed from primary" {
		t.Errorf("content = %q", got)
	}
	res.Stream.Close()

	agg, err := store.AggregateFor(context.Background(), "fake/primary", "chat")
	if err != nil {
		t.Fatal(err)
	}
	if agg.Samples != 1 || agg.SuccessRate != 1 {
		t.Errorf("aggregate = %+v", agg)
	}
}

func TestExecuteStreamFallsBackOnOpenFailure(t *testing.T) {
	exec, adapter, store := testHarness(t, twoModels())
	adapter.script("primary", provider.ErrAuthFailed)

	res, err := exec.ExecuteStream(context.Background(), catalog.TierPremium, "chat", provider.Request{})
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	if res.Model != "fake/backup" || res.Fallbacks != 1 {
		t.Errorf("model = %s, fallbacks = %d", res.Model, res.Fallbacks)
	}

	drain(t, res.Stream)
	res.Stream.Close()

	// The failed open and the successful stream each recorded once.
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("outcome records = %d, want 2", n)
	}
}

func TestExecuteStreamEarlyCloseRecordsCancelled(t *testing.T) {
	exec, _, store := testHarness(t, twoModels())

	res, err := exec.ExecuteStream(context.Background(), catalog.TierPremium, "chat", provider.Request{})
	if err != nil {
		t.Fatal(err)
	}
	// Abandon without reading to the end.
	res.Stream.Close()

	recent, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Failure != outcome.FailureCancelled {
		t.Errorf("recent = %+v, want one cancelled record", recent)
	}
}

func TestExecuteStreamExhausted(t *testing.T) {
	exec, adapter, _ := testHarness(t, twoModels())
	adapter.script("primary", provider.ErrContentRejected)
	adapter.script("backup", provider.ErrAuthFailed)

	_, err := exec.ExecuteStream(context.Background(), catalog.TierPremium, "chat", provider.Request{})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(exhausted.Candidates) != 2 {
		t.Errorf("candidates = %d", len(exhausted.Candidates))
	}
}

func TestExecuteStreamDoubleCloseRecordsOnce(t *testing.T) {
	exec, _, store := testHarness(t, twoModels())

	res, err := exec.ExecuteStream(context.Background(), catalog.TierPremium, "chat", provider.Request{})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, res.Stream)
	res.Stream.Close()
	res.Stream.Close()

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("outcome records = %d, want exactly 1", n)
	}
}
