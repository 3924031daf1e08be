// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func discoveryServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchModels(t *testing.T) {
	srv := discoveryServer(t, `{"data": [
		{"id": "vendor/free-model:free", "context_length": 32000,
		 "pricing": {"prompt": "0", "completion": "0"}},
		{"id": "vendor/paid-model", "context_length": 128000,
		 "pricing": {"prompt": "0.000001", "completion": "0.000002"}}
	]}`)

	src := NewHTTPSource(srv.URL, "", "openrouter", 20.0, zerolog.Nop())
	models, err := src.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}

	free := models[0]
	if !free.IsFree() {
		t.Errorf("free model has cost %v/%v", free.InputCostPer1M, free.OutputCostPer1M)
	}
	if free.Provider != "openrouter" {
		t.Errorf("provider = %q", free.Provider)
	}

	paid := models[1]
	// $0.000001 per token is $1 per 1M tokens.
	if paid.InputCostPer1M != 1.0 {
		t.Errorf("input cost = %v, want 1.0", paid.InputCostPer1M)
	}
	if paid.OutputCostPer1M != 2.0 {
		t.Errorf("output cost = %v, want 2.0", paid.OutputCostPer1M)
	}
	if paid.ContextWindow != 128000 {
		t.Errorf("context = %d", paid.ContextWindow)
	}
}

func TestFetchModelsSkipsMalformed(t *testing.T) {
	srv := discoveryServer(t, `{"data": [
		{"id": "", "pricing": {"prompt": "0"}},
		{"id": "vendor/bad-price", "pricing": {"prompt": "not-a-number"}},
		{"id": "vendor/negative", "context_length": -5},
		{"id": "vendor/good", "pricing": {"prompt": "0", "completion": "0"}}
	]}`)

	src := NewHTTPSource(srv.URL, "", "openrouter", 20.0, zerolog.Nop())
	models, err := src.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 1 || models[0].Model != "vendor/good" {
		t.Errorf("models = %+v, want only vendor/good", models)
	}
}

func TestFetchModelsCostCap(t *testing.T) {
	// $0.00005 per token is $50 per 1M, over a $20 cap.
	srv := discoveryServer(t, `{"data": [
		{"id": "vendor/frontier", "pricing": {"prompt": "0.00005", "completion": "0.0001"}},
		{"id": "vendor/affordable", "pricing": {"prompt": "0.000001", "completion": "0.000001"}}
	]}`)

	src := NewHTTPSource(srv.URL, "", "openrouter", 20.0, zerolog.Nop())
	models, err := src.FetchModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Model != "vendor/affordable" {
		t.Errorf("models = %+v, want only vendor/affordable", models)
	}
}

func TestFetchModelsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "", "openrouter", 20.0, zerolog.Nop())
	if _, err := src.FetchModels(context.Background()); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestFetchModelsSendsAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data": [{"id": "v/m", "pricing": {"prompt": "0", "completion": "0"}}]}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "sk-test", "openrouter", 20.0, zerolog.Nop())
	if _, err := src.FetchModels(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestDeriveSpeed(t *testing.T) {
	tests := []struct {
		id   string
		cost float64
		want int
	}{
		{"vendor/model:free", 0, 5},
		{"google/gemini-flash", 0.1, 5},
		{"openai/gpt-4o-mini", 0.15, 5},
		{"anthropic/claude-opus", 15.0, 2},
		{"vendor/middling", 0.5, 3},
	}
	for _, tt := range tests {
		if got := deriveSpeed(tt.id, tt.cost); got != tt.want {
			t.Errorf("deriveSpeed(%q, %v) = %d, want %d", tt.id, tt.cost, got, tt.want)
		}
	}
}

func TestDerivePriorityBounds(t *testing.T) {
	// Every bonus at once must still clamp at 100.
	recent := time.Now().Add(-24 * time.Hour).Unix()
	if got := derivePriority("anthropic/claude-new", 0, 200000, recent); got > 100 {
		t.Errorf("priority = %d, want <= 100", got)
	}
	if got := derivePriority("vendor/old", 10, 4000, 0); got < 0 {
		t.Errorf("priority = %d, want >= 0", got)
	}
}

func TestDerivePriorityPrefersCheaper(t *testing.T) {
	free := derivePriority("v/a", 0, 32000, 0)
	pricey := derivePriority("v/b", 1.0, 32000, 0)
	if free <= pricey {
		t.Errorf("free priority %d not above paid %d", free, pricey)
	}
}

func TestDeriveCapabilities(t *testing.T) {
	tests := []struct {
		id   string
		desc string
		want Capability
	}{
		{"qwen/qwen-coder", "", CapCode},
		{"openai/o3", "reasoning model", CapReasoning},
		{"perplexity/sonar", "online search", CapResearch},
		{"openai/gpt-4o", "multimodal", CapVision},
	}
	for _, tt := range tests {
		caps := deriveCapabilities(tt.id, tt.desc)
		d := Descriptor{Capabilities: caps}
		if !d.Has(tt.want) {
			t.Errorf("deriveCapabilities(%q) = %v, missing %s", tt.id, caps, tt.want)
		}
		if !d.Has(CapChat) {
			t.Errorf("deriveCapabilities(%q) missing baseline chat", tt.id)
		}
	}
}

func TestPerMillion(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"0.000001", 1.0, false},
		{"garbage", 0, true},
	}
	for _, tt := range tests {
		got, err := perMillion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("perMillion(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("perMillion(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
