// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test", srv.URL, "sk-test", WithClientLogger(zerolog.Nop()))
}

const okCompletion = `{
	"id": "cmpl-1",
	"model": "vendor/served",
	"choices": [{
		"message": {"role": "assistant", "content": "hello back"},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		w.Write([]byte(okCompletion))
	})

	resp, err := c.Complete(context.Background(), Request{
		Model:    "vendor/model",
		Messages: []Message{UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello back" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Model != "vendor/served" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteNotConfigured(t *testing.T) {
	c := NewClient("test", "http://unused.test", "")
	_, err := c.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestCompleteStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrInsufficientCredits},
		{http.StatusNotFound, ErrModelNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusServiceUnavailable, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": {"message": "nope", "code": "test"}}`))
			})
			_, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("x")}})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCompleteRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down"}}`))
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("x")}})
	if got := RetryAfter(err); got != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", got)
	}
}

func TestCompleteContentFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "v/m",
			"choices": [{"message": {"role": "assistant", "content": ""}, "finish_reason": "content_filter"}]
		}`))
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("x")}})
	if !errors.Is(err, ErrContentRejected) {
		t.Errorf("err = %v, want ErrContentRejected", err)
	}
}

func TestCompleteModerationRefusal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "flagged by moderation", "code": "content_policy_violation"}}`))
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("x")}})
	if !errors.Is(err, ErrContentRejected) {
		t.Errorf("err = %v, want ErrContentRejected", err)
	}
}

func TestStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"model\":\"v/m\",\"choices\":[{\"delta\":{\"content\":\"hel\"},\"finish_reason\":\"\"}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"\"}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"\"},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := c.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var content string
	var finish string
	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		content += frag.Content
		if frag.FinishReason != "" {
			finish = frag.FinishReason
		}
	}
	if content != "hello" {
		t.Errorf("content = %q", content)
	}
	if finish != "stop" {
		t.Errorf("finish = %q", finish)
	}
}

func TestStreamSkipsMalformedChunks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: not json\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n\n")
	})

	stream, err := c.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	frag, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frag.Content != "ok" {
		t.Errorf("content = %q", frag.Content)
	}
}

func TestStreamRecvCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"},\"finish_reason\":\"\"}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.Stream(ctx, Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	frag, err := stream.Recv()
	if err != nil || frag.Content != "partial" {
		t.Fatalf("first Recv = %q, %v", frag.Content, err)
	}

	// A caller hanging up mid-stream is a cancellation, not an upstream
	// fault; the chain must say so.
	cancel()
	_, err = stream.Recv()
	if err == nil || err == io.EOF {
		t.Fatalf("Recv after cancel = %v, want error", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
	if got := Classify(err); got != KindCancelled {
		t.Errorf("Classify = %v, want KindCancelled", got)
	}
}

func TestStreamOpenError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "quota"}}`))
	})
	_, err := c.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"auth", ErrAuthFailed, KindAuth},
		{"not configured", ErrNotConfigured, KindAuth},
		{"credits", ErrInsufficientCredits, KindAuth},
		{"rate limit", ErrRateLimited, KindRateLimit},
		{"content", ErrContentRejected, KindContent},
		{"not found", ErrModelNotFound, KindNotFound},
		{"transient", ErrTransient, KindTransient},
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"api 500", &APIError{Status: 500}, KindTransient},
		{"api 401", &APIError{Status: 401}, KindAuth},
		{"api 400", &APIError{Status: 400, Message: "invalid request"}, KindBadRequest},
		{"api 422", &APIError{Status: 422}, KindBadRequest},
		{"wrapped", errors.Join(errors.New("ctx"), ErrRateLimited), KindRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrRateLimited, true},
		{ErrTransient, true},
		{context.DeadlineExceeded, true},
		{ErrAuthFailed, false},
		{ErrContentRejected, false},
		{ErrModelNotFound, false},
		{ErrBadRequest, false},
		{&APIError{Status: 400, Message: "invalid request"}, false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("seconds form = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := parseRetryAfter("junk"); got != 0 {
		t.Errorf("junk = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistryFromAdapters(NewClient("alpha", "http://a.test", "k"))
	if _, err := reg.Get("alpha"); err != nil {
		t.Errorf("Get(alpha): %v", err)
	}
	if _, err := reg.Get("beta"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "alpha" {
		t.Errorf("Names = %v", names)
	}
}
