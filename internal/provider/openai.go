// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// maxResponseSize caps response bodies to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024

	// userAgent identifies llmgate to upstream backends.
	userAgent = "llmgate/0.1.0"
)

// sharedHTTPClient pools connections across all providers. Blocking
// completions get no client timeout; deadlines come from the caller's
// context so the cascade layer owns the budget.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an Adapter for any OpenAI-compatible chat completions
// backend (OpenRouter, OpenAI, local inference servers).
type Client struct {
	name    string
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	log     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit caps outbound requests per second. Zero disables the
// limiter.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a backend client. An empty API key is allowed; calls
// will fail with ErrNotConfigured.
func NewClient(name, baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Adapter.
func (c *Client) Name() string { return c.name }

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// wait applies the outbound rate limit, respecting cancellation.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete implements Adapter. A single HTTP attempt; retry policy lives
// in the cascade layer so backoff state is shared across candidates.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := c.newChatRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	c.log.Debug().
		Str("provider", c.name).
		Str("model", req.Model).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("completion response")

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response carried no choices", ErrTransient)
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, fmt.Errorf("%w: finish_reason=content_filter", ErrContentRejected)
	}
	return &Response{
		Model:        chatResp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        chatResp.Usage,
	}, nil
}

// =============================================================================
// STREAM
// =============================================================================

// httpStream adapts an SSE response body to the Stream interface.
type httpStream struct {
	body   io.ReadCloser
	reader *sseReader
	done   bool
}

func (s *httpStream) Recv() (Fragment, error) {
	if s.done {
		return Fragment{}, io.EOF
	}
	for {
		data, err := s.reader.readEvent()
		if err != nil {
			s.done = true
			if err == io.EOF {
				return Fragment{}, io.EOF
			}
			// Wrap without hiding the cause; a cancelled context must
			// still classify as cancelled, not transient.
			return Fragment{}, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			return Fragment{}, io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		frag := Fragment{
			Content:      chunk.Choices[0].Delta.Content,
			FinishReason: chunk.Choices[0].FinishReason,
			Model:        chunk.Model,
		}
		if frag.FinishReason != "" {
			s.done = true
		}
		return frag, nil
	}
}

func (s *httpStream) Close() error {
	s.done = true
	return s.body.Close()
}

// Stream implements Adapter.
func (c *Client) Stream(ctx context.Context, req Request) (Stream, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := c.newChatRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := readLimited(resp.Body)
		resp.Body.Close()
		return nil, c.errorFromResponse(resp, body)
	}
	return &httpStream{body: resp.Body, reader: newSSEReader(resp.Body)}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newChatRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	bodyBytes, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	return httpReq, nil
}

// readLimited reads a response body with the size cap applied.
func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) == maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}

// errorFromResponse converts an HTTP error response to an APIError
// carrying the backend message and any Retry-After hint.
func (c *Client) errorFromResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{
		Provider: c.name,
		Status:   resp.StatusCode,
		Message:  strings.TrimSpace(string(body)),
	}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		// Codes come back as strings or numbers depending on backend.
		apiErr.Code = strings.Trim(string(parsed.Error.Code), `"`)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	// Moderation refusals come back as 400s with a recognizable code.
	if resp.StatusCode == http.StatusBadRequest {
		lower := strings.ToLower(apiErr.Code + " " + apiErr.Message)
		if strings.Contains(lower, "moderation") || strings.Contains(lower, "content_policy") ||
			strings.Contains(lower, "flagged") {
			return fmt.Errorf("%w: %s", ErrContentRejected, apiErr.Message)
		}
	}
	return apiErr
}

// parseRetryAfter handles the delta-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
