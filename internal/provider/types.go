// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the upstream model backends.
//
// Every backend speaks the OpenAI-compatible chat completions protocol
// and is addressed through the Adapter interface, so the cascade layer
// never knows which vendor is behind a model identifier.
package provider

import "context"

// =============================================================================
// MESSAGES
// =============================================================================

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request is one completion request addressed to a specific model.
type Request struct {
	// Model is the provider-scoped model name (without provider prefix).
	Model string
	// Messages is the conversation so far, oldest first.
	Messages []Message
	// Temperature is passed through when positive.
	Temperature float64
	// MaxTokens caps the completion length when positive.
	MaxTokens int
}

// Usage reports the token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed (non-streaming) completion.
type Response struct {
	// Model is the model that actually served the request, as reported
	// by the backend. May differ from the requested model for routers.
	Model string
	// Content is the assistant message text.
	Content string
	// FinishReason is the backend's termination reason.
	FinishReason string
	// Usage is the token accounting, zero when the backend omits it.
	Usage Usage
}

// =============================================================================
// STREAMING
// =============================================================================

// Fragment is one incremental piece of a streamed completion.
type Fragment struct {
	// Content is the text delta, possibly empty for control fragments.
	Content string
	// FinishReason is set on the terminal fragment.
	FinishReason string
	// Model is the serving model, set when the backend reports it.
	Model string
}

// Stream delivers completion fragments in order.
//
// Recv returns io.EOF after the final fragment. Close releases the
// underlying connection and is safe to call at any point, including
// mid-stream to abandon a response.
type Stream interface {
	Recv() (Fragment, error)
	Close() error
}

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter is one upstream backend.
//
// Implementations must be safe for concurrent use. Errors returned by
// Complete and Stream are classified by Kind for retry decisions.
type Adapter interface {
	// Name is the provider identifier used in model IDs.
	Name() string
	// Complete performs a blocking completion.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream starts a streaming completion. The returned Stream must be
	// closed by the caller.
	Stream(ctx context.Context, req Request) (Stream, error)
}
