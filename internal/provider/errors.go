// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// =============================================================================
// ERROR VARIABLES
// =============================================================================

var (
	// ErrNotConfigured indicates the provider has no API key.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrAuthFailed indicates an invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the backend rejected the call for quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist
	// at this backend.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrContentRejected indicates the backend refused the prompt.
	ErrContentRejected = errors.New("content rejected")

	// ErrBadRequest indicates the backend rejected the request as
	// malformed. Retrying the same request cannot help.
	ErrBadRequest = errors.New("invalid request")

	// ErrTransient indicates a server-side or network failure that a
	// retry may resolve.
	ErrTransient = errors.New("transient upstream failure")
)

// =============================================================================
// API ERROR
// =============================================================================

// APIError is an error response from an upstream backend.
type APIError struct {
	Provider string
	Code     string
	Message  string
	Status   int
	// RetryAfter is the backend-suggested retry delay, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// Unwrap maps the status code onto the sentinel taxonomy so callers can
// use errors.Is without inspecting status codes.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == 401 || e.Status == 403:
		return ErrAuthFailed
	case e.Status == 402:
		return ErrInsufficientCredits
	case e.Status == 404:
		return ErrModelNotFound
	case e.Status == 429:
		return ErrRateLimited
	// Remaining 4xx responses mean the request itself is bad; retrying
	// it unchanged would just repeat the rejection.
	case e.Status >= 400 && e.Status < 500:
		return ErrBadRequest
	case e.Status >= 500:
		return ErrTransient
	default:
		return nil
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Kind is the coarse failure class used for retry and fallback
// decisions.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindAuth means the credentials are bad; no retry will help.
	KindAuth
	// KindRateLimit means the backend asked us to slow down.
	KindRateLimit
	// KindTransient means a retry against the same backend may succeed.
	KindTransient
	// KindContent means the prompt was refused; retrying the same
	// backend is pointless but another model may accept it.
	KindContent
	// KindNotFound means the model is unknown to the backend.
	KindNotFound
	// KindBadRequest means the backend rejected the request as
	// malformed; no retry can help, move to the next candidate.
	KindBadRequest
	// KindCancelled means the caller gave up.
	KindCancelled
	// KindTimeout means the attempt deadline expired.
	KindTimeout
)

// String returns the failure class name.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindContent:
		return "content_rejected"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrInsufficientCredits):
		return KindAuth
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrContentRejected):
		return KindContent
	case errors.Is(err, ErrModelNotFound):
		return KindNotFound
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrTransient):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether retrying the same backend can help.
// Unknown failures are retried once rather than dropped, since most of
// them turn out to be connection resets.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindRateLimit, KindTransient, KindTimeout, KindUnknown:
		return true
	default:
		return false
	}
}

// RetryAfter extracts the backend-suggested delay, zero when absent.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
