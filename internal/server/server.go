// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/morganforge/llmgate/internal/cascade"
	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/config"
	"github.com/morganforge/llmgate/internal/gateway"
	"github.com/morganforge/llmgate/internal/provider"
)

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP front end.
type Server struct {
	gw       *gateway.Gateway
	catalog  *catalog.Catalog
	cfg      config.ServerConfig
	log      zerolog.Logger
	registry *prometheus.Registry
	http     *http.Server
}

// New creates the server. registry may be nil to disable /metrics.
func New(gw *gateway.Gateway, cat *catalog.Catalog, cfg config.ServerConfig,
	registry *prometheus.Registry, log zerolog.Logger) *Server {
	s := &Server{
		gw:       gw,
		catalog:  cat,
		cfg:      cfg,
		log:      log,
		registry: registry,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Get("/models", s.handleModels)
		r.Get("/stats", s.handleStats)
		r.Post("/catalog/refresh", s.handleRefresh)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// logRequests is a zerolog access log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

type routeRequest struct {
	Prompt      string             `json:"prompt"`
	Tier        string             `json:"tier,omitempty"`
	System      string             `json:"system,omitempty"`
	History     []provider.Message `json:"history,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	opts := []gateway.Option{
		gateway.WithHistory(req.History),
		gateway.WithSystemPrompt(req.System),
		gateway.WithTemperature(req.Temperature),
		gateway.WithMaxTokens(req.MaxTokens),
	}
	if req.Tier != "" {
		tier, err := catalog.ParseTier(req.Tier)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts = append(opts, gateway.WithTier(tier))
	}

	if req.Stream {
		s.streamRoute(w, r, req.Prompt, opts)
		return
	}

	completion, err := s.gw.RouteAndComplete(r.Context(), req.Prompt, opts...)
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

// streamRoute relays a routed completion as Server-Sent Events.
func (s *Server) streamRoute(w http.ResponseWriter, r *http.Request, prompt string, opts []gateway.Option) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	handle, err := s.gw.RouteAndStream(r.Context(), prompt, opts...)
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	defer handle.Stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Llmgate-Model", handle.Model)
	w.Header().Set("X-Llmgate-Category", handle.Category)
	w.WriteHeader(http.StatusOK)

	for {
		frag, err := handle.Stream.Recv()
		if err == io.EOF {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		if err != nil {
			// Headers are gone; surface the failure in-band.
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			return
		}
		payload, _ := json.Marshal(frag)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	tierName := r.URL.Query().Get("tier")
	if tierName == "" {
		snap := s.catalog.Snapshot()
		if snap == nil {
			writeError(w, http.StatusServiceUnavailable, catalog.ErrCatalogUnavailable.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": snap.Models()})
		return
	}

	tier, err := catalog.ParseTier(tierName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	models, err := s.catalog.List(tier)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": tier.String(), "models": models})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gw.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Refresh(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, catalog.ErrCatalogUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	snap := s.catalog.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"models":     len(snap.Models()),
		"fetched_at": snap.FetchedAt(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.catalog.Ready() {
		status = "catalog unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRoutingError maps gateway failures onto HTTP statuses.
func writeRoutingError(w http.ResponseWriter, err error) {
	var exhausted *cascade.ExhaustedError
	switch {
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, cascade.ErrNoQualifyingModel):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusBadGateway, exhaustedPayload(exhausted))
	case errors.Is(err, context.Canceled):
		// Client went away; 499 in the nginx tradition.
		writeError(w, 499, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func exhaustedPayload(e *cascade.ExhaustedError) map[string]any {
	candidates := make([]map[string]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		candidates = append(candidates, map[string]string{
			"model": c.Model,
			"kind":  c.Kind.String(),
		})
	}
	return map[string]any{
		"error":      "all candidates exhausted",
		"tier":       e.Tier.String(),
		"category":   e.Category,
		"candidates": candidates,
	}
}
