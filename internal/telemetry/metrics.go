// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exposes operational metrics and cost accounting.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	FallbacksTotal   *prometheus.CounterVec
	OutcomesTotal    *prometheus.CounterVec
	CatalogModels    prometheus.Gauge
	CatalogRefreshes *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "requests_total",
			Help:      "Routed completion requests by category, tier and status.",
		}, []string{"category", "tier", "status"}),

		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgate",
			Name:      "request_latency_seconds",
			Help:      "End-to-end latency of routed requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"category"}),

		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "cascade_fallbacks_total",
			Help:      "Candidates skipped before a request succeeded.",
		}, []string{"tier"}),

		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "outcomes_total",
			Help:      "Recorded attempt outcomes by model and result.",
		}, []string{"model", "result"}),

		CatalogModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Name:      "catalog_models",
			Help:      "Models in the current catalog snapshot.",
		}),

		CatalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "catalog_refreshes_total",
			Help:      "Catalog refresh attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestLatency,
		m.FallbacksTotal,
		m.OutcomesTotal,
		m.CatalogModels,
		m.CatalogRefreshes,
	)
	return m
}
