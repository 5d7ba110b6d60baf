// Package metrics exposes Prometheus collectors for the security pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate metrics
var (
	// GateDecisionsTotal tracks every gate decision by outcome and reason.
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_gate_decisions_total",
			Help: "Total number of gate decisions by gate, decision and reason",
		},
		[]string{"gate", "decision", "reason"},
	)

	// PipelineDuration tracks the full pipeline evaluation time per request.
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_pipeline_duration_seconds",
			Help:    "Pipeline evaluation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// LockoutsTotal counts hard lockouts triggered by the brute-force gate.
	LockoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_lockouts_total",
			Help: "Total number of hard lockouts by key kind (ip or user)",
		},
		[]string{"kind"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts handled requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_http_requests_total",
			Help: "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request handling time.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Geo resolution metrics
var (
	// GeoProviderCallsTotal tracks provider calls by outcome.
	GeoProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_geo_provider_calls_total",
			Help: "Total number of geolocation provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// GeoResolutionsTotal tracks where a resolution was satisfied from.
	GeoResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_geo_resolutions_total",
			Help: "Total number of geo resolutions by source (local, shared, provider, none)",
		},
		[]string{"source"},
	)
)

// Audit metrics
var (
	// AuditEventsTotal counts emitted audit events by decision.
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_audit_events_total",
			Help: "Total number of audit events by decision",
		},
		[]string{"decision"},
	)

	// AuditDroppedTotal counts events dropped because the queue was full.
	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_audit_dropped_total",
			Help: "Total number of audit events dropped by the async sink",
		},
	)
)
