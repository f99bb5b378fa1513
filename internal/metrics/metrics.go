// Package metrics declares the prometheus collectors exported by the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis metrics
var (
	// AnalysesTotal counts analysis attempts by outcome (success, rejected, failed).
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tomato_analyses_total",
			Help: "Analysis attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AnalysisDuration tracks the backend round trip in seconds.
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tomato_analysis_duration_seconds",
			Help:    "Backend analysis round trip in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// DetectionsTotal counts returned detections by freshness label.
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tomato_detections_total",
			Help: "Detections returned by the backend, by label",
		},
		[]string{"label"},
	)

	// AnalyzeRateLimited counts analyze calls rejected by the per-owner limiter.
	AnalyzeRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tomato_analyze_rate_limited_total",
			Help: "Analyze calls rejected by the rate limiter",
		},
	)
)

// Session metrics
var (
	// SessionsActive tracks sessions held by the gateway store.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tomato_sessions_active",
			Help: "Upload sessions currently held in memory",
		},
	)

	// SessionTransitions counts state machine transitions.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tomato_session_transitions_total",
			Help: "Upload session state transitions",
		},
		[]string{"from", "to"},
	)

	// SessionsEvicted counts sessions dropped for being idle.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tomato_sessions_evicted_total",
			Help: "Idle upload sessions evicted",
		},
	)

	// EventSubscribers tracks websocket clients following session events.
	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tomato_event_subscribers",
			Help: "Websocket clients subscribed to session events",
		},
	)
)

// Backend metrics
var (
	// BreakerState tracks circuit breaker state (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tomato_backend_breaker_state",
			Help: "Backend circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CameraAvailable mirrors the last successful /camera_status probe (1 available, 0 not).
	CameraAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tomato_camera_available",
			Help: "Last known camera availability reported by the backend",
		},
	)

	// CameraProbeFailures counts failed /camera_status probes.
	CameraProbeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tomato_camera_probe_failures_total",
			Help: "Failed camera status probes",
		},
	)
)
