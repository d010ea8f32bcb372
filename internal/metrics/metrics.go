package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Currently open client connections",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connections_total",
		Help: "Total connections admitted",
	})

	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connections_rejected_total",
		Help: "Connections rejected at capacity",
	})

	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_evictions_total",
		Help: "Connection evictions by reason",
	}, []string{"reason"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_chunks_processed_total",
		Help: "Total audio chunks received",
	})

	Utterances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_utterances_sealed_total",
		Help: "Utterances sealed by the activity detector",
	})

	UtterancesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_utterances_discarded_total",
		Help: "Pure-silence accumulations discarded without a pipeline run",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_e2e_duration_seconds",
		Help:    "End-to-end latency from utterance seal to reply handoff",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	PipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_outcomes_total",
		Help: "Pipeline runs by terminal status",
	}, []string{"status"})

	ModerationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_verdicts_total",
		Help: "Moderation verdicts by outcome",
	}, []string{"verdict"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	BreakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_calls_total",
		Help: "Breaker call outcomes per service",
	}, []string{"service", "outcome"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_transitions_total",
		Help: "Breaker state transitions per service",
	}, []string{"service", "to"})

	OutboundDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_outbound_dropped_total",
		Help: "Outbound messages dropped because the connection was gone",
	})
)
