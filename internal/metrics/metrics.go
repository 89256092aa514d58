package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_runs_completed_total",
			Help: "Total number of research runs finished, by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// Phase metrics
	PhaseLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_phase_duration_seconds",
			Help:    "Duration of each workflow phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// Model gateway metrics
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_gateway_calls_total",
			Help: "Model gateway calls by provider and outcome",
		},
		[]string{"provider", "purpose", "outcome"},
	)

	GatewayFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_gateway_fallbacks_total",
			Help: "Calls where the primary provider failed and the secondary was attempted",
		},
	)

	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_tokens_used_total",
			Help: "Tokens consumed by purpose",
		},
		[]string{"purpose"},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_run_cost_usd",
			Help:    "Cost in USD per research run",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// Search agent metrics
	AgentSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_agent_searches_total",
			Help: "Search agent invocations by agent and outcome",
		},
		[]string{"agent", "outcome"},
	)

	AgentSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_agent_search_duration_seconds",
			Help:    "Per-agent search duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent"},
	)

	SourcesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_sources_found_total",
			Help: "Sources discovered by producing agent",
		},
		[]string{"agent"},
	)

	// Steering metrics
	SteeringCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_steering_commands_total",
			Help: "Steering commands received by type and disposition",
		},
		[]string{"command", "disposition"},
	)

	SteeringWaitOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_steering_wait_outcome_total",
			Help: "How steering waits ended (continue, force_stop, timeout)",
		},
		[]string{"outcome"},
	)

	// Trajectory metrics
	TrajectoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_trajectory_writes_total",
			Help: "Trajectory step writes by outcome",
		},
		[]string{"outcome"},
	)

	TrajectoryWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_trajectory_write_retries_total",
			Help: "Retries performed while persisting trajectory steps",
		},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_events_published_total",
			Help: "Events published to the broadcaster by type",
		},
		[]string{"type"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_stream_subscribers",
			Help: "Currently connected event stream subscribers",
		},
	)
)
