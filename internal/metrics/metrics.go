package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a full report.
	OutcomeSuccess = "success"
	// OutcomeDegraded labels analyses whose report carries a degradation flag.
	OutcomeDegraded = "degraded"
	// OutcomeError labels failed analyses.
	OutcomeError = "error"
)

// Result labels for collaborator calls.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultEmpty   = "empty"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incident_rca",
			Name:      "analyses_total",
			Help:      "Total number of incident analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "incident_rca",
			Name:      "analysis_seconds",
			Help:      "End-to-end analysis latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "incident_rca",
			Name:      "stage_seconds",
			Help:      "Pipeline stage latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		},
		[]string{"stage"},
	)

	degradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incident_rca",
			Name:      "degradations_total",
			Help:      "Recoverable stage failures that degraded a report.",
		},
		[]string{"stage"},
	)

	oracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incident_rca",
			Name:      "oracle_calls_total",
			Help:      "Reasoning oracle attempts by result.",
		},
		[]string{"result"},
	)

	storeLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incident_rca",
			Name:      "store_lookups_total",
			Help:      "Historical fingerprint store lookups by result.",
		},
		[]string{"result"},
	)

	droppedEdgesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "incident_rca",
			Name:      "causal_edges_dropped_total",
			Help:      "Candidate causal edges dropped for violating timeline order.",
		},
	)
)

// Register attaches incident-rca collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		stageDurationSeconds,
		degradationsTotal,
		oracleCallsTotal,
		storeLookupsTotal,
		droppedEdgesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	switch label {
	case OutcomeError, OutcomeDegraded:
	default:
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncDegradation counts a degraded stage.
func IncDegradation(stage string) {
	degradationsTotal.WithLabelValues(stage).Inc()
}

// IncOracleCall counts one oracle attempt.
func IncOracleCall(result string) {
	oracleCallsTotal.WithLabelValues(result).Inc()
}

// IncStoreLookup counts one store lookup attempt.
func IncStoreLookup(result string) {
	storeLookupsTotal.WithLabelValues(result).Inc()
}

// IncDroppedEdge counts one dropped causal edge.
func IncDroppedEdge() {
	droppedEdgesTotal.Inc()
}
