package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	questionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_question_latency_ms",
			Help:    "End to end question latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000, 60000},
		},
	)
	clarificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_clarifications_total",
			Help: "Total number of clarification requests by ambiguity category.",
		},
		[]string{"category"},
	)
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_generations_total",
			Help: "Total number of SQL generation calls by outcome and complexity.",
		},
		[]string{"outcome", "complexity"},
	)
	modelLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_model_latency_ms",
			Help:    "Language model call latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
	correctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_corrections_total",
			Help: "Total number of correction attempts by error kind and strategy.",
		},
		[]string{"kind", "strategy"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_query_executions_total",
			Help: "Total number of SQL executions by outcome.",
		},
		[]string{"outcome"},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_duration_ms",
			Help:    "SQL execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_upload_bytes",
			Help:    "Size of accepted database uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_active_sessions",
			Help: "Current number of in-memory sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		questionsTotal,
		questionLatencyMs,
		clarificationsTotal,
		generationsTotal,
		modelLatencyMs,
		correctionsTotal,
		executionsTotal,
		executionDurationMs,
		uploadBytes,
		activeSessions,
	)
}

func ObserveQuestion(outcome string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(outcome).Inc()
	questionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementClarification(category string) {
	clarificationsTotal.WithLabelValues(category).Inc()
}

func ObserveGeneration(outcome, complexity string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(outcome, complexity).Inc()
	modelLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

// ObserveCorrection records one retry. strategy is "mechanical" or "regenerate".
func ObserveCorrection(kind, strategy string) {
	correctionsTotal.WithLabelValues(kind, strategy).Inc()
}

func ObserveExecution(outcome string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(outcome).Inc()
	executionDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveUpload(size int64) {
	if size < 0 {
		size = 0
	}
	uploadBytes.Observe(float64(size))
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
