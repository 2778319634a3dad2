package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Walker day processing latency (milliseconds).
	DayProcessLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walker_day_process_latency_ms",
			Help:    "Latency of processing one (source, day) unit in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"source_type", "outcome"},
	)

	// Extraction engine call latency (milliseconds).
	ExtractionCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_call_latency_ms",
			Help:    "Extraction engine call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// Source fetch latency (milliseconds).
	SourceFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_latency_ms",
			Help:    "Source item fetch latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"source_type", "status"},
	)

	// HTTP request latency (seconds).
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// MQ consume latency (milliseconds).
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	DaysProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walker_days_processed_count",
			Help: "Total number of (source, day) units marked processed",
		},
		[]string{"source_type"},
	)

	SamplesCollectedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samples_collected_count",
			Help: "Total number of review samples created",
		},
		[]string{"sample_type"}, // sample_type: entity, relationship
	)

	BudgetDebitCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budget_debit_cents_total",
			Help: "Total cents debited from session budgets",
		},
		[]string{"budget"}, // budget: discovery, training
	)

	FeedbackReceivedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_received_count",
			Help: "Total number of feedback submissions",
		},
		[]string{"outcome"}, // outcome: correct, incorrect, skipped
	)

	ExceptionsRaisedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exceptions_raised_count",
			Help: "Total number of exceptions escalated",
		},
		[]string{"type", "severity"},
	)
)

// RecordDayProcessLatency records the latency of one (source, day) unit.
func RecordDayProcessLatency(sourceType, outcome string, duration time.Duration) {
	DayProcessLatency.WithLabelValues(sourceType, outcome).Observe(float64(duration.Milliseconds()))
}

// RecordExtractionCallLatency records an extraction engine call.
func RecordExtractionCallLatency(status string, duration time.Duration) {
	ExtractionCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordSourceFetchLatency records a source fetch call.
func RecordSourceFetchLatency(sourceType, status string, duration time.Duration) {
	SourceFetchLatency.WithLabelValues(sourceType, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration records an API request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency records MQ consume latency.
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementDaysProcessed increments the processed-day counter.
func IncrementDaysProcessed(sourceType string) {
	DaysProcessedCount.WithLabelValues(sourceType).Inc()
}

// IncrementSamplesCollected adds to the collected-sample counter.
func IncrementSamplesCollected(sampleType string, n int) {
	SamplesCollectedCount.WithLabelValues(sampleType).Add(float64(n))
}

// AddBudgetDebit records cents debited from a budget.
func AddBudgetDebit(budget string, cents int64) {
	BudgetDebitCents.WithLabelValues(budget).Add(float64(cents))
}

// IncrementFeedbackReceived increments the feedback counter.
func IncrementFeedbackReceived(outcome string) {
	FeedbackReceivedCount.WithLabelValues(outcome).Inc()
}

// IncrementExceptionsRaised increments the exception counter.
func IncrementExceptionsRaised(excType, severity string) {
	ExceptionsRaisedCount.WithLabelValues(excType, severity).Inc()
}
