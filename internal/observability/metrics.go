package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the PDF discovery service.
// Metrics are organized by subsystem: batches, collectors, candidates,
// deduplication, and verification. All counters and histograms are registered
// via promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// BatchesStarted counts discovery batches initiated.
	BatchesStarted prometheus.Counter

	// BatchesCompleted counts discovery batches that finished.
	BatchesCompleted prometheus.Counter

	// BatchDuration observes the end-to-end duration of discovery batches in seconds.
	BatchDuration prometheus.Histogram

	// PapersPerBatch observes the distribution of input paper counts per batch.
	PapersPerBatch prometheus.Histogram

	// DiscoveryRate observes the fraction of input papers with a discovered PDF per batch.
	DiscoveryRate prometheus.Histogram

	// CollectorAttempts counts discovery tasks dispatched, labeled by source.
	CollectorAttempts *prometheus.CounterVec

	// CollectorSuccesses counts discovery tasks that produced a candidate, labeled by source.
	CollectorSuccesses *prometheus.CounterVec

	// CollectorFailures counts failed discovery tasks, labeled by source and error type.
	CollectorFailures *prometheus.CounterVec

	// CollectorDuration observes per-task collector latency in seconds, labeled by source.
	CollectorDuration *prometheus.HistogramVec

	// CollectorRateLimited counts rate limit responses from collector APIs, labeled by source.
	CollectorRateLimited *prometheus.CounterVec

	// CandidatesDiscovered counts candidate records produced, labeled by source.
	CandidatesDiscovered *prometheus.CounterVec

	// DedupMerges counts merge decisions taken by the deduplication engine.
	DedupMerges prometheus.Counter

	// DedupFallbacks counts batches where deduplication failed and the
	// first-candidate fallback was applied.
	DedupFallbacks prometheus.Counter

	// VerificationsTotal counts PDF URL verification probes, labeled by outcome.
	VerificationsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		BatchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of discovery batches started",
		}),
		BatchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of discovery batches completed",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of discovery batches in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		PapersPerBatch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_batch",
			Help:      "Number of input papers per discovery batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		DiscoveryRate: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_rate",
			Help:      "Fraction of input papers with a discovered PDF per batch",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1},
		}),

		CollectorAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_attempts_total",
			Help:      "Total number of discovery tasks dispatched by source",
		}, []string{"source"}),
		CollectorSuccesses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_successes_total",
			Help:      "Total number of discovery tasks that produced a candidate by source",
		}, []string{"source"}),
		CollectorFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_failures_total",
			Help:      "Total number of failed discovery tasks by source and error type",
		}, []string{"source", "error_type"}),
		CollectorDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_duration_seconds",
			Help:      "Duration of individual discovery tasks in seconds by source",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CollectorRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_rate_limited_total",
			Help:      "Total number of rate limit responses by source",
		}, []string{"source"}),

		CandidatesDiscovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_discovered_total",
			Help:      "Total number of candidate records produced by source",
		}, []string{"source"}),

		DedupMerges: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_merges_total",
			Help:      "Total number of deduplication merge decisions",
		}),
		DedupFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_fallbacks_total",
			Help:      "Total number of batches that fell back to undeduplicated results",
		}),

		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Total number of PDF URL verification probes by outcome",
		}, []string{"outcome"}),
	}
}

// RecordBatchStarted records that a discovery batch has started.
func (m *Metrics) RecordBatchStarted(paperCount int) {
	m.BatchesStarted.Inc()
	m.PapersPerBatch.Observe(float64(paperCount))
}

// RecordBatchCompleted records a finished batch with its duration and
// discovery rate.
func (m *Metrics) RecordBatchCompleted(durationSeconds, discoveryRate float64) {
	m.BatchesCompleted.Inc()
	m.BatchDuration.Observe(durationSeconds)
	m.DiscoveryRate.Observe(discoveryRate)
}

// RecordCollectorAttempt records a dispatched discovery task.
func (m *Metrics) RecordCollectorAttempt(source string) {
	m.CollectorAttempts.WithLabelValues(source).Inc()
}

// RecordCollectorSuccess records a task that produced a candidate.
func (m *Metrics) RecordCollectorSuccess(source string, durationSeconds float64) {
	m.CollectorSuccesses.WithLabelValues(source).Inc()
	m.CollectorDuration.WithLabelValues(source).Observe(durationSeconds)
	m.CandidatesDiscovered.WithLabelValues(source).Inc()
}

// RecordCollectorFailure records a failed task.
func (m *Metrics) RecordCollectorFailure(source, errorType string, durationSeconds float64) {
	m.CollectorFailures.WithLabelValues(source, errorType).Inc()
	m.CollectorDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordCollectorRateLimited records a rate limit response from a source.
func (m *Metrics) RecordCollectorRateLimited(source string) {
	m.CollectorRateLimited.WithLabelValues(source).Inc()
}

// RecordDedupMerges records merge decisions from one batch.
func (m *Metrics) RecordDedupMerges(count int) {
	m.DedupMerges.Add(float64(count))
}

// RecordDedupFallback records a batch that fell back to undeduplicated results.
func (m *Metrics) RecordDedupFallback() {
	m.DedupFallbacks.Inc()
}

// RecordVerification records a PDF URL verification probe outcome
// ("verified", "failed", "skipped").
func (m *Metrics) RecordVerification(outcome string) {
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}
