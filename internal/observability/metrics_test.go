package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return 0, err
	}
	return m.GetHistogram().GetSampleCount(), nil
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_pdf_discovery_new")

	assert.NotNil(t, m.BatchesStarted)
	assert.NotNil(t, m.BatchesCompleted)
	assert.NotNil(t, m.BatchDuration)
	assert.NotNil(t, m.PapersPerBatch)
	assert.NotNil(t, m.DiscoveryRate)
	assert.NotNil(t, m.CollectorAttempts)
	assert.NotNil(t, m.CollectorSuccesses)
	assert.NotNil(t, m.CollectorFailures)
	assert.NotNil(t, m.CollectorDuration)
	assert.NotNil(t, m.CollectorRateLimited)
	assert.NotNil(t, m.CandidatesDiscovered)
	assert.NotNil(t, m.DedupMerges)
	assert.NotNil(t, m.DedupFallbacks)
	assert.NotNil(t, m.VerificationsTotal)
}

func TestRecordBatchStarted(t *testing.T) {
	m := NewMetrics("test_batch_started")

	m.RecordBatchStarted(25)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesStarted))

	count, err := getHistogramSampleCount(m.PapersPerBatch)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordBatchCompleted(t *testing.T) {
	m := NewMetrics("test_batch_completed")

	m.RecordBatchCompleted(12.5, 0.8)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesCompleted))

	durCount, err := getHistogramSampleCount(m.BatchDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), durCount)

	rateCount, err := getHistogramSampleCount(m.DiscoveryRate)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rateCount)
}

func TestRecordCollectorOutcomes(t *testing.T) {
	m := NewMetrics("test_collector_outcomes")

	m.RecordCollectorAttempt("arxiv")
	m.RecordCollectorAttempt("arxiv")
	m.RecordCollectorSuccess("arxiv", 0.2)
	m.RecordCollectorFailure("arxiv", "no_results", 0.1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CollectorAttempts.WithLabelValues("arxiv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorSuccesses.WithLabelValues("arxiv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorFailures.WithLabelValues("arxiv", "no_results")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandidatesDiscovered.WithLabelValues("arxiv")))
}

func TestRecordCollectorRateLimited(t *testing.T) {
	m := NewMetrics("test_collector_rate_limited")

	m.RecordCollectorRateLimited("crossref")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorRateLimited.WithLabelValues("crossref")))
}

func TestRecordDedup(t *testing.T) {
	m := NewMetrics("test_dedup")

	m.RecordDedupMerges(3)
	m.RecordDedupFallback()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.DedupMerges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DedupFallbacks))
}

func TestRecordVerification(t *testing.T) {
	m := NewMetrics("test_verification")

	m.RecordVerification("verified")
	m.RecordVerification("failed")
	m.RecordVerification("verified")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("failed")))
}
