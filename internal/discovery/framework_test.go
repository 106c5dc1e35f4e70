package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/domain"
	"github.com/helixir/pdf-discovery-service/internal/observability"
)

// fakeCollector implements collectors.Collector with a pluggable discover
// function.
type fakeCollector struct {
	source  string
	enabled bool
	fn      func(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error)
}

func (f *fakeCollector) Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	return f.fn(ctx, paper)
}

func (f *fakeCollector) Source() string  { return f.source }
func (f *fakeCollector) Name() string    { return f.source }
func (f *fakeCollector) IsEnabled() bool { return f.enabled }

// fakeBatchCollector additionally implements collectors.BatchCollector.
type fakeBatchCollector struct {
	fakeCollector
	batchFn func(ctx context.Context, papers []domain.Paper) (map[string]domain.CandidateRecord, error)
}

func (f *fakeBatchCollector) DiscoverBatch(ctx context.Context, papers []domain.Paper) (map[string]domain.CandidateRecord, error) {
	return f.batchFn(ctx, papers)
}

// failingDeduplicator always errors, to exercise graceful degradation.
type failingDeduplicator struct{}

func (failingDeduplicator) Reset() {}
func (failingDeduplicator) Deduplicate([]domain.CandidateRecord) (map[string]domain.CandidateRecord, error) {
	return nil, errors.New("dedup exploded")
}
func (failingDeduplicator) Decisions() []domain.DeduplicationDecision { return nil }
func (failingDeduplicator) Stats() dedup.Stats                        { return dedup.Stats{} }

func succeedFor(source string, keys ...string) func(context.Context, domain.Paper) (domain.CandidateRecord, error) {
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	return func(_ context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
		if !wanted[paper.Key] {
			return domain.CandidateRecord{}, domain.ErrNoResults
		}
		return domain.CandidateRecord{
			PaperKey:     paper.Key,
			PDFURL:       fmt.Sprintf("https://%s.example/%s.pdf", source, paper.Key),
			SourceName:   source,
			Confidence:   collectors.ConfidenceTitleSearch,
			DiscoveredAt: time.Now().UTC(),
			Title:        paper.Title,
			Identifiers:  paper.Identifiers,
		}, nil
	}
}

func papers(keys ...string) []domain.Paper {
	out := make([]domain.Paper, len(keys))
	for i, k := range keys {
		out[i] = domain.Paper{Key: k, Title: "Title of " + k}
	}
	return out
}

func newTestFramework(namespace string) *Framework {
	engine := dedup.NewEngine(dedup.DefaultConfig(), dedup.NewVersionManager())
	return NewFramework(
		Config{MaxWorkers: 4, TaskTimeout: time.Second},
		engine,
		engine.Versions(),
		zerolog.Nop(),
		observability.NewMetrics(namespace),
	)
}

func TestFramework_Discover(t *testing.T) {
	t.Run("aggregates across collectors with fault isolation", func(t *testing.T) {
		f := newTestFramework("test_fw_aggregate")

		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: succeedFor("alpha", "paper1")})
		f.Register(&fakeCollector{source: "beta", enabled: true, fn: succeedFor("beta", "paper1", "paper2")})
		f.Register(&fakeCollector{source: "gamma", enabled: true, fn: func(context.Context, domain.Paper) (domain.CandidateRecord, error) {
			return domain.CandidateRecord{}, domain.NewExternalAPIError("gamma", 503, "unavailable", nil)
		}})

		result, err := f.Discover(context.Background(), papers("paper1", "paper2", "paper3"))
		require.NoError(t, err)

		assert.Equal(t, 3, result.TotalPapers)
		assert.Equal(t, 2, result.DiscoveredCount)
		assert.Equal(t, []string{"paper3"}, result.FailedPapers)
		assert.Contains(t, result.Records, "paper1")
		assert.Contains(t, result.Records, "paper2")
		assert.False(t, result.DedupDegraded)
		assert.InDelta(t, 2.0/3.0, result.DiscoveryRate(), 0.001)

		assert.Equal(t, domain.SourceStats{Attempted: 3, Successful: 1, Failed: 2}, result.SourceStats["alpha"])
		assert.Equal(t, domain.SourceStats{Attempted: 3, Successful: 2, Failed: 1}, result.SourceStats["beta"])
		assert.Equal(t, domain.SourceStats{Attempted: 3, Successful: 0, Failed: 3}, result.SourceStats["gamma"])
	})

	t.Run("panicking collector does not fail the batch", func(t *testing.T) {
		f := newTestFramework("test_fw_panic")

		f.Register(&fakeCollector{source: "stable", enabled: true, fn: succeedFor("stable", "paper1")})
		f.Register(&fakeCollector{source: "broken", enabled: true, fn: func(context.Context, domain.Paper) (domain.CandidateRecord, error) {
			panic("boom")
		}})

		result, err := f.Discover(context.Background(), papers("paper1"))
		require.NoError(t, err)

		assert.Equal(t, 1, result.DiscoveredCount)
		assert.Equal(t, domain.SourceStats{Attempted: 1, Successful: 0, Failed: 1}, result.SourceStats["broken"])
	})

	t.Run("empty batch yields zeroed result", func(t *testing.T) {
		f := newTestFramework("test_fw_empty")
		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: succeedFor("alpha")})

		result, err := f.Discover(context.Background(), nil)
		require.NoError(t, err)

		assert.Equal(t, 0, result.TotalPapers)
		assert.Equal(t, 0, result.DiscoveredCount)
		assert.Equal(t, 0.0, result.DiscoveryRate())
	})

	t.Run("no enabled collectors marks all papers failed", func(t *testing.T) {
		f := newTestFramework("test_fw_disabled")
		f.Register(&fakeCollector{source: "alpha", enabled: false, fn: succeedFor("alpha", "paper1")})

		result, err := f.Discover(context.Background(), papers("paper1", "paper2"))
		require.NoError(t, err)

		assert.Equal(t, 0, result.DiscoveredCount)
		assert.Equal(t, []string{"paper1", "paper2"}, result.FailedPapers)
	})

	t.Run("not applicable sources are not counted against stats", func(t *testing.T) {
		f := newTestFramework("test_fw_not_applicable")
		f.Register(&fakeCollector{source: "doi-only", enabled: true, fn: func(context.Context, domain.Paper) (domain.CandidateRecord, error) {
			return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
		}})

		result, err := f.Discover(context.Background(), papers("paper1"))
		require.NoError(t, err)

		assert.Equal(t, domain.SourceStats{}, result.SourceStats["doi-only"])
	})

	t.Run("same identifier from two sources merges to one record", func(t *testing.T) {
		f := newTestFramework("test_fw_merge")

		withDOI := func(source string) func(context.Context, domain.Paper) (domain.CandidateRecord, error) {
			return func(_ context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
				return domain.CandidateRecord{
					PaperKey:     paper.Key,
					PDFURL:       "https://" + source + ".example/paper.pdf",
					SourceName:   source,
					Confidence:   collectors.ConfidenceIdentifierLookup,
					DiscoveredAt: time.Now().UTC(),
					Identifiers:  domain.PaperIdentifiers{DOI: "10.1000/shared"},
				}, nil
			}
		}
		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: withDOI("alpha")})
		f.Register(&fakeCollector{source: "beta", enabled: true, fn: withDOI("beta")})

		result, err := f.Discover(context.Background(), papers("paper1"))
		require.NoError(t, err)

		assert.Equal(t, 1, result.DiscoveredCount)
		stats := f.DeduplicationStats()
		assert.Equal(t, 1, stats.MergeDecisions)
		require.Len(t, f.DeduplicationDecisions(), 1)
	})

	t.Run("dedup failure degrades to first candidate per paper", func(t *testing.T) {
		f := NewFramework(
			Config{MaxWorkers: 2, TaskTimeout: time.Second},
			failingDeduplicator{},
			dedup.NewVersionManager(),
			zerolog.Nop(),
			observability.NewMetrics("test_fw_dedup_fallback"),
		)
		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: succeedFor("alpha", "paper1", "paper2")})

		result, err := f.Discover(context.Background(), papers("paper1", "paper2"))
		require.NoError(t, err)

		assert.True(t, result.DedupDegraded)
		assert.Equal(t, 2, result.DiscoveredCount)
		assert.Empty(t, result.FailedPapers)
	})

	t.Run("expired context abandons outstanding tasks", func(t *testing.T) {
		f := newTestFramework("test_fw_deadline")
		f.Register(&fakeCollector{source: "slow", enabled: true, fn: func(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
			select {
			case <-time.After(5 * time.Second):
				return succeedFor("slow", paper.Key)(ctx, paper)
			case <-ctx.Done():
				return domain.CandidateRecord{}, ctx.Err()
			}
		}})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		result, err := f.Discover(ctx, papers("paper1", "paper2"))
		require.NoError(t, err)

		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, 0, result.DiscoveredCount)
		assert.Len(t, result.FailedPapers, 2)
	})

	t.Run("batch collector receives the whole input at once", func(t *testing.T) {
		f := newTestFramework("test_fw_batch_collector")

		var gotLen int
		bc := &fakeBatchCollector{
			fakeCollector: fakeCollector{source: "bulk", enabled: true},
			batchFn: func(_ context.Context, input []domain.Paper) (map[string]domain.CandidateRecord, error) {
				gotLen = len(input)
				out := make(map[string]domain.CandidateRecord)
				for _, p := range input[:1] {
					out[p.Key] = domain.CandidateRecord{
						PaperKey:   p.Key,
						PDFURL:     "https://bulk.example/" + p.Key + ".pdf",
						SourceName: "bulk",
						Confidence: collectors.ConfidenceIdentifierLookup,
					}
				}
				return out, nil
			},
		}
		f.Register(bc)

		result, err := f.Discover(context.Background(), papers("paper1", "paper2", "paper3"))
		require.NoError(t, err)

		assert.Equal(t, 3, gotLen)
		assert.Equal(t, 1, result.DiscoveredCount)
		assert.Equal(t, domain.SourceStats{Attempted: 3, Successful: 1, Failed: 2}, result.SourceStats["bulk"])
	})

	t.Run("progress callback sees every task", func(t *testing.T) {
		f := newTestFramework("test_fw_progress")
		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: succeedFor("alpha", "paper1")})
		f.Register(&fakeCollector{source: "beta", enabled: true, fn: succeedFor("beta", "paper2")})

		var mu sync.Mutex
		var updates []int
		f.SetProgress(func(completed, total int, _ string) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 4, total)
			updates = append(updates, completed)
		})

		_, err := f.Discover(context.Background(), papers("paper1", "paper2"))
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, updates, 4)
		assert.Equal(t, 4, updates[len(updates)-1])
	})

	t.Run("source stats accumulate across batches", func(t *testing.T) {
		f := newTestFramework("test_fw_totals")
		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: succeedFor("alpha", "paper1")})

		_, err := f.Discover(context.Background(), papers("paper1"))
		require.NoError(t, err)
		_, err = f.Discover(context.Background(), papers("paper1"))
		require.NoError(t, err)

		totals := f.TotalSourceStats()
		assert.Equal(t, domain.SourceStats{Attempted: 2, Successful: 2, Failed: 0}, totals["alpha"])
	})
}

func TestFramework_VersionSelection(t *testing.T) {
	t.Run("venue priority decides the winner", func(t *testing.T) {
		f := newTestFramework("test_fw_venue_priority")
		f.SetVenuePriorities(map[string][]string{
			"default": {"beta", "alpha"},
			"CVPR":    {"alpha", "beta"},
		})

		record := func(source string) func(context.Context, domain.Paper) (domain.CandidateRecord, error) {
			return func(_ context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
				return domain.CandidateRecord{
					PaperKey:    paper.Key,
					PDFURL:      "https://" + source + ".example/p.pdf",
					SourceName:  source,
					Confidence:  collectors.ConfidenceIdentifierLookup,
					Venue:       "CVPR",
					Identifiers: domain.PaperIdentifiers{DOI: "10.1000/cvpr"},
				}, nil
			}
		}
		f.Register(&fakeCollector{source: "alpha", enabled: true, fn: record("alpha")})
		f.Register(&fakeCollector{source: "beta", enabled: true, fn: record("beta")})

		result, err := f.Discover(context.Background(), papers("paper1"))
		require.NoError(t, err)

		require.Contains(t, result.Records, "paper1")
		assert.Equal(t, "alpha", result.Records["paper1"].SourceName)
	})
}

func TestFramework_EnabledCollectors(t *testing.T) {
	f := newTestFramework("test_fw_enabled")
	f.Register(&fakeCollector{source: "on", enabled: true, fn: succeedFor("on")})
	f.Register(&fakeCollector{source: "off", enabled: false, fn: succeedFor("off")})

	assert.Len(t, f.Collectors(), 2)

	enabled := f.EnabledCollectors()
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Source())
}
