// Package discovery coordinates candidate PDF discovery across registered
// collectors. It fans each input paper out to every enabled collector through
// a bounded worker pool, isolates collector faults, deduplicates the
// aggregated candidates, and reports per-source statistics.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/domain"
	"github.com/helixir/pdf-discovery-service/internal/observability"
)

// Deduplicator merges candidate records that describe the same paper.
// *dedup.Engine is the production implementation.
type Deduplicator interface {
	Reset()
	Deduplicate(records []domain.CandidateRecord) (map[string]domain.CandidateRecord, error)
	Decisions() []domain.DeduplicationDecision
	Stats() dedup.Stats
}

// Verifier probes a candidate's PDF URL and updates the record in place
// (file size, validation status).
type Verifier interface {
	Verify(ctx context.Context, record *domain.CandidateRecord) error
}

// ProgressFunc receives progress updates during a batch: the number of
// completed tasks, the total task count, and the source that just finished.
type ProgressFunc func(completed, total int, source string)

// Config holds framework tuning knobs.
type Config struct {
	// MaxWorkers bounds the number of concurrently running discovery tasks.
	MaxWorkers int

	// TaskTimeout bounds each individual collector call. Zero disables the
	// per-task timeout; the batch context still applies.
	TaskTimeout time.Duration

	// ValidateWinners enables PDF URL verification of deduplicated winners
	// when a Verifier is configured.
	ValidateWinners bool
}

// DefaultConfig returns the standard framework configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  8,
		TaskTimeout: 30 * time.Second,
	}
}

// Framework manages collectors and coordinates concurrent discovery batches.
// Registration and configuration methods are thread-safe; Discover may be
// called concurrently, though collectors shared between batches then share
// their rate limiters.
type Framework struct {
	cfg      Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	engine   Deduplicator
	versions *dedup.VersionManager
	verifier Verifier

	mu         sync.RWMutex
	collectors []collectors.Collector
	progress   ProgressFunc
	totals     map[string]domain.SourceStats
}

// NewFramework creates a Framework with the given deduplication engine and
// version manager.
func NewFramework(cfg Config, engine Deduplicator, versions *dedup.VersionManager, logger zerolog.Logger, metrics *observability.Metrics) *Framework {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	return &Framework{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		engine:   engine,
		versions: versions,
		totals:   make(map[string]domain.SourceStats),
	}
}

// Register adds a collector to the framework. Collectors registered with the
// same source name are both kept; disable one via configuration instead.
func (f *Framework) Register(c collectors.Collector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectors = append(f.collectors, c)
}

// SetVerifier configures the PDF URL verifier used when ValidateWinners is set.
func (f *Framework) SetVerifier(v Verifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifier = v
}

// SetProgress configures the per-task progress callback. Pass nil to disable.
func (f *Framework) SetProgress(fn ProgressFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = fn
}

// SetSourcePriorities configures the global source priority ranking used for
// version selection (lower rank wins) and the published-over-preprint
// preference.
func (f *Framework) SetSourcePriorities(sourceRank map[string]int, preferPublished bool) {
	f.versions.SetPriorities(sourceRank, preferPublished)
}

// SetVenuePriorities configures per-venue ordered source preferences for
// version selection. The "default" venue entry applies to venues without
// their own entry.
func (f *Framework) SetVenuePriorities(priorities map[string][]string) {
	for venue, sources := range priorities {
		f.versions.SetVenuePriority(venue, sources)
	}
}

// Collectors returns a snapshot of all registered collectors.
func (f *Framework) Collectors() []collectors.Collector {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]collectors.Collector, len(f.collectors))
	copy(out, f.collectors)
	return out
}

// EnabledCollectors returns a snapshot of the collectors whose IsEnabled
// method reports true.
func (f *Framework) EnabledCollectors() []collectors.Collector {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]collectors.Collector, 0, len(f.collectors))
	for _, c := range f.collectors {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}

// DeduplicationStats returns the deduplication statistics of the most recent
// batch.
func (f *Framework) DeduplicationStats() dedup.Stats {
	return f.engine.Stats()
}

// DeduplicationDecisions returns the decision log of the most recent batch.
func (f *Framework) DeduplicationDecisions() []domain.DeduplicationDecision {
	return f.engine.Decisions()
}

// TotalSourceStats returns cumulative per-source statistics across all
// batches run by this framework instance.
func (f *Framework) TotalSourceStats() map[string]domain.SourceStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]domain.SourceStats, len(f.totals))
	for source, stats := range f.totals {
		out[source] = stats
	}
	return out
}

// task is one unit of work: a collector applied to one paper, or a batch
// collector applied to the whole input.
type task struct {
	collector collectors.Collector
	batch     collectors.BatchCollector
	paper     domain.Paper
	papers    []domain.Paper
}

// taskResult is one task's contribution to the batch aggregate.
type taskResult struct {
	source     string
	records    []domain.CandidateRecord
	attempted  int
	successful int
	failed     int
}

// Discover runs one discovery batch: every enabled collector is applied to
// every input paper (batch-capable collectors receive the whole input at
// once), results are aggregated and deduplicated, and one winning candidate
// record per discovered paper is returned.
//
// A failing, panicking, or slow collector never fails the batch; its tasks
// are recorded as failed in the per-source statistics. If the batch context
// expires, tasks still running are abandoned and the papers they covered
// count as failed. If deduplication itself fails, the batch degrades to the
// first candidate seen per paper and DedupDegraded is set on the result.
func (f *Framework) Discover(ctx context.Context, papers []domain.Paper) (*domain.DiscoveryResult, error) {
	start := time.Now()
	enabled := f.EnabledCollectors()

	result := &domain.DiscoveryResult{
		TotalPapers: len(papers),
		Records:     make(map[string]domain.CandidateRecord),
		SourceStats: make(map[string]domain.SourceStats),
	}

	if len(papers) == 0 || len(enabled) == 0 {
		for _, p := range papers {
			result.FailedPapers = append(result.FailedPapers, p.Key)
		}
		result.ExecutionTime = time.Since(start)
		return result, nil
	}

	f.metrics.RecordBatchStarted(len(papers))
	f.engine.Reset()

	// Page caches are batch-scoped.
	for _, c := range enabled {
		if cc, ok := c.(collectors.CacheClearer); ok {
			cc.ClearCache()
		}
	}

	tasks := buildTasks(enabled, papers)
	candidates, sourceStats := f.runTasks(ctx, tasks)

	winners, degraded := f.deduplicateWithFallback(candidates)
	if degraded {
		result.DedupDegraded = true
	}

	if f.cfg.ValidateWinners {
		f.verifyWinners(ctx, winners)
	}

	discovered := make(map[string]bool, len(winners))
	for _, rec := range winners {
		discovered[rec.PaperKey] = true
	}
	for _, p := range papers {
		if !discovered[p.Key] {
			result.FailedPapers = append(result.FailedPapers, p.Key)
		}
	}

	result.Records = winners
	result.DiscoveredCount = len(winners)
	result.SourceStats = sourceStats
	result.ExecutionTime = time.Since(start)

	f.accumulateTotals(sourceStats)
	f.metrics.RecordBatchCompleted(result.ExecutionTime.Seconds(), result.DiscoveryRate())

	f.logger.Info().
		Int("total_papers", result.TotalPapers).
		Int("discovered", result.DiscoveredCount).
		Int("failed", len(result.FailedPapers)).
		Bool("dedup_degraded", result.DedupDegraded).
		Dur("execution_time", result.ExecutionTime).
		Msg("discovery batch completed")

	return result, nil
}

// buildTasks expands collectors and papers into the batch's task list. A
// collector implementing BatchCollector receives one task covering all
// papers; every other collector receives one task per paper.
func buildTasks(enabled []collectors.Collector, papers []domain.Paper) []task {
	var tasks []task
	for _, c := range enabled {
		if bc, ok := c.(collectors.BatchCollector); ok {
			tasks = append(tasks, task{collector: c, batch: bc, papers: papers})
			continue
		}
		for _, p := range papers {
			tasks = append(tasks, task{collector: c, paper: p})
		}
	}
	return tasks
}

// runTasks executes the task list through a bounded worker pool and
// aggregates candidates and per-source statistics. When the batch context
// expires, aggregation stops and outstanding tasks are abandoned; the result
// channel is buffered to the task count so abandoned tasks never block.
func (f *Framework) runTasks(ctx context.Context, tasks []task) ([]domain.CandidateRecord, map[string]domain.SourceStats) {
	results := make(chan taskResult, len(tasks))
	sem := make(chan struct{}, f.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				n := max(len(t.papers), 1)
				results <- taskResult{source: t.collector.Source(), attempted: n, failed: n}
				return
			}

			if t.batch != nil {
				results <- f.runBatchTask(ctx, t.batch, t.papers)
			} else {
				results <- f.runTask(ctx, t.collector, t.paper)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	f.mu.RLock()
	progress := f.progress
	f.mu.RUnlock()

	var candidates []domain.CandidateRecord
	sourceStats := make(map[string]domain.SourceStats)
	completed := 0

	for {
		select {
		case tr, ok := <-results:
			if !ok {
				return sortCandidates(candidates), sourceStats
			}
			candidates = append(candidates, tr.records...)
			stats := sourceStats[tr.source]
			stats.Attempted += tr.attempted
			stats.Successful += tr.successful
			stats.Failed += tr.failed
			sourceStats[tr.source] = stats

			completed++
			if progress != nil {
				progress(completed, len(tasks), tr.source)
			}
		case <-ctx.Done():
			f.logger.Warn().
				Int("completed", completed).
				Int("total", len(tasks)).
				Msg("batch deadline reached, abandoning outstanding tasks")
			return sortCandidates(candidates), sourceStats
		}
	}
}

// runTask executes one collector against one paper with per-task timeout,
// panic recovery, and error classification.
func (f *Framework) runTask(ctx context.Context, c collectors.Collector, paper domain.Paper) taskResult {
	tr := taskResult{source: c.Source()}
	f.metrics.RecordCollectorAttempt(tr.source)

	start := time.Now()
	rec, err := f.safeDiscover(ctx, c, paper)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		tr.attempted, tr.successful = 1, 1
		tr.records = append(tr.records, rec)
		f.metrics.RecordCollectorSuccess(tr.source, elapsed)
	case errors.Is(err, domain.ErrSourceNotApplicable):
		// Not counted against the source.
		f.logger.Debug().
			Str("source", tr.source).
			Str("paper_key", paper.Key).
			Msg("source not applicable")
	default:
		tr.attempted, tr.failed = 1, 1
		f.metrics.RecordCollectorFailure(tr.source, errorType(err), elapsed)
		if errors.Is(err, domain.ErrRateLimited) {
			f.metrics.RecordCollectorRateLimited(tr.source)
		}
		f.logger.Debug().
			Err(err).
			Str("source", tr.source).
			Str("paper_key", paper.Key).
			Msg("discovery task failed")
	}

	return tr
}

// runBatchTask executes one batch-capable collector against the whole input.
func (f *Framework) runBatchTask(ctx context.Context, bc collectors.BatchCollector, papers []domain.Paper) taskResult {
	tr := taskResult{source: bc.Source(), attempted: len(papers)}
	f.metrics.RecordCollectorAttempt(tr.source)

	start := time.Now()
	recs, err := f.safeDiscoverBatch(ctx, bc, papers)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		tr.failed = len(papers)
		f.metrics.RecordCollectorFailure(tr.source, errorType(err), elapsed)
		if errors.Is(err, domain.ErrRateLimited) {
			f.metrics.RecordCollectorRateLimited(tr.source)
		}
		f.logger.Warn().
			Err(err).
			Str("source", tr.source).
			Int("papers", len(papers)).
			Msg("batch discovery failed")
		return tr
	}

	for _, p := range papers {
		if rec, ok := recs[p.Key]; ok {
			tr.records = append(tr.records, rec)
			tr.successful++
		} else {
			tr.failed++
		}
	}
	f.metrics.RecordCollectorSuccess(tr.source, elapsed)
	return tr
}

// safeDiscover calls a collector with the per-task timeout applied,
// converting panics into errors so one broken collector cannot take down
// the batch.
func (f *Framework) safeDiscover(ctx context.Context, c collectors.Collector, paper domain.Paper) (rec domain.CandidateRecord, err error) {
	if f.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Discover(ctx, paper)
}

func (f *Framework) safeDiscoverBatch(ctx context.Context, bc collectors.BatchCollector, papers []domain.Paper) (recs map[string]domain.CandidateRecord, err error) {
	if f.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector %s panicked: %v", bc.Name(), r)
		}
	}()
	return bc.DiscoverBatch(ctx, papers)
}

// deduplicateWithFallback runs the engine over the aggregated candidates.
// If the engine fails or panics the batch degrades gracefully: the first
// candidate seen per paper is kept and the degraded flag is returned.
func (f *Framework) deduplicateWithFallback(candidates []domain.CandidateRecord) (map[string]domain.CandidateRecord, bool) {
	winners, err := f.safeDeduplicate(candidates)
	if err == nil {
		f.metrics.RecordDedupMerges(f.engine.Stats().MergeDecisions)
		return winners, false
	}

	f.logger.Warn().Err(err).Msg("deduplication failed, falling back to first candidate per paper")
	f.metrics.RecordDedupFallback()

	fallback := make(map[string]domain.CandidateRecord, len(candidates))
	for _, rec := range candidates {
		if _, ok := fallback[rec.PaperKey]; !ok {
			fallback[rec.PaperKey] = rec
		}
	}
	return fallback, true
}

func (f *Framework) safeDeduplicate(candidates []domain.CandidateRecord) (winners map[string]domain.CandidateRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deduplication panicked: %v", r)
		}
	}()
	return f.engine.Deduplicate(candidates)
}

// verifyWinners probes each winner's PDF URL concurrently and updates the
// records' validation status in place. Verification failures demote the
// record's status but never drop it from the result.
func (f *Framework) verifyWinners(ctx context.Context, winners map[string]domain.CandidateRecord) {
	f.mu.RLock()
	verifier := f.verifier
	f.mu.RUnlock()
	if verifier == nil {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxWorkers)
	var mu sync.Mutex

	for key, rec := range winners {
		g.Go(func() error {
			if err := verifier.Verify(ctx, &rec); err != nil {
				rec.ValidationStatus = domain.ValidationFailed
				f.metrics.RecordVerification("failed")
				f.logger.Debug().
					Err(err).
					Str("paper_key", rec.PaperKey).
					Str("pdf_url", rec.PDFURL).
					Msg("pdf verification failed")
			} else {
				if rec.ValidationStatus == "" || rec.ValidationStatus == domain.ValidationPending {
					rec.ValidationStatus = domain.ValidationVerified
				}
				f.metrics.RecordVerification("verified")
			}
			mu.Lock()
			winners[key] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// accumulateTotals folds one batch's source statistics into the cumulative
// totals.
func (f *Framework) accumulateTotals(sourceStats map[string]domain.SourceStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for source, stats := range sourceStats {
		total := f.totals[source]
		total.Attempted += stats.Attempted
		total.Successful += stats.Successful
		total.Failed += stats.Failed
		f.totals[source] = total
	}
}

// sortCandidates orders the aggregated candidates so deduplication sees a
// deterministic input regardless of task completion order.
func sortCandidates(candidates []domain.CandidateRecord) []domain.CandidateRecord {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PaperKey != b.PaperKey {
			return a.PaperKey < b.PaperKey
		}
		if a.SourceName != b.SourceName {
			return a.SourceName < b.SourceName
		}
		return a.PDFURL < b.PDFURL
	})
	return candidates
}

// errorType maps a task error onto a low-cardinality metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoResults):
		return "no_results"
	case errors.Is(err, domain.ErrNoPDF):
		return "no_pdf"
	case errors.Is(err, domain.ErrTransientAPI):
		return "transient"
	case errors.Is(err, domain.ErrPermanentAPI):
		return "permanent"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
