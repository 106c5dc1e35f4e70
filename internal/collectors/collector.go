// Package collectors provides the capability contract shared by all PDF
// source collectors and the HTTP plumbing they are built on.
//
// Each external source (arXiv, Semantic Scholar, OpenReview, CrossRef, CVF
// proceedings, ...) implements the Collector interface, allowing the
// discovery framework to fan a paper batch out to every source concurrently
// with a unified API.
//
// Example usage:
//
//	c := arxiv.New(cfg)
//	record, err := c.Discover(ctx, paper)
package collectors

import (
	"context"

	"github.com/helixir/pdf-discovery-service/internal/domain"
)

// Confidence levels assigned deterministically from the discovery method.
// Direct identifier lookup and exact-title proceedings matches rank highest;
// fuzzy and author-only matches are degraded.
const (
	ConfidenceIdentifierLookup = 0.95
	ConfidenceProceedingsExact = 0.95
	ConfidenceTitleSearch      = 0.8
	ConfidenceFuzzyMatch       = 0.75
)

// Collector defines the interface every PDF source collector must implement.
type Collector interface {
	// Discover attempts to produce exactly one PDF candidate for the paper.
	//
	// Implementations must:
	//   - Apply their own rate limiter before every network call.
	//   - Never mutate the input Paper.
	//   - Assign Confidence deterministically from the discovery method.
	//   - Retry transient failures internally with exponential backoff
	//     before surfacing them.
	//   - Fail with domain.ErrSourceNotApplicable when the source cannot
	//     help this paper, domain.ErrNoResults when it applies but finds
	//     nothing, and domain.ErrNoPDF when the paper is known but has no
	//     downloadable PDF.
	Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error)

	// Source returns the stable source key (e.g. "arxiv") used for venue
	// priorities and per-source statistics.
	Source() string

	// Name returns a human-readable name for logging and display.
	Name() string

	// IsEnabled returns whether this collector is available for discovery.
	IsEnabled() bool
}

// BatchCollector is the optional batch capability for sources whose API
// rewards batching. The framework detects it by type assertion and prefers
// DiscoverBatch over looping Discover.
type BatchCollector interface {
	Collector

	// DiscoverBatch attempts discovery for all papers at once, returning
	// candidates keyed by paper key. Papers with no candidate are simply
	// absent from the map.
	DiscoverBatch(ctx context.Context, papers []domain.Paper) (map[string]domain.CandidateRecord, error)
}

// CacheClearer is implemented by collectors that hold batch-scoped caches
// (e.g. the proceedings-page cache). The framework clears these at the start
// of each discovery batch.
type CacheClearer interface {
	ClearCache()
}
