package domain

import (
	"time"

	"github.com/google/uuid"
)

// PublicationStatus describes which version of a paper a candidate PDF is.
type PublicationStatus string

const (
	StatusPublished PublicationStatus = "published"
	StatusPreprint  PublicationStatus = "preprint"
	StatusUnknown   PublicationStatus = "unknown"
)

// ValidationStatus describes how far a candidate's PDF URL has been checked.
type ValidationStatus string

const (
	ValidationPending        ValidationStatus = "pending"
	ValidationVerified       ValidationStatus = "verified"
	ValidationFailed         ValidationStatus = "failed"
	ValidationBatchValidated ValidationStatus = "batch_validated"
)

// VersionInfo carries source-specific version details for a candidate record:
// publication status, the identifier the discovery was keyed on, and the
// source's own ID for the paper.
type VersionInfo struct {
	Status PublicationStatus `json:"status"`
	// IdentifierUsed is the normalized identifier the collector used to find
	// the PDF (e.g. "doi:10.1234/x", "arxiv:2301.12345"), empty for
	// title-search or scrape discoveries.
	IdentifierUsed string `json:"identifier_used,omitempty"`
	// SourceID is the source-internal identifier (e.g. OpenReview forum ID).
	SourceID string `json:"source_id,omitempty"`
}

// CandidateRecord is one collector's claim that a given URL is the PDF for a
// given paper. The record snapshots the matching metadata (title, authors,
// identifiers) so the deduplication engine can group records across sources
// without access to the original Paper batch.
type CandidateRecord struct {
	// PaperKey correlates the record back to the input Paper. Not unique
	// across sources for the same logical paper.
	PaperKey   string `json:"paper_key"`
	PDFURL     string `json:"pdf_url"`
	SourceName string `json:"source_name"`
	// Confidence is the source-assigned score in [0,1] reflecting how
	// certain the discovery method was: direct identifier lookup > venue
	// proceedings scrape > title search > author-overlap search.
	Confidence       float64          `json:"confidence"`
	DiscoveredAt     time.Time        `json:"discovered_at"`
	Version          VersionInfo      `json:"version_info"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	FileSizeBytes    int64            `json:"file_size_bytes,omitempty"`
	License          string           `json:"license,omitempty"`

	// Matching metadata snapshot.
	Title       string           `json:"title"`
	Authors     []Author         `json:"authors,omitempty"`
	Venue       string           `json:"venue,omitempty"`
	Identifiers PaperIdentifiers `json:"identifiers,omitempty"`
}

// ID returns the record's identity for hashing and audit purposes. Two
// records pointing at the same URL for the same paper key are the same fact
// even when discovered through different paths.
func (r *CandidateRecord) ID() string {
	return r.PaperKey + "|" + r.PDFURL
}

// CanonicalID returns the canonical strong identifier for the record's paper
// metadata, or empty string if the record carries no strong identifier.
func (r *CandidateRecord) CanonicalID() string {
	return GenerateCanonicalID(r.Identifiers)
}

// DeduplicationDecision is an audit record of one winner selection over a
// group of candidate records believed to describe the same paper.
type DeduplicationDecision struct {
	ID uuid.UUID `json:"id"`
	// MergedIDs lists the CandidateRecord IDs in the group, winner included.
	MergedIDs []string `json:"merged_ids"`
	WinnerID  string   `json:"winner_id"`
	// Reason is human-readable, e.g. "exact_match_doi:10.1234/x",
	// "fuzzy_match_confidence:0.87", "version_selection".
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	DecidedAt  time.Time `json:"decided_at"`
}

// SourceStats holds per-source attempt counters for one discovery batch.
type SourceStats struct {
	Attempted  int `json:"attempted"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// DiscoveryResult is the outcome of one discovery batch: the winning record
// per logical paper, the papers that found nothing, and per-source counters.
type DiscoveryResult struct {
	TotalPapers     int                        `json:"total_papers"`
	DiscoveredCount int                        `json:"discovered_count"`
	Records         map[string]CandidateRecord `json:"records"`
	FailedPapers    []string                   `json:"failed_papers"`
	SourceStats     map[string]SourceStats     `json:"source_statistics"`
	ExecutionTime   time.Duration              `json:"execution_time"`
	// DedupDegraded is true when the deduplication engine failed and the
	// framework fell back to a first-candidate-per-paper reduction.
	DedupDegraded bool `json:"dedup_degraded,omitempty"`
}

// DiscoveryRate returns the fraction of papers with a discovered PDF,
// 0.0 for an empty batch.
func (r *DiscoveryResult) DiscoveryRate() float64 {
	if r.TotalPapers == 0 {
		return 0.0
	}
	return float64(r.DiscoveredCount) / float64(r.TotalPapers)
}
