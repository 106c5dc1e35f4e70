// Package openreview implements a PDF collector backed by the OpenReview
// notes API. Papers are resolved by OpenReview note ID when available,
// otherwise by an exact title query, and the hosted PDF is addressed through
// the pdf endpoint.
package openreview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/domain"
)

const (
	// DefaultBaseURL is the default OpenReview API base URL.
	DefaultBaseURL = "https://api.openreview.net"

	// DefaultSiteURL is the public site serving hosted PDFs.
	DefaultSiteURL = "https://openreview.net"

	// DefaultRateLimit is the default rate limit.
	DefaultRateLimit = 2.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// titleMatchThreshold is the minimum title similarity for accepting a
	// title-query hit.
	titleMatchThreshold = 0.9

	sourceID   = "openreview"
	sourceName = "OpenReview"
)

// Config holds configuration for the OpenReview collector.
type Config struct {
	// BaseURL is the OpenReview API base URL.
	BaseURL string

	// SiteURL is the public site base URL used to build PDF links.
	SiteURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Enabled indicates whether this collector participates in discovery.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.SiteURL == "" {
		c.SiteURL = DefaultSiteURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// notesResponse is the envelope of the notes endpoint.
type notesResponse struct {
	Notes []note `json:"notes"`
}

// note is one OpenReview submission.
type note struct {
	ID      string      `json:"id"`
	Content noteContent `json:"content"`
}

// noteContent holds the submission fields used for discovery.
type noteContent struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	PDF     string   `json:"pdf"`
	Venue   string   `json:"venue"`
	VenueID string   `json:"venueid"`
}

// Collector implements the collectors.Collector interface for OpenReview.
type Collector struct {
	config     Config
	httpClient *collectors.HTTPClient
}

var _ collectors.Collector = (*Collector)(nil)

// New creates a new OpenReview collector with the given configuration.
func New(cfg Config) *Collector {
	cfg.applyDefaults()

	httpClient := collectors.NewHTTPClient(collectors.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
	})

	return &Collector{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a collector with a custom HTTP client, useful
// for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *collectors.HTTPClient) *Collector {
	cfg.applyDefaults()

	return &Collector{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Source returns the source identifier.
func (c *Collector) Source() string {
	return sourceID
}

// Name returns the human-readable name for this collector.
func (c *Collector) Name() string {
	return sourceName
}

// IsEnabled returns whether this collector is enabled.
func (c *Collector) IsEnabled() bool {
	return c.config.Enabled
}

// Discover resolves a paper against the notes endpoint by note ID when the
// paper carries one, otherwise by exact title query.
func (c *Collector) Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	if id := strings.TrimSpace(paper.Identifiers.OpenReviewID); id != "" {
		return c.discoverByID(ctx, paper, id)
	}
	if strings.TrimSpace(paper.Title) == "" {
		return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
	}
	return c.discoverByTitle(ctx, paper)
}

func (c *Collector) discoverByID(ctx context.Context, paper domain.Paper, id string) (domain.CandidateRecord, error) {
	query := url.Values{}
	query.Set("id", id)

	notes, err := c.fetchNotes(ctx, query)
	if err != nil {
		return domain.CandidateRecord{}, err
	}
	if len(notes) == 0 {
		return domain.CandidateRecord{}, fmt.Errorf("note %s: %w", id, domain.ErrNoResults)
	}

	return c.noteToRecord(&notes[0], paper, collectors.ConfidenceIdentifierLookup)
}

func (c *Collector) discoverByTitle(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	query := url.Values{}
	query.Set("content.title", paper.Title)

	notes, err := c.fetchNotes(ctx, query)
	if err != nil {
		return domain.CandidateRecord{}, err
	}

	var best *note
	bestSim := 0.0
	for i := range notes {
		sim := dedup.TitleSimilarity(paper.Title, notes[i].Content.Title)
		if sim > bestSim {
			bestSim = sim
			best = &notes[i]
		}
	}

	if best == nil || bestSim < titleMatchThreshold {
		return domain.CandidateRecord{}, fmt.Errorf("no title match for %q: %w", paper.Title, domain.ErrNoResults)
	}

	return c.noteToRecord(best, paper, collectors.ConfidenceTitleSearch)
}

func (c *Collector) fetchNotes(ctx context.Context, query url.Values) ([]note, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/notes?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(msg), nil)
	}

	var response notesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&response); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return response.Notes, nil
}

func (c *Collector) noteToRecord(n *note, paper domain.Paper, confidence float64) (domain.CandidateRecord, error) {
	if n.Content.PDF == "" {
		return domain.CandidateRecord{}, fmt.Errorf("note %s: %w", n.ID, domain.ErrNoPDF)
	}

	authors := make([]domain.Author, 0, len(n.Content.Authors))
	for _, name := range n.Content.Authors {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: name})
	}

	identifiers := paper.Identifiers
	identifiers.OpenReviewID = n.ID

	// Accepted submissions carry a decision venue; everything still under
	// review shows up as "Submitted to ...".
	status := domain.StatusUnknown
	if n.Content.Venue != "" {
		if strings.HasPrefix(strings.ToLower(n.Content.Venue), "submitted") {
			status = domain.StatusPreprint
		} else {
			status = domain.StatusPublished
		}
	}

	venue := paper.Venue
	if venue == "" {
		venue = n.Content.Venue
	}

	return domain.CandidateRecord{
		PaperKey:     paper.Key,
		PDFURL:       strings.TrimRight(c.config.SiteURL, "/") + "/pdf?id=" + url.QueryEscape(n.ID),
		SourceName:   sourceID,
		Confidence:   confidence,
		DiscoveredAt: time.Now().UTC(),
		Version: domain.VersionInfo{
			Status:         status,
			IdentifierUsed: "openreview:" + n.ID,
			SourceID:       n.ID,
		},
		ValidationStatus: domain.ValidationPending,
		Title:            n.Content.Title,
		Authors:          authors,
		Venue:            venue,
		Identifiers:      identifiers,
	}, nil
}
