// Package arxiv implements a PDF collector backed by the arXiv Atom API.
// Papers carrying an arXiv ID are resolved directly via id_list; everything
// else falls back to a title search.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/domain"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is the default rate limit (3 requests per second).
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per title search.
	DefaultMaxResults = 10

	// titleMatchThreshold is the minimum title similarity for accepting a
	// title-search hit.
	titleMatchThreshold = 0.9

	sourceID   = "arxiv"
	sourceName = "arXiv"
)

// arxivIDRegex extracts the arXiv ID from the full entry URL.
// Matches patterns like "http://arxiv.org/abs/2301.12345v1" or
// "http://arxiv.org/abs/hep-th/9901001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv collector.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the maximum results fetched per title search.
	MaxResults int

	// Enabled indicates whether this collector participates in discovery.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
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
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Collector implements the collectors.Collector interface for arXiv.
type Collector struct {
	config     Config
	httpClient *collectors.HTTPClient
}

var _ collectors.Collector = (*Collector)(nil)

// New creates a new arXiv collector with the given configuration.
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

// NewWithHTTPClient creates a new arXiv collector with a custom HTTP client.
// This is useful for testing with mock servers.
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

// Discover finds a PDF candidate for one paper. An arXiv ID triggers a
// direct id_list lookup; otherwise the title is searched and the best hit is
// accepted only if it clears the title similarity threshold.
func (c *Collector) Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	if id := domain.NormalizeArXivID(paper.Identifiers.ArXivID); id != "" {
		return c.discoverByID(ctx, paper, id)
	}
	if strings.TrimSpace(paper.Title) == "" {
		return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
	}
	return c.discoverByTitle(ctx, paper)
}

func (c *Collector) discoverByID(ctx context.Context, paper domain.Paper, id string) (domain.CandidateRecord, error) {
	query := url.Values{}
	query.Set("id_list", id)

	feed, err := c.fetchFeed(ctx, query)
	if err != nil {
		return domain.CandidateRecord{}, err
	}
	if len(feed.Entries) == 0 {
		return domain.CandidateRecord{}, fmt.Errorf("arxiv id %s: %w", id, domain.ErrNoResults)
	}

	return c.entryToRecord(&feed.Entries[0], paper, collectors.ConfidenceIdentifierLookup)
}

func (c *Collector) discoverByTitle(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	query := url.Values{}
	query.Set("search_query", `ti:"`+sanitizeQuery(paper.Title)+`"`)
	query.Set("max_results", strconv.Itoa(c.config.MaxResults))

	feed, err := c.fetchFeed(ctx, query)
	if err != nil {
		return domain.CandidateRecord{}, err
	}

	var best *Entry
	bestSim := 0.0
	for i := range feed.Entries {
		sim := dedup.TitleSimilarity(paper.Title, normalizeWhitespace(feed.Entries[i].Title))
		if sim > bestSim {
			bestSim = sim
			best = &feed.Entries[i]
		}
	}

	if best == nil || bestSim < titleMatchThreshold {
		return domain.CandidateRecord{}, fmt.Errorf("no title match for %q: %w", paper.Title, domain.ErrNoResults)
	}

	return c.entryToRecord(best, paper, collectors.ConfidenceTitleSearch)
}

// fetchFeed executes one API query and decodes the Atom response.
func (c *Collector) fetchFeed(ctx context.Context, query url.Values) (*Feed, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"
	baseURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	// Limit body to 10MB.
	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &feed, nil
}

// entryToRecord converts an Atom entry into a candidate record for the given
// input paper.
func (c *Collector) entryToRecord(entry *Entry, paper domain.Paper, confidence float64) (domain.CandidateRecord, error) {
	arxivID := extractArXivID(entry.ID)
	if arxivID == "" {
		return domain.CandidateRecord{}, fmt.Errorf("entry %q has no arxiv id: %w", entry.ID, domain.ErrNoResults)
	}

	pdfURL := ""
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			pdfURL = link.Href
			break
		}
	}
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + arxivID
	}

	authors := make([]domain.Author, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{
			Name:        name,
			Affiliation: strings.TrimSpace(a.Affiliation),
		})
	}

	identifiers := paper.Identifiers
	identifiers.ArXivID = arxivID
	if doi := strings.TrimSpace(entry.DOI); doi != "" && identifiers.DOI == "" {
		identifiers.DOI = doi
	}

	return domain.CandidateRecord{
		PaperKey:     paper.Key,
		PDFURL:       pdfURL,
		SourceName:   sourceID,
		Confidence:   confidence,
		DiscoveredAt: time.Now().UTC(),
		Version: domain.VersionInfo{
			Status:         domain.StatusPreprint,
			IdentifierUsed: "arxiv:" + arxivID,
			SourceID:       arxivID,
		},
		ValidationStatus: domain.ValidationPending,
		Title:            normalizeWhitespace(entry.Title),
		Authors:          authors,
		Venue:            paper.Venue,
		Identifiers:      identifiers,
	}, nil
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// Input: "http://arxiv.org/abs/2301.12345v1" -> "2301.12345"
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// sanitizeQuery strips characters that break arXiv's query syntax.
func sanitizeQuery(s string) string {
	return strings.NewReplacer(`"`, " ", ":", " ").Replace(s)
}

// normalizeWhitespace trims and collapses multiple whitespace characters.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
