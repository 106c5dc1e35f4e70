package semanticscholar

import (
	"bytes"
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
	// DefaultBaseURL is the default Semantic Scholar Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit. The public API allows
	// roughly 1 request per second without an API key.
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultSearchLimit is the default result limit per title search.
	DefaultSearchLimit = 10

	// requestFields lists the paper fields requested from the API.
	requestFields = "title,year,venue,journal,authors,isOpenAccess,openAccessPdf,externalIds"

	// titleMatchThreshold is the minimum title similarity for accepting a
	// title-search hit.
	titleMatchThreshold = 0.9

	sourceID   = "semanticscholar"
	sourceName = "Semantic Scholar"
)

// Config holds configuration for the Semantic Scholar collector.
type Config struct {
	// BaseURL is the Graph API base URL.
	BaseURL string

	// APIKey is the optional API key sent in the x-api-key header.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// SearchLimit is the result limit per title search.
	SearchLimit int

	// Enabled indicates whether this collector participates in discovery.
	Enabled bool
}

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
	if c.SearchLimit == 0 {
		c.SearchLimit = DefaultSearchLimit
	}
}

// Collector implements collectors.BatchCollector for Semantic Scholar.
type Collector struct {
	config     Config
	httpClient *collectors.HTTPClient
}

var _ collectors.BatchCollector = (*Collector)(nil)

// New creates a new Semantic Scholar collector with the given configuration.
func New(cfg Config) *Collector {
	cfg.applyDefaults()

	httpClient := collectors.NewHTTPClient(collectors.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "x-api-key",
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

// Discover finds a PDF candidate for one paper, resolving by DOI or arXiv ID
// when available and falling back to a title search.
func (c *Collector) Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	if id := lookupID(paper.Identifiers); id != "" {
		result, err := c.fetchPaper(ctx, id)
		if err != nil {
			return domain.CandidateRecord{}, err
		}
		return c.resultToRecord(result, paper, collectors.ConfidenceIdentifierLookup, id)
	}

	if strings.TrimSpace(paper.Title) == "" {
		return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
	}
	return c.discoverByTitle(ctx, paper)
}

// DiscoverBatch resolves all identifier-bearing papers in a single paper
// batch request, then falls back to per-paper title searches for the rest.
// Papers that cannot be resolved are simply absent from the returned map.
func (c *Collector) DiscoverBatch(ctx context.Context, papers []domain.Paper) (map[string]domain.CandidateRecord, error) {
	out := make(map[string]domain.CandidateRecord)

	var ids []string
	var withID []domain.Paper
	var withoutID []domain.Paper
	for _, p := range papers {
		if id := lookupID(p.Identifiers); id != "" {
			ids = append(ids, id)
			withID = append(withID, p)
		} else {
			withoutID = append(withoutID, p)
		}
	}

	if len(ids) > 0 {
		results, err := c.fetchBatch(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i, result := range results {
			if result == nil {
				continue
			}
			rec, err := c.resultToRecord(result, withID[i], collectors.ConfidenceIdentifierLookup, ids[i])
			if err != nil {
				continue
			}
			rec.ValidationStatus = domain.ValidationBatchValidated
			out[withID[i].Key] = rec
		}
	}

	for _, p := range withoutID {
		rec, err := c.Discover(ctx, p)
		if err != nil {
			continue
		}
		out[p.Key] = rec
	}

	return out, nil
}

func (c *Collector) discoverByTitle(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	query := url.Values{}
	query.Set("query", paper.Title)
	query.Set("fields", requestFields)
	query.Set("limit", fmt.Sprintf("%d", c.config.SearchLimit))

	var response SearchResponse
	if err := c.get(ctx, "/paper/search?"+query.Encode(), &response); err != nil {
		return domain.CandidateRecord{}, err
	}

	var best *PaperResult
	bestSim := 0.0
	for i := range response.Data {
		sim := dedup.TitleSimilarity(paper.Title, response.Data[i].Title)
		if sim > bestSim {
			bestSim = sim
			best = &response.Data[i]
		}
	}

	if best == nil || bestSim < titleMatchThreshold {
		return domain.CandidateRecord{}, fmt.Errorf("no title match for %q: %w", paper.Title, domain.ErrNoResults)
	}

	return c.resultToRecord(best, paper, collectors.ConfidenceTitleSearch, "")
}

// fetchPaper resolves one paper by a prefixed identifier (DOI:..., arXiv:...).
func (c *Collector) fetchPaper(ctx context.Context, id string) (*PaperResult, error) {
	query := url.Values{}
	query.Set("fields", requestFields)

	var result PaperResult
	if err := c.get(ctx, "/paper/"+url.PathEscape(id)+"?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// fetchBatch resolves many papers in one request. The response preserves the
// order of the supplied ids; unresolved ids come back as null entries.
func (c *Collector) fetchBatch(ctx context.Context, ids []string) ([]*PaperResult, error) {
	body, err := json.Marshal(batchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding batch request: %w", err)
	}

	endpoint := c.config.BaseURL + "/paper/batch?fields=" + url.QueryEscape(requestFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(msg), nil)
	}

	var results []*PaperResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return results, nil
}

// get performs a GET against the API and decodes the JSON response. A 404
// maps onto ErrNoResults.
func (c *Collector) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNoResults
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(msg), nil)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// resultToRecord converts an API paper into a candidate record. Papers
// without an open access PDF yield ErrNoPDF.
func (c *Collector) resultToRecord(result *PaperResult, paper domain.Paper, confidence float64, identifierUsed string) (domain.CandidateRecord, error) {
	if result.OpenAccessPDF == nil || result.OpenAccessPDF.URL == "" {
		return domain.CandidateRecord{}, fmt.Errorf("paper %s: %w", result.PaperID, domain.ErrNoPDF)
	}

	identifiers := paper.Identifiers
	identifiers.SemanticScholarID = result.PaperID
	if ext := result.ExternalIDs; ext != nil {
		if identifiers.DOI == "" {
			identifiers.DOI = ext.DOI
		}
		if identifiers.ArXivID == "" {
			identifiers.ArXivID = ext.ArXiv
		}
		if identifiers.PubMedID == "" {
			identifiers.PubMedID = ext.PubMed
		}
		if identifiers.PMCID == "" {
			identifiers.PMCID = ext.PubMedCentral
		}
	}

	status := domain.StatusUnknown
	switch {
	case result.Journal != nil && result.Journal.Name != "" || result.Venue != "":
		status = domain.StatusPublished
	case result.ExternalIDs != nil && result.ExternalIDs.ArXiv != "":
		status = domain.StatusPreprint
	}

	authors := make([]domain.Author, 0, len(result.Authors))
	for _, a := range result.Authors {
		if a.Name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: a.Name})
	}

	venue := result.Venue
	if venue == "" {
		venue = paper.Venue
	}

	return domain.CandidateRecord{
		PaperKey:     paper.Key,
		PDFURL:       result.OpenAccessPDF.URL,
		SourceName:   sourceID,
		Confidence:   confidence,
		DiscoveredAt: time.Now().UTC(),
		Version: domain.VersionInfo{
			Status:         status,
			IdentifierUsed: canonicalIdentifier(identifierUsed),
			SourceID:       result.PaperID,
		},
		ValidationStatus: domain.ValidationPending,
		License:          result.OpenAccessPDF.License,
		Title:            result.Title,
		Authors:          authors,
		Venue:            venue,
		Identifiers:      identifiers,
	}, nil
}

// lookupID builds the API's prefixed identifier for a paper, preferring DOI
// over arXiv ID. Returns empty string when the paper has neither.
func lookupID(ids domain.PaperIdentifiers) string {
	if doi := domain.NormalizeDOI(ids.DOI); doi != "" {
		return "DOI:" + doi
	}
	if arxivID := domain.NormalizeArXivID(ids.ArXivID); arxivID != "" {
		return "arXiv:" + arxivID
	}
	return ""
}

// canonicalIdentifier rewrites the API's prefixed identifier into the
// canonical form used by deduplication.
func canonicalIdentifier(apiID string) string {
	switch {
	case strings.HasPrefix(apiID, "DOI:"):
		return "doi:" + strings.TrimPrefix(apiID, "DOI:")
	case strings.HasPrefix(apiID, "arXiv:"):
		return "arxiv:" + strings.TrimPrefix(apiID, "arXiv:")
	default:
		return ""
	}
}
