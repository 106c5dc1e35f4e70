// Package crossref implements a PDF collector backed by the Crossref REST
// API. Crossref only resolves DOIs, so papers without a DOI are reported as
// not applicable.
package crossref

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
	"github.com/helixir/pdf-discovery-service/internal/domain"
)

const (
	// DefaultBaseURL is the default Crossref REST API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the default rate limit. Crossref asks polite
	// clients to stay under 50 requests per second; we default far lower.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 2

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	sourceID   = "crossref"
	sourceName = "Crossref"
)

// Config holds configuration for the Crossref collector.
type Config struct {
	// BaseURL is the Crossref REST API base URL.
	BaseURL string

	// MailTo is included in the User-Agent per Crossref's polite pool
	// guidelines.
	MailTo string

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

// worksResponse is the envelope of the /works/{doi} endpoint.
type worksResponse struct {
	Message work `json:"message"`
}

// work is the subset of a Crossref work record used for PDF discovery.
type work struct {
	DOI            string   `json:"DOI"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Author         []author `json:"author"`
	Link           []link   `json:"link"`
	License        []struct {
		URL string `json:"URL"`
	} `json:"license"`
}

type author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type link struct {
	URL                 string `json:"URL"`
	ContentType         string `json:"content-type"`
	IntendedApplication string `json:"intended-application"`
}

// Collector implements the collectors.Collector interface for Crossref.
type Collector struct {
	config     Config
	httpClient *collectors.HTTPClient
}

var _ collectors.Collector = (*Collector)(nil)

// New creates a new Crossref collector with the given configuration.
func New(cfg Config) *Collector {
	cfg.applyDefaults()

	userAgent := "Helixir-PDFDiscovery/1.0"
	if cfg.MailTo != "" {
		userAgent = fmt.Sprintf("%s (mailto:%s)", userAgent, cfg.MailTo)
	}

	httpClient := collectors.NewHTTPClient(collectors.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: userAgent,
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

// Discover resolves the paper's DOI against the works endpoint and extracts
// the publisher's full-text PDF link when one is advertised.
func (c *Collector) Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	doi := domain.NormalizeDOI(paper.Identifiers.DOI)
	if doi == "" {
		return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/works/" + url.PathEscape(doi)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CandidateRecord{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CandidateRecord{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.CandidateRecord{}, fmt.Errorf("doi %s: %w", doi, domain.ErrNoResults)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.CandidateRecord{}, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(msg), nil)
	}

	var response worksResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&response); err != nil {
		return domain.CandidateRecord{}, fmt.Errorf("decoding response: %w", err)
	}

	return c.workToRecord(&response.Message, paper, doi)
}

func (c *Collector) workToRecord(w *work, paper domain.Paper, doi string) (domain.CandidateRecord, error) {
	pdfURL := pdfLink(w.Link)
	if pdfURL == "" {
		return domain.CandidateRecord{}, fmt.Errorf("doi %s: %w", doi, domain.ErrNoPDF)
	}

	title := paper.Title
	if len(w.Title) > 0 && w.Title[0] != "" {
		title = w.Title[0]
	}

	venue := paper.Venue
	if len(w.ContainerTitle) > 0 && w.ContainerTitle[0] != "" {
		venue = w.ContainerTitle[0]
	}

	authors := make([]domain.Author, 0, len(w.Author))
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: name})
	}

	identifiers := paper.Identifiers
	identifiers.DOI = doi

	license := ""
	if len(w.License) > 0 {
		license = w.License[0].URL
	}

	return domain.CandidateRecord{
		PaperKey:     paper.Key,
		PDFURL:       pdfURL,
		SourceName:   sourceID,
		Confidence:   collectors.ConfidenceIdentifierLookup,
		DiscoveredAt: time.Now().UTC(),
		Version: domain.VersionInfo{
			Status:         domain.StatusPublished,
			IdentifierUsed: "doi:" + doi,
			SourceID:       w.DOI,
		},
		ValidationStatus: domain.ValidationPending,
		License:          license,
		Title:            title,
		Authors:          authors,
		Venue:            venue,
		Identifiers:      identifiers,
	}, nil
}

// pdfLink picks the best full-text PDF link from a work's link list,
// preferring links intended for text mining only when nothing else is
// offered.
func pdfLink(links []link) string {
	fallback := ""
	for _, l := range links {
		if l.ContentType != "application/pdf" && !strings.HasSuffix(strings.ToLower(l.URL), ".pdf") {
			continue
		}
		if l.IntendedApplication == "text-mining" {
			if fallback == "" {
				fallback = l.URL
			}
			continue
		}
		return l.URL
	}
	return fallback
}
