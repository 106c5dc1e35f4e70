// Package cvf implements a PDF collector that scrapes the CVF open access
// site (openaccess.thecvf.com), which hosts the final versions of CVPR,
// ICCV, and WACV papers. Proceedings pages are fetched once per venue and
// year and cached for the duration of a discovery batch.
package cvf

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/domain"
)

const (
	// DefaultBaseURL is the CVF open access site.
	DefaultBaseURL = "https://openaccess.thecvf.com"

	// DefaultRateLimit is the default rate limit. The site is a static
	// archive; stay polite.
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default request timeout. Proceedings pages run
	// to several megabytes.
	DefaultTimeout = 60 * time.Second

	// fuzzyMatchThreshold is the minimum title similarity for a non-exact
	// proceedings match.
	fuzzyMatchThreshold = 0.8

	sourceID   = "cvf"
	sourceName = "CVF Open Access"
)

// hostedVenues are the conferences served by the open access site.
var hostedVenues = []string{"CVPR", "ICCV", "WACV"}

// venueYearRegex pulls a four-digit year out of a venue string like
// "CVPR 2023" or "Proceedings of ICCV 2021".
var venueYearRegex = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Config holds configuration for the CVF collector.
type Config struct {
	// BaseURL is the open access site base URL.
	BaseURL string

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

// proceedingsEntry is one paper on a proceedings page.
type proceedingsEntry struct {
	title      string
	normalized string
	pdfURL     string
}

// Collector implements collectors.Collector and collectors.CacheClearer for
// the CVF open access site.
type Collector struct {
	config     Config
	httpClient *collectors.HTTPClient

	mu    sync.Mutex
	cache map[string][]proceedingsEntry
}

var (
	_ collectors.Collector    = (*Collector)(nil)
	_ collectors.CacheClearer = (*Collector)(nil)
)

// New creates a new CVF collector with the given configuration.
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
		cache:      make(map[string][]proceedingsEntry),
	}
}

// NewWithHTTPClient creates a collector with a custom HTTP client, useful
// for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *collectors.HTTPClient) *Collector {
	cfg.applyDefaults()

	return &Collector{
		config:     cfg,
		httpClient: httpClient,
		cache:      make(map[string][]proceedingsEntry),
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

// ClearCache drops all cached proceedings pages. The framework calls this at
// the start of each batch.
func (c *Collector) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string][]proceedingsEntry)
}

// Discover looks the paper's title up in the proceedings page of its venue
// and year. Papers whose venue is not hosted on the open access site are not
// applicable.
func (c *Collector) Discover(ctx context.Context, paper domain.Paper) (domain.CandidateRecord, error) {
	venue, year := parseVenue(paper.Venue, paper.Year)
	if venue == "" || year == 0 {
		return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
	}
	if strings.TrimSpace(paper.Title) == "" {
		return domain.CandidateRecord{}, domain.ErrSourceNotApplicable
	}

	entries, err := c.proceedings(ctx, venue, year)
	if err != nil {
		return domain.CandidateRecord{}, err
	}

	wanted := dedup.NormalizeTitle(paper.Title)
	var exact *proceedingsEntry
	var fuzzy *proceedingsEntry
	fuzzySim := 0.0

	for i := range entries {
		if entries[i].normalized == wanted {
			exact = &entries[i]
			break
		}
		if sim := dedup.TitleSimilarity(paper.Title, entries[i].title); sim > fuzzySim {
			fuzzySim = sim
			fuzzy = &entries[i]
		}
	}

	switch {
	case exact != nil:
		return c.entryToRecord(exact, paper, venue, year, collectors.ConfidenceProceedingsExact), nil
	case fuzzy != nil && fuzzySim >= fuzzyMatchThreshold:
		return c.entryToRecord(fuzzy, paper, venue, year, collectors.ConfidenceFuzzyMatch), nil
	default:
		return domain.CandidateRecord{}, fmt.Errorf("title %q not in %s %d proceedings: %w", paper.Title, venue, year, domain.ErrNoResults)
	}
}

// proceedings returns the parsed proceedings page for one venue and year,
// fetching and caching it on first use.
func (c *Collector) proceedings(ctx context.Context, venue string, year int) ([]proceedingsEntry, error) {
	key := fmt.Sprintf("%s%d", venue, year)

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	pageURL := fmt.Sprintf("%s/%s?day=all", strings.TrimRight(c.config.BaseURL, "/"), key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no proceedings page for %s %d: %w", venue, year, domain.ErrNoResults)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, "fetching proceedings page", nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing proceedings page: %w", err)
	}

	entries := c.parseProceedings(doc)

	c.mu.Lock()
	c.cache[key] = entries
	c.mu.Unlock()

	return entries, nil
}

// parseProceedings extracts title and PDF link pairs from a proceedings
// listing. Each paper is a dt.ptitle whose following dd holds the pdf anchor.
func (c *Collector) parseProceedings(doc *goquery.Document) []proceedingsEntry {
	var entries []proceedingsEntry

	doc.Find("dt.ptitle").Each(func(_ int, dt *goquery.Selection) {
		title := strings.TrimSpace(dt.Find("a").First().Text())
		if title == "" {
			return
		}

		pdfHref := ""
		dt.NextUntil("dt").Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, ok := a.Attr("href")
			if ok && strings.HasSuffix(strings.ToLower(href), ".pdf") {
				pdfHref = href
				return false
			}
			return true
		})
		if pdfHref == "" {
			return
		}

		entries = append(entries, proceedingsEntry{
			title:      title,
			normalized: dedup.NormalizeTitle(title),
			pdfURL:     c.absoluteURL(pdfHref),
		})
	})

	return entries
}

// absoluteURL resolves a scraped href against the site base URL.
func (c *Collector) absoluteURL(href string) string {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (c *Collector) entryToRecord(entry *proceedingsEntry, paper domain.Paper, venue string, year int, confidence float64) domain.CandidateRecord {
	return domain.CandidateRecord{
		PaperKey:     paper.Key,
		PDFURL:       entry.pdfURL,
		SourceName:   sourceID,
		Confidence:   confidence,
		DiscoveredAt: time.Now().UTC(),
		Version: domain.VersionInfo{
			Status:   domain.StatusPublished,
			SourceID: fmt.Sprintf("%s%d", venue, year),
		},
		ValidationStatus: domain.ValidationPending,
		Title:            entry.title,
		Authors:          paper.Authors,
		Venue:            paper.Venue,
		Identifiers:      paper.Identifiers,
	}
}

// parseVenue extracts the hosted conference name and year from a paper's
// venue string, falling back to the paper's own year field.
func parseVenue(venueStr string, paperYear int) (string, int) {
	upper := strings.ToUpper(venueStr)

	venue := ""
	for _, v := range hostedVenues {
		if strings.Contains(upper, v) {
			venue = v
			break
		}
	}
	if venue == "" {
		return "", 0
	}

	year := paperYear
	if match := venueYearRegex.FindString(venueStr); match != "" {
		fmt.Sscanf(match, "%d", &year)
	}
	return venue, year
}
