// Package domain provides domain models and business logic for the PDF Discovery Service.
package domain

import (
	"strconv"
	"strings"
)

// PaperIdentifiers holds all known external identifiers for an academic paper.
type PaperIdentifiers struct {
	DOI               string `json:"doi,omitempty"`
	ArXivID           string `json:"arxiv_id,omitempty"`
	PubMedID          string `json:"pubmed_id,omitempty"`
	PMCID             string `json:"pmc_id,omitempty"`
	OpenReviewID      string `json:"openreview_id,omitempty"`
	SemanticScholarID string `json:"semantic_scholar_id,omitempty"`
}

// NormalizeDOI normalizes a DOI for comparison: lowercases it and strips
// resolver prefixes ("https://doi.org/", "doi:").
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

// NormalizeArXivID normalizes an arXiv identifier for comparison: lowercases
// it, strips the "arxiv:" prefix, and drops a trailing version suffix
// ("2301.12345v3" -> "2301.12345").
func NormalizeArXivID(id string) string {
	id = strings.TrimSpace(strings.ToLower(id))
	id = strings.TrimPrefix(id, "arxiv:")

	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

// IdentifierKeys returns one normalized key per populated identifier, in
// priority order: DOI > ArXiv > PubMed > PMC > OpenReview > SemanticScholar.
// Identifiers are normalized so that the same paper reported by different
// sources yields the same keys. Returns nil if no identifiers are available.
func IdentifierKeys(ids PaperIdentifiers) []string {
	var keys []string
	if doi := NormalizeDOI(ids.DOI); doi != "" {
		keys = append(keys, "doi:"+doi)
	}
	if arxiv := NormalizeArXivID(ids.ArXivID); arxiv != "" {
		keys = append(keys, "arxiv:"+arxiv)
	}
	if pubmed := strings.TrimSpace(ids.PubMedID); pubmed != "" {
		keys = append(keys, "pubmed:"+pubmed)
	}
	if pmc := strings.TrimSpace(strings.ToUpper(ids.PMCID)); pmc != "" {
		keys = append(keys, "pmc:"+pmc)
	}
	if or := strings.TrimSpace(ids.OpenReviewID); or != "" {
		keys = append(keys, "openreview:"+or)
	}
	if s2 := strings.TrimSpace(ids.SemanticScholarID); s2 != "" {
		keys = append(keys, "s2:"+s2)
	}
	return keys
}

// GenerateCanonicalID generates a canonical identifier from paper
// identifiers: the highest-priority key from IdentifierKeys, or empty string
// if no identifiers are available.
func GenerateCanonicalID(ids PaperIdentifiers) string {
	if keys := IdentifierKeys(ids); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// Author represents a paper author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// Paper is the immutable input record describing one paper whose PDF should
// be discovered. Papers are produced upstream; this service only reads them.
type Paper struct {
	// Key is the caller-supplied identifier used to correlate candidate
	// records back to this paper. It is not guaranteed globally unique:
	// different sources may report the same logical paper under different
	// keys, which is what the deduplication engine resolves.
	Key         string           `json:"key" validate:"required"`
	Title       string           `json:"title" validate:"required"`
	Authors     []Author         `json:"authors,omitempty"`
	Venue       string           `json:"venue,omitempty"`
	Year        int              `json:"year,omitempty"`
	Identifiers PaperIdentifiers `json:"identifiers,omitempty"`
	KnownURLs   []string         `json:"known_urls,omitempty"`
}

// CanonicalID returns the canonical identifier derived from the paper's
// external identifiers, or empty string if it has none.
func (p *Paper) CanonicalID() string {
	return GenerateCanonicalID(p.Identifiers)
}

// HasIdentifier returns true if the paper has at least one strong identifier.
func (p *Paper) HasIdentifier() bool {
	return p.CanonicalID() != ""
}
