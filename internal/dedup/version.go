package dedup

import (
	"strings"
	"sync"

	"github.com/helixir/pdf-discovery-service/internal/domain"
)

// unrankedPriority is the rank assigned to sources with no configured
// priority; any configured source outranks them.
const unrankedPriority = 1 << 30

// VersionManager picks one winning candidate record out of a group of
// records believed to describe the same paper, using configurable per-source
// and per-venue priority and publication-status preference.
//
// Selection order:
//  1. lower configured priority rank wins (venue-specific rank overrides
//     the global rank when the record's venue has one),
//  2. on rank tie, a published/venue-direct version beats a preprint when
//     prefer-published is set,
//  3. remaining ties broken by higher confidence,
//  4. final tie broken by earliest discovery timestamp.
//
// The ordering is total and deterministic: repeated calls over the same
// group return the same record.
type VersionManager struct {
	mu              sync.RWMutex
	sourceRank      map[string]int
	venueRank       map[string]map[string]int
	preferPublished bool
}

// NewVersionManager creates a VersionManager with no configured priorities.
func NewVersionManager() *VersionManager {
	return &VersionManager{
		sourceRank: make(map[string]int),
		venueRank:  make(map[string]map[string]int),
	}
}

// SetPriorities replaces the global source rank map (lower rank = higher
// priority) and the publication-status preference.
func (m *VersionManager) SetPriorities(sourceRank map[string]int, preferPublished bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sourceRank = make(map[string]int, len(sourceRank))
	for source, rank := range sourceRank {
		m.sourceRank[source] = rank
	}
	m.preferPublished = preferPublished
}

// SetVenuePriority configures an ordered source preference for one venue;
// earlier sources rank higher. Venue matching is case-insensitive.
func (m *VersionManager) SetVenuePriority(venue string, orderedSources []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ranks := make(map[string]int, len(orderedSources))
	for i, source := range orderedSources {
		ranks[source] = i
	}
	m.venueRank[strings.ToLower(venue)] = ranks
}

// SelectBest returns the winning record of a non-empty group. The input
// slice is not modified; for a fixed input ordering the result is stable
// (the earlier-supplied record wins full ties).
func (m *VersionManager) SelectBest(group []domain.CandidateRecord) domain.CandidateRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := group[0]
	for _, r := range group[1:] {
		if m.better(r, best) {
			best = r
		}
	}
	return best
}

// better reports whether a strictly outranks b.
func (m *VersionManager) better(a, b domain.CandidateRecord) bool {
	rankA, rankB := m.rankFor(a), m.rankFor(b)
	if rankA != rankB {
		return rankA < rankB
	}

	if m.preferPublished {
		pubA := a.Version.Status == domain.StatusPublished
		pubB := b.Version.Status == domain.StatusPublished
		if pubA != pubB {
			return pubA
		}
	}

	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}

	return a.DiscoveredAt.Before(b.DiscoveredAt)
}

// rankFor resolves a record's priority rank, preferring the venue-specific
// rank over the global one.
func (m *VersionManager) rankFor(r domain.CandidateRecord) int {
	if ranks, ok := m.venueRank[strings.ToLower(r.Venue)]; ok {
		if rank, ok := ranks[r.SourceName]; ok {
			return rank
		}
	}
	if rank, ok := m.sourceRank[r.SourceName]; ok {
		return rank
	}
	return unrankedPriority
}

// FirstPriority returns the highest-priority source configured for a venue,
// falling back to the "default" venue entry, or empty string when neither is
// configured.
func (m *VersionManager) FirstPriority(venue string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, key := range []string{strings.ToLower(venue), "default"} {
		ranks, ok := m.venueRank[key]
		if !ok {
			continue
		}
		bestRank := unrankedPriority
		best := ""
		for source, rank := range ranks {
			if rank < bestRank {
				bestRank = rank
				best = source
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}
