package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/pdf-discovery-service/internal/domain"
)

func rec(source string, status domain.PublicationStatus, confidence float64, discovered time.Time) domain.CandidateRecord {
	return domain.CandidateRecord{
		PaperKey:     "vaswani2017attention",
		PDFURL:       "https://example.org/" + source + ".pdf",
		SourceName:   source,
		Confidence:   confidence,
		DiscoveredAt: discovered,
		Version:      domain.VersionInfo{Status: status},
	}
}

func TestVersionManager_SelectBest(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("configured source rank wins", func(t *testing.T) {
		m := NewVersionManager()
		m.SetPriorities(map[string]int{"crossref": 0, "arxiv": 1}, false)

		winner := m.SelectBest([]domain.CandidateRecord{
			rec("arxiv", domain.StatusPreprint, 0.95, base),
			rec("crossref", domain.StatusPublished, 0.8, base),
		})
		assert.Equal(t, "crossref", winner.SourceName)
	})

	t.Run("published beats preprint on rank tie when preferred", func(t *testing.T) {
		m := NewVersionManager()
		m.SetPriorities(nil, true)

		winner := m.SelectBest([]domain.CandidateRecord{
			rec("arxiv", domain.StatusPreprint, 0.95, base),
			rec("openreview", domain.StatusPublished, 0.8, base),
		})
		assert.Equal(t, "openreview", winner.SourceName)
	})

	t.Run("confidence breaks remaining ties", func(t *testing.T) {
		m := NewVersionManager()

		winner := m.SelectBest([]domain.CandidateRecord{
			rec("arxiv", domain.StatusPreprint, 0.8, base),
			rec("semanticscholar", domain.StatusPreprint, 0.95, base),
		})
		assert.Equal(t, "semanticscholar", winner.SourceName)
	})

	t.Run("earliest discovery breaks full ties", func(t *testing.T) {
		m := NewVersionManager()

		winner := m.SelectBest([]domain.CandidateRecord{
			rec("arxiv", domain.StatusPreprint, 0.95, base.Add(time.Minute)),
			rec("semanticscholar", domain.StatusPreprint, 0.95, base),
		})
		assert.Equal(t, "semanticscholar", winner.SourceName)
	})

	t.Run("venue-specific rank overrides global rank", func(t *testing.T) {
		m := NewVersionManager()
		m.SetPriorities(map[string]int{"arxiv": 0, "cvf": 5}, false)
		m.SetVenuePriority("CVPR", []string{"cvf", "arxiv"})

		a := rec("arxiv", domain.StatusPreprint, 0.95, base)
		a.Venue = "cvpr"
		c := rec("cvf", domain.StatusPublished, 0.9, base)
		c.Venue = "cvpr"

		winner := m.SelectBest([]domain.CandidateRecord{a, c})
		assert.Equal(t, "cvf", winner.SourceName)
	})

	t.Run("unranked sources lose to ranked ones", func(t *testing.T) {
		m := NewVersionManager()
		m.SetPriorities(map[string]int{"crossref": 3}, false)

		winner := m.SelectBest([]domain.CandidateRecord{
			rec("unknown-source", domain.StatusPublished, 0.99, base),
			rec("crossref", domain.StatusPreprint, 0.5, base),
		})
		assert.Equal(t, "crossref", winner.SourceName)
	})

	t.Run("deterministic across repeated calls", func(t *testing.T) {
		m := NewVersionManager()
		m.SetPriorities(map[string]int{"crossref": 0, "arxiv": 1}, true)

		group := []domain.CandidateRecord{
			rec("arxiv", domain.StatusPreprint, 0.95, base),
			rec("crossref", domain.StatusPublished, 0.8, base),
			rec("semanticscholar", domain.StatusUnknown, 0.9, base),
		}
		first := m.SelectBest(group)
		for range 10 {
			assert.Equal(t, first, m.SelectBest(group))
		}
	})
}

func TestVersionManager_FirstPriority(t *testing.T) {
	m := NewVersionManager()
	m.SetVenuePriority("default", []string{"arxiv", "crossref"})
	m.SetVenuePriority("NeurIPS", []string{"openreview", "arxiv"})

	t.Run("venue-specific entry", func(t *testing.T) {
		assert.Equal(t, "openreview", m.FirstPriority("neurips"))
	})

	t.Run("falls back to default", func(t *testing.T) {
		assert.Equal(t, "arxiv", m.FirstPriority("ICML"))
	})

	t.Run("empty when nothing configured", func(t *testing.T) {
		assert.Equal(t, "", NewVersionManager().FirstPriority("ICML"))
	})
}
