package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/pdf-discovery-service/internal/domain"
)

// Config holds the thresholds for the fuzzy-match pass.
type Config struct {
	// TitleThreshold is the normalized-title similarity ratio above which
	// two records are considered the same paper (combined with author
	// overlap).
	TitleThreshold float64

	// AuthorThreshold is the author overlap score required alongside title
	// similarity when both records carry author lists.
	AuthorThreshold float64
}

// DefaultConfig returns the standard matching thresholds.
func DefaultConfig() Config {
	return Config{
		TitleThreshold:  0.8,
		AuthorThreshold: 0.3,
	}
}

// Stats summarizes the decisions taken over one batch.
type Stats struct {
	TotalDecisions    int     `json:"total_decisions"`
	MergeDecisions    int     `json:"merge_decisions"`
	IndividualRecords int     `json:"individual_records"`
	AverageConfidence float64 `json:"average_confidence"`
	MergeRate         float64 `json:"merge_rate"`
}

// Engine groups candidate records that describe the same paper and selects
// one winner per group via the VersionManager. Decisions and stats are
// batch-scoped: Reset clears them at the start of each batch.
type Engine struct {
	cfg      Config
	versions *VersionManager

	mu        sync.Mutex
	decisions []domain.DeduplicationDecision
	stats     Stats
}

// NewEngine creates an Engine with the given thresholds and version manager.
func NewEngine(cfg Config, versions *VersionManager) *Engine {
	if cfg.TitleThreshold == 0 {
		cfg.TitleThreshold = DefaultConfig().TitleThreshold
	}
	if cfg.AuthorThreshold == 0 {
		cfg.AuthorThreshold = DefaultConfig().AuthorThreshold
	}
	return &Engine{
		cfg:      cfg,
		versions: versions,
	}
}

// Versions returns the engine's version manager.
func (e *Engine) Versions() *VersionManager {
	return e.versions
}

// Reset clears the batch-scoped decision log and statistics.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions = nil
	e.stats = Stats{}
}

// group is one set of records believed to describe the same paper.
type group struct {
	records []domain.CandidateRecord
	reason  string
}

// Deduplicate groups the supplied records and returns one winning record per
// logical paper, keyed by the winner's paper key.
//
// Grouping runs in two passes. The exact pass groups records sharing a
// normalized strong identifier; it runs first because it is
// highest-confidence, and a shared DOI merges records regardless of title
// dissimilarity. The fuzzy pass then groups the remaining records by title
// similarity combined with author overlap (exact title containment also
// counts); it never re-merges records already placed in an exact group.
// Records touched by neither pass become singleton groups.
//
// For a fixed input ordering the output is deterministic: groups form in
// supply order and the VersionManager's tie-break is total.
func (e *Engine) Deduplicate(records []domain.CandidateRecord) (map[string]domain.CandidateRecord, error) {
	exactGroups, remaining := e.exactPass(records)
	fuzzyGroups := e.fuzzyPass(remaining)

	winners := make(map[string]domain.CandidateRecord, len(exactGroups)+len(fuzzyGroups))

	e.mu.Lock()
	defer e.mu.Unlock()

	confidenceSum := 0.0
	winnerCount := 0

	for _, g := range append(exactGroups, fuzzyGroups...) {
		winner := g.records[0]
		if len(g.records) > 1 {
			winner = e.versions.SelectBest(g.records)
			e.recordDecision(g, winner)
			e.stats.MergeDecisions++
		} else {
			e.stats.IndividualRecords++
		}
		e.stats.TotalDecisions++

		confidenceSum += winner.Confidence
		winnerCount++

		key := winner.PaperKey
		if _, taken := winners[key]; taken {
			key = winner.ID()
		}
		winners[key] = winner
	}

	if winnerCount > 0 {
		e.stats.AverageConfidence = confidenceSum / float64(winnerCount)
	}
	if e.stats.TotalDecisions > 0 {
		e.stats.MergeRate = float64(e.stats.MergeDecisions) / float64(e.stats.TotalDecisions)
	}

	return winners, nil
}

// exactPass groups records sharing a normalized strong identifier and
// returns the groups plus the records carrying no identifier. A record whose
// keys hit several existing groups bridges them: the groups are union-merged,
// since sharing any one identifier with the record makes them the same paper.
func (e *Engine) exactPass(records []domain.CandidateRecord) ([]*group, []domain.CandidateRecord) {
	var groups []*group
	var remaining []domain.CandidateRecord
	byKey := make(map[string]*group)

	for _, r := range records {
		keys := identifierKeys(&r)
		if len(keys) == 0 {
			remaining = append(remaining, r)
			continue
		}

		var matched []*group
		var matchedKey string
		seen := make(map[*group]bool)
		for _, key := range keys {
			existing, ok := byKey[key]
			if !ok || seen[existing] {
				continue
			}
			seen[existing] = true
			matched = append(matched, existing)
			if matchedKey == "" {
				matchedKey = key
			}
		}

		var g *group
		if len(matched) == 0 {
			g = &group{}
			groups = append(groups, g)
		} else {
			g = matched[0]
			if g.reason == "" {
				g.reason = "exact_match_" + matchedKey
			}
			for _, other := range matched[1:] {
				g.records = append(g.records, other.records...)
				other.records = nil
			}
			if len(matched) > 1 {
				for key, grp := range byKey {
					if grp.records == nil {
						byKey[key] = g
					}
				}
			}
		}

		g.records = append(g.records, r)
		for _, key := range keys {
			byKey[key] = g
		}
	}

	// Drop groups emptied by a union merge.
	kept := groups[:0]
	for _, g := range groups {
		if len(g.records) > 0 {
			kept = append(kept, g)
		}
	}
	return kept, remaining
}

// fuzzyPass groups identifier-less records by title similarity and author
// overlap, evaluating candidates in the order they were supplied.
func (e *Engine) fuzzyPass(records []domain.CandidateRecord) []*group {
	var groups []*group

	for _, r := range records {
		placed := false
		for _, g := range groups {
			rep := g.records[0]
			sim := TitleSimilarity(r.Title, rep.Title)

			switch {
			case sim >= e.cfg.TitleThreshold && e.authorsCompatible(&r, &rep):
				if g.reason == "" {
					g.reason = fmt.Sprintf("fuzzy_match_confidence:%.2f", sim)
				}
			case TitleContains(r.Title, rep.Title) && e.authorsCompatible(&r, &rep):
				if g.reason == "" {
					g.reason = "fuzzy_match_title_containment"
				}
			default:
				continue
			}

			g.records = append(g.records, r)
			placed = true
			break
		}

		if !placed {
			groups = append(groups, &group{records: []domain.CandidateRecord{r}})
		}
	}

	return groups
}

// authorsCompatible gates fuzzy matches on author overlap. When either
// record carries no author list the gate passes, leaving the decision to the
// title heuristics.
func (e *Engine) authorsCompatible(a, b *domain.CandidateRecord) bool {
	if len(a.Authors) == 0 || len(b.Authors) == 0 {
		return true
	}
	return AuthorOverlap(a.Authors, b.Authors) >= e.cfg.AuthorThreshold
}

// recordDecision appends the audit record for one multi-record group.
// Caller holds e.mu.
func (e *Engine) recordDecision(g *group, winner domain.CandidateRecord) {
	mergedIDs := make([]string, len(g.records))
	samePaper := true
	for i, r := range g.records {
		mergedIDs[i] = r.ID()
		if r.PaperKey != g.records[0].PaperKey {
			samePaper = false
		}
	}

	reason := g.reason
	if samePaper {
		// All records point at the same input paper: a pure version pick.
		reason = "version_selection"
	}

	e.decisions = append(e.decisions, domain.DeduplicationDecision{
		ID:         uuid.New(),
		MergedIDs:  mergedIDs,
		WinnerID:   winner.ID(),
		Reason:     reason,
		Confidence: winner.Confidence,
		DecidedAt:  time.Now().UTC(),
	})
}

// Decisions returns a copy of the batch's decision log.
func (e *Engine) Decisions() []domain.DeduplicationDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.DeduplicationDecision, len(e.decisions))
	copy(out, e.decisions)
	return out
}

// Stats returns the batch's decision statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// identifierKeys returns the record's normalized strong identifier keys: one
// key per populated identifier in its identifier set, plus the identifier the
// collector keyed its discovery on when not already present. Emitting every
// identifier is what lets a record carrying both a DOI and an arXiv id bridge
// records known under only one of them.
func identifierKeys(r *domain.CandidateRecord) []string {
	keys := domain.IdentifierKeys(r.Identifiers)
	if used := r.Version.IdentifierUsed; used != "" {
		known := false
		for _, k := range keys {
			if k == used {
				known = true
				break
			}
		}
		if !known {
			keys = append(keys, used)
		}
	}
	return keys
}
