// Package dedup groups candidate records that describe the same paper and
// selects one winner per group. Grouping runs two passes: an exact pass over
// normalized strong identifiers (DOI, arXiv id, ...) and a fuzzy pass over
// title similarity combined with author overlap.
package dedup

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// NormalizeTitle returns a lowercased, punctuation-stripped version of the
// title with whitespace collapsed, suitable for comparison across sources.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TitleSimilarity returns a similarity ratio in [0,1] between two titles,
// computed as 1 - levenshtein/maxlen over the normalized forms. Two empty
// titles are not considered similar.
func TitleSimilarity(a, b string) float64 {
	na := NormalizeTitle(a)
	nb := NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}

	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// TitleContains reports whether one normalized title contains the other,
// which catches subtitle variants ("Foo" vs "Foo: A Survey"). Very short
// titles are excluded to avoid trivial containment.
func TitleContains(a, b string) bool {
	const minLen = 10

	na := NormalizeTitle(a)
	nb := NormalizeTitle(b)
	if len(na) < minLen || len(nb) < minLen {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}
