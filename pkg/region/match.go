// Package region resolves free-text Korean region names against the fixed
// gazetteers the knowledge base is tagged with.
package region

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// SimilarityCutoff is the minimum edit-distance ratio a fuzzy candidate needs.
const SimilarityCutoff = 0.6

// Match returns up to maxResults gazetteer entries for input.
//
// Entries that contain the input, or are contained by it, win and keep
// gazetteer order. Only when none do is the whole gazetteer ranked by
// edit-distance ratio. A nil result means the caller should search without a
// region filter.
func Match(input string, gazetteer []string, maxResults int) []string {
	in := normalize(input)
	if in == "" || len(gazetteer) == 0 || maxResults <= 0 {
		return nil
	}

	var matched []string
	for _, entry := range gazetteer {
		e := normalize(entry)
		if e == "" {
			continue
		}
		if strings.Contains(e, in) || strings.Contains(in, e) {
			matched = append(matched, entry)
			if len(matched) >= maxResults {
				return matched
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return closest(in, gazetteer, maxResults)
}

type scored struct {
	entry string
	ratio float64
	order int
}

func closest(in string, gazetteer []string, maxResults int) []string {
	candidates := make([]scored, 0, len(gazetteer))
	for i, entry := range gazetteer {
		e := normalize(entry)
		if e == "" {
			continue
		}
		if r := Ratio(in, e); r >= SimilarityCutoff {
			candidates = append(candidates, scored{entry: entry, ratio: r, order: i})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ratio != candidates[j].ratio {
			return candidates[i].ratio > candidates[j].ratio
		}
		return candidates[i].order < candidates[j].order
	})
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}

// Ratio is 1 - distance/longest, computed over runes. Two empty strings are
// identical.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// normalize composes Hangul and drops all whitespace, so "강남 구" and
// "강남구" compare equal.
func normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), "")
}
