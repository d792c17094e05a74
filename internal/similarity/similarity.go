// Package similarity provides the two stateless scoring functions used by the
// historical index: token-set Jaccard similarity for few-shot retrieval and a
// normalized whole-string ratio for the paraphrase fast path.
package similarity

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords excluded from keyword sets. Matches the index document format, so
// changing it invalidates stored keywords.
var stopwords = map[string]bool{
	"the": true, "is": true, "a": true, "an": true, "of": true, "and": true,
	"or": true, "to": true, "in": true, "on": true, "for": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "about": true,
	"what": true, "which": true, "who": true, "how": true, "much": true,
	"many": true, "when": true, "where": true, "why": true, "do": true,
	"does": true, "did": true, "his": true, "her": true, "their": true,
	"its": true, "this": true, "that": true, "these": true, "those": true,
}

// Keywords tokenizes text into lowercase alphanumeric tokens with stopwords
// removed. The result is de-duplicated with first-seen order preserved.
func Keywords(text string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]bool, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}
	return keywords
}

// Jaccard computes |A∩B| / |A∪B| over two keyword lists treated as sets.
// Returns 0 if either set is empty.
func Jaccard(a, b []string) float64 {
	sa := toSet(a)
	sb := toSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range sa {
		if sb[tok] {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}

// Ratio computes a normalized whole-string similarity between a and b.
// Both strings are lowercased and internal whitespace is collapsed before
// comparison. The result is symmetric, lies in [0,1], and equals 1.0 only
// when the normalized strings are identical.
func Ratio(a, b string) float64 {
	na := normalize(a)
	nb := normalize(b)
	if na == nb {
		return 1.0
	}
	longest := max(len(na), len(nb))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(na, nb))/float64(longest)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
