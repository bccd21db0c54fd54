package grading

import (
	"strings"
	"unicode"
)

// normalize does simple casefolding and trims punctuation/extra spaces.
func normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range []rune(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r):
			// skip
		default:
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, unicode.ToLower(r))
		}
	}
	return string(out)
}

// tokenSet splits already-normalized text into its set of terms.
func tokenSet(norm string) map[string]struct{} {
	fields := strings.Fields(norm)
	m := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		m[f] = struct{}{}
	}
	return m
}

func containsToken(s string, r rune) bool {
	return strings.ContainsRune(s, r)
}

// containsPhrase reports whether phrase occurs in text on token
// boundaries. Both arguments must be normalized.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		leftOK := start == 0 || text[start-1] == ' '
		rightOK := end == len(text) || text[end] == ' '
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

// termOverlap is the built-in degraded similarity measure: the fraction
// of the reference's terms present in the text (bag of terms, 0.0-1.0).
func termOverlap(text, reference string) float64 {
	refTerms := tokenSet(normalize(reference))
	if len(refTerms) == 0 {
		return 0
	}
	terms := tokenSet(normalize(text))
	hit := 0
	for t := range refTerms {
		if _, ok := terms[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(refTerms))
}

// levenshtein computes edit distance (insertion, deletion, substitution cost 1).
func levenshtein(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	n, m := len(ar), len(br)
	if n == 0 {
		return m
	}
	if m == 0 {
		return n
	}
	dp := make([]int, m+1)
	for j := 0; j <= m; j++ {
		dp[j] = j
	}
	for i := 1; i <= n; i++ {
		prev := dp[0]
		dp[0] = i
		for j := 1; j <= m; j++ {
			tmp := dp[j]
			cost := 0
			if ar[i-1] != br[j-1] {
				cost = 1
			}
			ins := dp[j] + 1
			del := dp[j-1] + 1
			sub := prev + cost
			dp[j] = min3(ins, del, sub)
			prev = tmp
		}
	}
	return dp[m]
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
