// Package matcher implements the token-based fuzzy similarity scoring used
// by the search merger to rank results in [0,100].
package matcher

import "strings"

// Similarity scores query against target in [0,100], case-insensitively:
// exact equality = 100, prefix match = 90, query-as-whole-token = 80,
// substring = 70, otherwise a Levenshtein-derived score capped at 60.
func Similarity(query, target string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(strings.TrimSpace(target))
	if q == "" || t == "" {
		return 0
	}
	if q == t {
		return 100
	}
	if strings.HasPrefix(t, q) {
		return 90
	}
	if containsToken(t, q) {
		return 80
	}
	if strings.Contains(t, q) {
		return 70
	}
	maxLen := len(q)
	if len(t) > maxLen {
		maxLen = len(t)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein(q, t)
	score := int((1 - float64(dist)/float64(maxLen)) * 60)
	if score < 0 {
		return 0
	}
	return score
}

func containsToken(text, token string) bool {
	for _, w := range tokenize(text) {
		if w == token {
			return true
		}
	}
	return false
}

// tokenize splits on whitespace, '-' and '_'.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '_'
	})
}

// Record is a minimal view of a searchable entity: a set of text fields to
// score a query's tokens against.
type Record struct {
	Fields   []string
	External bool
}

// ScoreRecord implements the tokenized record scoring from §4.4: split
// query into tokens, count tokens that either substring-match or achieve
// >=70 per-token similarity against any field token; score =
// matched/total*100, with external results getting +5 (capped at 100).
// A query consisting only of non-alphanumeric tokens scores by substring
// match only, never token similarity.
func ScoreRecord(query string, r Record) int {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	fieldText := strings.ToLower(strings.Join(r.Fields, " "))
	fieldTokens := tokenize(fieldText)

	matched := 0
	for _, qt := range qTokens {
		if qt == "" {
			continue
		}
		if !hasAlphanumeric(qt) {
			if strings.Contains(fieldText, qt) {
				matched++
			}
			continue
		}
		if strings.Contains(fieldText, qt) {
			matched++
			continue
		}
		best := 0
		for _, ft := range fieldTokens {
			if s := Similarity(qt, ft); s > best {
				best = s
			}
		}
		if best >= 70 {
			matched++
		}
	}
	score := matched * 100 / len(qTokens)
	if score == 100 && !exactFieldMatch(query, r.Fields) {
		// Every query token matched somewhere in the combined field text,
		// but no single field is itself an exact match for the whole
		// query: a field that merely contains the query as part of a
		// longer string (e.g. "The X Sessions" against query "X") must not
		// tie with a record whose field equals the query exactly, per §8
		// testable property 8.
		score = 95
	}
	if r.External {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// exactFieldMatch reports whether any of fields is, on its own, an exact
// (case-insensitive, trimmed) match for query.
func exactFieldMatch(query string, fields []string) bool {
	for _, f := range fields {
		if Similarity(query, f) == 100 {
			return true
		}
	}
	return false
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

// levenshtein computes the edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
