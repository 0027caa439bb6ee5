package analysis

import (
	"sort"
	"strings"
)

// Frequency counts, per qualifying token, the number of distinct tickets
// whose text contains it.
type Frequency map[string]int

// Merge adds one ticket's qualifying tokens. Callers pass each ticket's set
// exactly once; duplicates inside tokens are counted once.
func (f Frequency) Merge(tokens []string) {
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		f[tok]++
	}
}

// Pattern is one recurring token with its ticket count.
type Pattern struct {
	Token string
	Count int
}

// Ranked returns tokens seen in at least min tickets, most frequent first,
// ties broken alphabetically.
func (f Frequency) Ranked(min int) []Pattern {
	out := make([]Pattern, 0, len(f))
	for tok, n := range f {
		if n < min {
			continue
		}
		out = append(out, Pattern{Token: tok, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// firstPattern returns the first candidate occurring anywhere in text,
// ignoring case.
func firstPattern(text string, candidates []Pattern) (Pattern, bool) {
	lower := strings.ToLower(text)
	for _, p := range candidates {
		if strings.Contains(lower, strings.ToLower(p.Token)) {
			return p, true
		}
	}
	return Pattern{}, false
}
