package stoplist

import (
	"sort"
	"strings"
)

// defaults are English function words of four or more letters plus the
// greetings and sign-offs that pad most helpdesk tickets.
var defaults = []string{
	"about", "above", "after", "again", "against", "also", "been", "before",
	"being", "below", "between", "both", "cannot", "could", "does", "doing",
	"down", "during", "each", "from", "further", "have", "having", "here",
	"into", "just", "more", "most", "only", "other", "ought", "over", "same",
	"should", "some", "such", "than", "that", "their", "theirs", "them",
	"then", "there", "these", "they", "this", "those", "through", "under",
	"until", "very", "were", "what", "when", "where", "which", "while", "whom",
	"will", "with", "would", "your", "yours", "yourself",
	"hello", "please", "thank", "thanks", "regards", "kind", "best", "dear",
	"team", "sent", "iphone",
}

// Default returns a copy of the built-in stop words.
func Default() []string {
	return append([]string(nil), defaults...)
}

// Reason explains why a token is a stopword
type Reason struct {
	Builtin   bool    // part of the built-in list
	Config    bool    // added from configuration
	HighDF    bool    // appears in most tickets
	DFPercent float64 // share of tickets containing the token
}

// Manager holds the active stop word set.
type Manager struct {
	stops map[string]Reason
}

// NewManager creates a manager seeded with the built-in list and extra
// configured words.
func NewManager(extra []string) *Manager {
	m := &Manager{stops: make(map[string]Reason, len(defaults)+len(extra))}
	for _, s := range defaults {
		m.stops[s] = Reason{Builtin: true}
	}
	for _, s := range extra {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		r := m.stops[s]
		r.Config = true
		m.stops[s] = r
	}
	return m
}

// IsStop checks if a token is a stopword
func (m *Manager) IsStop(token string) bool {
	_, ok := m.stops[token]
	return ok
}

// Add adds a token to the stoplist with a reason
func (m *Manager) Add(token string, reason Reason) {
	m.stops[strings.ToLower(token)] = reason
}

// Remove removes a token from the stoplist
func (m *Manager) Remove(token string) {
	delete(m.stops, strings.ToLower(token))
}

// All returns every stop word in sorted order.
func (m *Manager) All() []string {
	result := make([]string, 0, len(m.stops))
	for s := range m.stops {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// Candidate is a frequent token that is probably boilerplate.
type Candidate struct {
	Token  string
	Reason Reason
}

// SuggestCandidates returns tokens present in more than dfPercent of the
// tickets that are not already stop words. counts maps a token to the number
// of tickets containing it. Results are ordered by share descending, then
// token.
func (m *Manager) SuggestCandidates(counts map[string]int, totalTickets int, dfPercent float64) []Candidate {
	if totalTickets <= 0 {
		return nil
	}
	if dfPercent <= 0 {
		dfPercent = 60
	}

	var candidates []Candidate
	for tok, n := range counts {
		if m.IsStop(tok) {
			continue
		}
		pct := float64(n) * 100 / float64(totalTickets)
		if pct <= dfPercent {
			continue
		}
		candidates = append(candidates, Candidate{
			Token:  tok,
			Reason: Reason{HighDF: true, DFPercent: pct},
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Reason.DFPercent != candidates[j].Reason.DFPercent {
			return candidates[i].Reason.DFPercent > candidates[j].Reason.DFPercent
		}
		return candidates[i].Token < candidates[j].Token
	})
	return candidates
}
