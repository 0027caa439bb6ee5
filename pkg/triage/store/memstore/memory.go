package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/internalerr"
	"github.com/cognicore/triage/pkg/triage/store"
)

// Store is an in-memory implementation of store.Store for tests and
// runs that should leave no history behind.
type Store struct {
	mu          sync.RWMutex
	runs        map[string]store.Run
	suggestions map[string][]store.Suggestion
	patterns    map[string][]store.Pattern
	updated     map[int64]ingest.Path
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		runs:        make(map[string]store.Run),
		suggestions: make(map[string][]store.Suggestion),
		patterns:    make(map[string][]store.Pattern),
		updated:     make(map[int64]ingest.Path),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// RecordRun inserts or replaces a run.
func (s *Store) RecordRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run id is empty", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSuggestions replaces the suggestions of runID. The run must exist.
func (s *Store) SaveSuggestions(ctx context.Context, runID string, list []store.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, internalerr.ErrNotFound)
	}
	seen := make(map[int64]struct{}, len(list))
	cp := make([]store.Suggestion, 0, len(list))
	for _, sg := range list {
		if _, dup := seen[sg.TicketID]; dup {
			continue
		}
		seen[sg.TicketID] = struct{}{}
		if sg.Confidence != nil {
			v := *sg.Confidence
			sg.Confidence = &v
		}
		cp = append(cp, sg)
	}
	s.suggestions[runID] = cp
	return nil
}

// Suggestions returns the suggestions of runID ordered by ticket id.
func (s *Store) Suggestions(ctx context.Context, runID string) ([]store.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]store.Suggestion(nil), s.suggestions[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out, nil
}

// SavePatterns replaces the patterns of runID. The run must exist.
func (s *Store) SavePatterns(ctx context.Context, runID string, patterns []store.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, internalerr.ErrNotFound)
	}
	cp := make([]store.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Token != "" {
			cp = append(cp, p)
		}
	}
	s.patterns[runID] = cp
	return nil
}

// Patterns returns the patterns of runID in saved order.
func (s *Store) Patterns(ctx context.Context, runID string) ([]store.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Pattern(nil), s.patterns[runID]...), nil
}

// MarkUpdated implements store.Store.
func (s *Store) MarkUpdated(ctx context.Context, ticketID int64, path ingest.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated[ticketID] = path
	return nil
}

// IsUpdated implements store.Store.
func (s *Store) IsUpdated(ctx context.Context, ticketID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.updated[ticketID]
	return ok, nil
}

// UpdatedCount implements store.Store.
func (s *Store) UpdatedCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.updated), nil
}

var _ store.Store = (*Store)(nil)
