package store

import (
	"context"
	"time"

	"github.com/cognicore/triage/pkg/triage/ingest"
)

// Store persists analysis runs and the set of tickets already updated in
// Freshservice.
type Store interface {
	Close() error

	// Runs
	RecordRun(ctx context.Context, r Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	SaveSuggestions(ctx context.Context, runID string, s []Suggestion) error
	Suggestions(ctx context.Context, runID string) ([]Suggestion, error)
	SavePatterns(ctx context.Context, runID string, p []Pattern) error
	Patterns(ctx context.Context, runID string) ([]Pattern, error)

	// Update tracking
	MarkUpdated(ctx context.Context, ticketID int64, path ingest.Path) error
	IsUpdated(ctx context.Context, ticketID int64) (bool, error)
	UpdatedCount(ctx context.Context) (int, error)
}

// Run summarizes one fetch-and-analyze pass.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Tickets       int
	Suggested     int
	Categories    int
	SubCategories int
	Items         int
	ReportPath    string
}

// Suggestion is the stored outcome for one ticket in a run.
type Suggestion struct {
	TicketID         int64
	Current          ingest.Path
	Suggested        ingest.Path
	Confidence       *float64
	Rationale        string
	Pattern          string
	PatternFrequency int
}

// Pattern is a backfill candidate with its ticket count.
type Pattern struct {
	Token string
	Count int
}
