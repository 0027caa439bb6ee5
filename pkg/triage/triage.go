package triage

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/triage/pkg/triage/analysis"
	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/store"
	"github.com/cognicore/triage/pkg/triage/taxonomy"
)

// Source provides form fields and tickets, usually a *freshservice.Client.
type Source interface {
	TicketFields(ctx context.Context) ([]taxonomy.Field, error)
	Tickets(ctx context.Context, q freshservice.TicketQuery, progress freshservice.Progress) ([]ingest.Ticket, error)
}

// Engine is the main triage facade: it builds the taxonomy, analyzes a ticket
// batch and records the run.
type Engine struct {
	source         Source
	store          store.Store
	analysis       analysis.Options
	labelMinLength int
	now            func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Options configures an Engine. Store may be nil to skip run history.
type Options struct {
	Source         Source
	Store          store.Store
	Tokenizer      *ingest.Tokenizer
	Analysis       analysis.Options
	LabelMinLength int
	Now            func() time.Time
}

// New creates an Engine with the given dependencies. Tokenizer, when set,
// overrides Analysis.Tokenizer.
func New(opts Options) *Engine {
	a := opts.Analysis
	if opts.Tokenizer != nil {
		a.Tokenizer = opts.Tokenizer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		source:         opts.Source,
		store:          opts.Store,
		analysis:       a,
		labelMinLength: opts.LabelMinLength,
		now:            now,
		entropy:        ulid.Monotonic(rand.Reader, 0),
	}
}

// Close releases the store.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// RunRequest selects the tickets to analyze.
type RunRequest struct {
	Query    freshservice.TicketQuery
	Progress freshservice.Progress
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Taxonomy   *taxonomy.Taxonomy
	Tickets    []ingest.Ticket
	Analysis   analysis.Result
}

// Suggested counts rows with at least one suggested level.
func (r RunResult) Suggested() int {
	n := 0
	for _, row := range r.Analysis.Rows {
		if row.Confidence != nil {
			n++
		}
	}
	return n
}

// Taxonomy fetches the form fields and builds the taxonomy.
func (e *Engine) Taxonomy(ctx context.Context) (*taxonomy.Taxonomy, error) {
	fields, err := e.source.TicketFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch ticket fields: %w", err)
	}
	var opts []taxonomy.Option
	if e.labelMinLength > 0 {
		opts = append(opts, taxonomy.WithLabelMinLength(e.labelMinLength))
	}
	tax := taxonomy.Build(fields, opts...)
	st := tax.Stats()
	slog.Info("taxonomy built", "categories", st.Categories, "sub_categories", st.SubCategories,
		"item_buckets", st.ItemBuckets, "items", st.Items)
	return tax, nil
}

// Run fetches fields and tickets, analyzes the batch and, when a store is
// configured, records the run with its suggestions and patterns.
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	started := e.now()
	res := RunResult{RunID: e.newRunID(started), StartedAt: started}
	log := slog.With("run_id", res.RunID)

	tax, err := e.Taxonomy(ctx)
	if err != nil {
		return res, err
	}
	res.Taxonomy = tax

	tickets, err := e.source.Tickets(ctx, req.Query, req.Progress)
	if err != nil {
		return res, fmt.Errorf("fetch tickets: %w", err)
	}
	res.Tickets = tickets
	log.Info("tickets fetched", "count", len(tickets))

	result, err := analysis.New(tax, e.analysis).Analyze(ctx, tickets)
	if err != nil {
		return res, err
	}
	res.Analysis = result
	res.FinishedAt = e.now()
	log.Info("analysis complete", "tickets", len(tickets), "suggested", res.Suggested(),
		"patterns", len(result.Patterns))

	if err := e.record(ctx, res, ""); err != nil {
		return res, err
	}
	return res, nil
}

// AttachReport stores the report path on an already recorded run.
func (e *Engine) AttachReport(ctx context.Context, res RunResult, path string) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.RecordRun(ctx, runRecord(res, path)); err != nil {
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}
	return nil
}

// History lists recorded runs, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]store.Run, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListRuns(ctx, limit)
}

func (e *Engine) record(ctx context.Context, res RunResult, reportPath string) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.RecordRun(ctx, runRecord(res, reportPath)); err != nil {
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}

	suggestions := make([]store.Suggestion, 0, len(res.Analysis.Rows))
	for _, r := range res.Analysis.Rows {
		suggestions = append(suggestions, store.Suggestion{
			TicketID:         r.TicketID,
			Current:          ingest.Path{Category: r.CurrentCategory, SubCategory: r.CurrentSubCategory, ItemCategory: r.CurrentItemCategory},
			Suggested:        ingest.Path{Category: r.SuggestedCategory, SubCategory: r.SuggestedSubCategory, ItemCategory: r.SuggestedItemCategory},
			Confidence:       r.Confidence,
			Rationale:        r.Rationale,
			Pattern:          r.PatternToken,
			PatternFrequency: r.PatternFrequency,
		})
	}
	if err := e.store.SaveSuggestions(ctx, res.RunID, suggestions); err != nil {
		return fmt.Errorf("save suggestions for run %s: %w", res.RunID, err)
	}

	patterns := make([]store.Pattern, len(res.Analysis.Patterns))
	for i, p := range res.Analysis.Patterns {
		patterns[i] = store.Pattern{Token: p.Token, Count: p.Count}
	}
	if err := e.store.SavePatterns(ctx, res.RunID, patterns); err != nil {
		return fmt.Errorf("save patterns for run %s: %w", res.RunID, err)
	}
	return nil
}

func runRecord(res RunResult, reportPath string) store.Run {
	r := store.Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Tickets:    len(res.Tickets),
		Suggested:  res.Suggested(),
		ReportPath: reportPath,
	}
	if res.Taxonomy != nil {
		st := res.Taxonomy.Stats()
		r.Categories = st.Categories
		r.SubCategories = st.SubCategories
		r.Items = st.Items
	}
	return r
}

func (e *Engine) newRunID(t time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), e.entropy).String()
}
