// Package analysis suggests taxonomy paths for tickets and surfaces
// recurring vocabulary that no taxonomy entry covers.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/stoplist"
	"github.com/cognicore/triage/pkg/triage/taxonomy"
)

// DefaultConfidence is attached to every row that matched at least one
// taxonomy entry.
const DefaultConfidence = 0.7

// Options configures an Analyzer. Zero values select the defaults; a nil
// Confidence means DefaultConfidence, while a pointer to 0 attaches 0.
type Options struct {
	Tokenizer           *ingest.Tokenizer
	MinPatternFrequency int
	Confidence          *float64
	Workers             int
}

// Row is the suggestion produced for one ticket. Empty strings mean the
// level has no value; Confidence is nil when nothing matched.
type Row struct {
	TicketID              int64
	Subject               string
	DescriptionText       string
	CreatedAt             time.Time
	CurrentCategory       string
	CurrentSubCategory    string
	CurrentItemCategory   string
	SuggestedCategory     string
	SuggestedSubCategory  string
	SuggestedItemCategory string
	Confidence            *float64
	Rationale             string
	PatternToken          string
	PatternFrequency      int
}

// Result holds the rows in ticket order, the batch frequency table and the
// ranked backfill candidates drawn from it.
type Result struct {
	Rows      []Row
	Frequency Frequency
	Patterns  []Pattern
}

// Analyzer matches tickets against one taxonomy.
type Analyzer struct {
	tok        *ingest.Tokenizer
	confidence float64
	minPattern int
	workers    int

	categories []taxonomy.Entry
	subs       []taxonomy.Bucket
	items      []taxonomy.Bucket
}

// New creates an analyzer for tax.
func New(tax *taxonomy.Taxonomy, opts Options) *Analyzer {
	a := &Analyzer{
		tok:        opts.Tokenizer,
		confidence: DefaultConfidence,
		minPattern: opts.MinPatternFrequency,
		workers:    opts.Workers,
		categories: tax.Categories(),
		subs:       tax.SubCategoryBuckets(),
		items:      tax.ItemBuckets(),
	}
	if a.tok == nil {
		a.tok = ingest.NewTokenizer(stoplist.Default(), ingest.DefaultKeywordMinLength)
	}
	if opts.Confidence != nil {
		a.confidence = *opts.Confidence
	}
	if a.minPattern <= 0 {
		a.minPattern = 1
	}
	return a
}

// Suggest picks the most specific matching taxonomy path for one ticket.
// Item-category buckets are tried first, then sub-category buckets if no
// sub-category was chosen, then categories if no category was chosen. An
// empty bucket level leaves that level unsuggested.
func (a *Analyzer) Suggest(t ingest.Ticket) Row {
	row := Row{
		TicketID:            t.ID,
		Subject:             t.Subject,
		DescriptionText:     t.DescriptionText,
		CreatedAt:           t.CreatedAt,
		CurrentCategory:     t.Category,
		CurrentSubCategory:  t.SubCategory,
		CurrentItemCategory: t.ItemCategory,
	}
	set := ingest.TokenSet(t.Text())
	var rationale []string

	for _, b := range a.items {
		e, ok := firstMatch(b.Entries, set)
		if !ok {
			continue
		}
		if b.Key.Category != "" {
			row.SuggestedCategory = b.Key.Category
		}
		if b.Key.SubCategory != "" {
			row.SuggestedSubCategory = b.Key.SubCategory
		}
		row.SuggestedItemCategory = e.Label
		rationale = append(rationale, describe("item category", e))
		break
	}

	if row.SuggestedSubCategory == "" {
		for _, b := range a.subs {
			e, ok := firstMatch(b.Entries, set)
			if !ok {
				continue
			}
			if b.Key.Category != "" && row.SuggestedCategory == "" {
				row.SuggestedCategory = b.Key.Category
			}
			row.SuggestedSubCategory = e.Label
			rationale = append(rationale, describe("sub-category", e))
			break
		}
	}

	if row.SuggestedCategory == "" {
		if e, ok := firstMatch(a.categories, set); ok {
			row.SuggestedCategory = e.Label
			rationale = append(rationale, describe("category", e))
		}
	}

	if len(rationale) > 0 {
		c := a.confidence
		row.Confidence = &c
		row.Rationale = strings.Join(rationale, "; ")
	}
	return row
}

// QualifyingTokens returns the ticket's distinct tokens that count toward
// the frequency table.
func (a *Analyzer) QualifyingTokens(t ingest.Ticket) []string {
	return a.tok.Qualifying(t.Text())
}

// Analyze suggests a path for every ticket, builds the frequency table and
// attaches the most frequent recurring token found in each ticket. Per-ticket
// work runs on up to Workers goroutines; the table is merged in ticket order
// afterwards, so output does not depend on scheduling.
func (a *Analyzer) Analyze(ctx context.Context, tickets []ingest.Ticket) (Result, error) {
	rows := make([]Row, len(tickets))
	sets := make([][]string, len(tickets))

	if a.workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.workers)
		for i := range tickets {
			if gctx.Err() != nil {
				break
			}
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows[i] = a.Suggest(tickets[i])
				sets[i] = a.QualifyingTokens(tickets[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, fmt.Errorf("analyze tickets: %w", err)
		}
	} else {
		for i, t := range tickets {
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("analyze tickets: %w", err)
			}
			rows[i] = a.Suggest(t)
			sets[i] = a.QualifyingTokens(t)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("analyze tickets: %w", err)
	}

	freq := make(Frequency)
	for _, s := range sets {
		freq.Merge(s)
	}

	candidates := freq.Ranked(a.minPattern)
	for i := range rows {
		if p, ok := firstPattern(tickets[i].Text(), candidates); ok {
			rows[i].PatternToken = p.Token
			rows[i].PatternFrequency = p.Count
		}
	}

	return Result{Rows: rows, Frequency: freq, Patterns: candidates}, nil
}

// firstMatch returns the first entry whose tokens all occur in set. Entries
// without tokens never match.
func firstMatch(entries []taxonomy.Entry, set map[string]struct{}) (taxonomy.Entry, bool) {
	for _, e := range entries {
		if len(e.Tokens) == 0 {
			continue
		}
		matched := true
		for _, tok := range e.Tokens {
			if _, ok := set[tok]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return e, true
		}
	}
	return taxonomy.Entry{}, false
}

func describe(level string, e taxonomy.Entry) string {
	return fmt.Sprintf("%s %q matched keywords: %s", level, e.Label, strings.Join(e.Tokens, ", "))
}
