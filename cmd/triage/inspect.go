package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/triage/pkg/triage"
	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/store"
)

func runTaxonomy(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var fieldsFile string
	fs := newFlagSet("taxonomy", "taxonomy [--fields-file FILE]", stdout)
	g.add(fs)
	fs.StringVar(&fieldsFile, "fields-file", "", "read ticket form fields from a JSON or YAML file instead of the API")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	var src source
	if fieldsFile != "" {
		src.files.FieldsPath = fieldsFile
	} else if src.api, err = newClient(cfg); err != nil {
		return err
	}

	tax, err := triage.New(triage.Options{Source: src, LabelMinLength: cfg.Analysis.LabelMinLength}).Taxonomy(ctx)
	if err != nil {
		return err
	}
	st := tax.Stats()
	fmt.Fprintln(stdout, titleStyle.Render(fmt.Sprintf("%d categories, %d sub-categories, %d items",
		st.Categories, st.SubCategories, st.Items)))
	for _, line := range tax.Lines() {
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func runSummarize(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var ticketsFile, since string
	fs := newFlagSet("summarize", "summarize [--updated-since WHEN] [--tickets-file FILE]", stdout)
	g.add(fs)
	fs.StringVar(&ticketsFile, "tickets-file", "", "read tickets from a JSON or JSONL export instead of the API")
	fs.StringVar(&since, "updated-since", "", "only tickets updated since this RFC 3339 time, date or duration (e.g. 72h)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	updatedSince, err := parseSince(since, time.Now())
	if err != nil {
		return err
	}
	src, err := newSource(cfg, ticketsFile, "", false)
	if err != nil {
		return err
	}
	tickets, err := src.Tickets(ctx, freshservice.TicketQuery{UpdatedSince: updatedSince}, logProgress("fetching tickets"))
	if err != nil {
		return err
	}

	counts := categoryCounts(tickets)
	rows := make([][]string, len(counts))
	for i, c := range counts {
		rows[i] = []string{c.Category, humanize.Comma(int64(c.Tickets)), fmt.Sprintf("%.1f%%", c.Share)}
	}
	fmt.Fprintln(stdout, titleStyle.Render(humanize.Comma(int64(len(tickets)))+" tickets"))
	fmt.Fprintln(stdout, renderTable([]string{"Category", "Tickets", "Share"}, rows))
	return nil
}

type categoryCount struct {
	Category string
	Tickets  int
	Share    float64
}

// categoryCounts groups tickets by current category, most common first.
// Tickets without a category are counted under "<no category>".
func categoryCounts(tickets []ingest.Ticket) []categoryCount {
	byName := make(map[string]int)
	for _, t := range tickets {
		name := ingest.Path{Category: t.Category}.Normalize().String()
		byName[name]++
	}
	out := make([]categoryCount, 0, len(byName))
	for name, n := range byName {
		out = append(out, categoryCount{Category: name, Tickets: n, Share: float64(n) * 100 / float64(len(tickets))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tickets != out[j].Tickets {
			return out[i].Tickets > out[j].Tickets
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func runHistory(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var limit int
	fs := newFlagSet("history", "history [--limit N]", stdout)
	g.add(fs)
	fs.IntVar(&limit, "limit", 10, "number of runs to show (0 for all)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	updated, err := st.UpdatedCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, renderHistory(runs, updated, time.Now()))
	return nil
}

func renderHistory(runs []store.Run, updated int, now time.Time) string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.ID,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			humanize.Comma(int64(r.Tickets)),
			humanize.Comma(int64(r.Suggested)),
			r.ReportPath,
		}
	}
	title := fmt.Sprintf("%d runs, %s tickets updated so far", len(runs), humanize.Comma(int64(updated)))
	return titleStyle.Render(title) + "\n" +
		renderTable([]string{"Run", "Started", "Tickets", "Suggested", "Report"}, rows)
}
