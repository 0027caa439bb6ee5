package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/review"
	"github.com/cognicore/triage/pkg/triage/updates"
)

func runReview(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var path string
	var decisions []string
	fs := newFlagSet("review", "review --review-csv FILE [--decision approve,...]", stdout)
	g.add(fs)
	fs.StringVar(&path, "review-csv", "", "review worksheet written by fetch (required)")
	fs.StringSliceVar(&decisions, "decision", nil, "only show these decisions: approve, decline, skip, pending")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if path == "" {
		return fmt.Errorf("--review-csv is required")
	}
	_, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	rows, err := review.Load(path)
	if err != nil {
		return err
	}
	if len(decisions) > 0 {
		rows = review.Filter(rows, decisions...)
	}
	fmt.Fprintln(stdout, renderReview(rows))
	return nil
}

func renderReview(rows []review.Row) string {
	counts := make(map[string]int)
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		counts[r.Decision]++
		table = append(table, []string{
			strconv.FormatInt(r.TicketID, 10),
			r.Decision,
			r.Current.String(),
			r.Final.String(),
			r.Notes,
		})
	}
	summary := fmt.Sprintf("%s rows: %d approve, %d decline, %d skip, %d pending",
		humanize.Comma(int64(len(rows))), counts[review.Approve], counts[review.Decline], counts[review.Skip], counts[review.Pending])
	return titleStyle.Render(summary) + "\n" +
		renderTable([]string{"Ticket", "Decision", "Current", "Final", "Notes"}, table)
}

func runApply(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var (
		reviewCSV string
		ticketID  int64
		path      ingest.Path
		opts      updates.Options
		noStore   bool
	)
	fs := newFlagSet("apply", "apply (--review-csv FILE | --ticket-id ID --category ...) [flags]", stdout)
	g.add(fs)
	fs.StringVar(&reviewCSV, "review-csv", "", "apply approved rows from this review worksheet")
	fs.Int64Var(&ticketID, "ticket-id", 0, "update a single ticket instead of a worksheet")
	fs.StringVar(&path.Category, "category", "", "category for --ticket-id")
	fs.StringVar(&path.SubCategory, "sub-category", "", "sub-category for --ticket-id")
	fs.StringVar(&path.ItemCategory, "item-category", "", "item category for --ticket-id")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "log the planned updates without calling the API")
	fs.BoolVar(&opts.Force, "force", false, "update tickets even if they were updated before")
	fs.Int64SliceVar(&opts.ForceIDs, "force-ticket-id", nil, "update these tickets even if they were updated before")
	fs.BoolVar(&noStore, "no-store", false, "do not consult or record previously updated tickets")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if (reviewCSV == "") == (ticketID == 0) {
		return fmt.Errorf("exactly one of --review-csv or --ticket-id is required")
	}

	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	u := &updates.Updater{API: client}
	if !noStore {
		st, err := openStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()
		u.Tracker = st
	}

	if ticketID != 0 {
		t, changed, err := u.UpdateOne(ctx, ticketID, path, opts.DryRun)
		if err != nil {
			return err
		}
		switch {
		case opts.DryRun:
			fmt.Fprintf(stdout, "Ticket %d would be set to %s\n", ticketID, path.Normalize())
		case changed:
			fmt.Fprintf(stdout, "Ticket %d updated to %s\n", ticketID, t.Path())
		default:
			fmt.Fprintf(stdout, "Ticket %d already set to %s\n", ticketID, t.Path())
		}
		return nil
	}

	rows, err := review.Load(reviewCSV)
	if err != nil {
		return err
	}
	opts.Progress = func(done, total int) {
		if done%25 == 0 || done == total {
			slog.Info("applying review decisions", "done", done, "total", total)
		}
	}
	res, err := u.Apply(ctx, rows, opts)
	fmt.Fprintln(stdout, renderApply(res, opts.DryRun))
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d ticket updates failed", len(res.Errors))
	}
	return nil
}

func renderApply(res updates.Result, dryRun bool) string {
	rows := [][]string{
		{"Processed", humanize.Comma(int64(res.Processed))},
		{"Updated", humanize.Comma(int64(len(res.Updated)))},
		{"Skipped", humanize.Comma(int64(res.Skipped))},
		{"Failed", humanize.Comma(int64(len(res.Errors)))},
	}
	if dryRun {
		rows = append(rows, []string{"Planned (dry run)", humanize.Comma(int64(res.Planned))})
	}
	s := titleStyle.Render("Taxonomy updates") + "\n" + renderTable([]string{"Outcome", "Tickets"}, rows)
	for _, e := range res.Errors {
		s += "\n" + errorStyle.Render(e.Message)
	}
	return s
}
