package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/cognicore/triage/pkg/triage"
	"github.com/cognicore/triage/pkg/triage/analysis"
	"github.com/cognicore/triage/pkg/triage/config"
	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/report"
	"github.com/cognicore/triage/pkg/triage/stoplist"
)

// fetchOptions are shared by fetch and schedule.
type fetchOptions struct {
	outputDir    string
	reportName   string
	skipReview   bool
	ticketsFile  string
	fieldsFile   string
	noStore      bool
	workers      int
	maxPatterns  int
	updatedSince time.Time
}

func (o *fetchOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.outputDir, "output-dir", "", "directory for reports (default: reporting.output_directory)")
	fs.StringVar(&o.reportName, "report-name", "", "analysis CSV file name (default: reporting.report_filename)")
	fs.BoolVar(&o.skipReview, "skip-review-template", false, "do not write the <report>_review.csv worksheet")
	fs.StringVar(&o.ticketsFile, "tickets-file", "", "read tickets from a JSON or JSONL export instead of the API")
	fs.StringVar(&o.fieldsFile, "fields-file", "", "read ticket form fields from a JSON or YAML file instead of the API")
	fs.BoolVar(&o.noStore, "no-store", false, "do not record the run in the history database")
	fs.IntVar(&o.workers, "workers", 0, "parallel analysis workers (default: analysis.workers)")
	fs.IntVar(&o.maxPatterns, "top", 10, "recurring keywords to show in the summary")
}

// fetchOutcome is what one fetch-and-analyze pass produced.
type fetchOutcome struct {
	Result       triage.RunResult
	ReportPath   string
	ReviewPath   string
	PatternsPath string
	Stopwords    []stoplist.Candidate
}

func runFetch(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var opts fetchOptions
	var since string
	fs := newFlagSet("fetch", "fetch [flags]", stdout)
	g.add(fs)
	opts.addFlags(fs)
	fs.StringVar(&since, "updated-since", "", "only tickets updated since this RFC 3339 time, date or duration (e.g. 72h)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	opts.updatedSince, err = parseSince(since, time.Now())
	if err != nil {
		return err
	}

	out, err := fetchAndAnalyze(ctx, cfg, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, renderRunSummary(out, opts.maxPatterns))
	return nil
}

// fetchAndAnalyze runs the engine and writes the reports.
func fetchAndAnalyze(ctx context.Context, cfg config.Config, opts fetchOptions) (fetchOutcome, error) {
	comps, err := cfg.Components()
	if err != nil {
		return fetchOutcome{}, err
	}
	src, err := newSource(cfg, opts.ticketsFile, opts.fieldsFile, true)
	if err != nil {
		return fetchOutcome{}, err
	}
	st, err := openStore(ctx, cfg, opts.noStore)
	if err != nil {
		return fetchOutcome{}, err
	}

	workers := cfg.Analysis.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	eng := triage.New(triage.Options{
		Source:    src,
		Store:     st,
		Tokenizer: comps.Tokenizer,
		Analysis: analysis.Options{
			MinPatternFrequency: cfg.Analysis.MinKeywordFrequency,
			Confidence:          cfg.Analysis.Confidence,
			Workers:             workers,
		},
		LabelMinLength: cfg.Analysis.LabelMinLength,
	})
	defer eng.Close()

	res, err := eng.Run(ctx, triage.RunRequest{
		Query:    freshservice.TicketQuery{UpdatedSince: opts.updatedSince},
		Progress: logProgress("fetching tickets"),
	})
	if err != nil {
		return fetchOutcome{}, err
	}
	out := fetchOutcome{Result: res}

	w := report.Writer{Dir: pick(opts.outputDir, cfg.Reporting.OutputDirectory), Name: pick(opts.reportName, cfg.Reporting.ReportFilename)}
	if out.ReportPath, err = w.WriteAnalysis(res.Analysis.Rows); err != nil {
		return out, err
	}
	if !opts.skipReview {
		if out.ReviewPath, err = w.CreateReviewTemplate(out.ReportPath); err != nil {
			return out, err
		}
	}
	if out.PatternsPath, err = w.WritePatterns(res.Analysis.Patterns); err != nil {
		return out, err
	}
	if err := eng.AttachReport(ctx, res, out.ReportPath); err != nil {
		return out, err
	}

	out.Stopwords = comps.Stoplist.SuggestCandidates(res.Analysis.Frequency, len(res.Tickets), 0)
	for _, c := range out.Stopwords {
		slog.Info("frequent keyword may be boilerplate; consider analysis.stop_words",
			"token", c.Token, "ticket_share", fmt.Sprintf("%.0f%%", c.Reason.DFPercent))
	}
	return out, nil
}

func renderRunSummary(out fetchOutcome, top int) string {
	res := out.Result
	rows := [][]string{
		{"Run", res.RunID},
		{"Tickets analyzed", humanize.Comma(int64(len(res.Tickets)))},
		{"With suggestions", humanize.Comma(int64(res.Suggested()))},
	}
	if res.Taxonomy != nil {
		st := res.Taxonomy.Stats()
		rows = append(rows, []string{"Taxonomy", fmt.Sprintf("%s categories, %s sub-categories, %s items",
			humanize.Comma(int64(st.Categories)), humanize.Comma(int64(st.SubCategories)), humanize.Comma(int64(st.Items)))})
	}
	rows = append(rows, []string{"Report", out.ReportPath})
	if out.ReviewPath != "" {
		rows = append(rows, []string{"Review worksheet", out.ReviewPath})
	}
	rows = append(rows, []string{"Keyword patterns", out.PatternsPath})

	s := titleStyle.Render("Ticket analysis") + "\n" + renderTable([]string{"Metric", "Value"}, rows)
	if patterns := topPatterns(res.Analysis.Patterns, top); len(patterns) > 0 {
		s += "\n" + titleStyle.Render("Recurring keywords") + "\n" + renderTable([]string{"Keyword", "Tickets"}, patterns)
	}
	return s
}

func topPatterns(patterns []analysis.Pattern, n int) [][]string {
	if n <= 0 {
		return nil
	}
	if len(patterns) > n {
		patterns = patterns[:n]
	}
	rows := make([][]string, len(patterns))
	for i, p := range patterns {
		rows[i] = []string{p.Token, humanize.Comma(int64(p.Count))}
	}
	return rows
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
