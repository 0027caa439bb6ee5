package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/ingest"
)

func runMissing(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var (
		days        int
		output      string
		since       string
		ticketsFile string
	)
	fs := newFlagSet("missing", "missing [--days N] [--output table|csv|json]", stdout)
	g.add(fs)
	fs.IntVar(&days, "days", 7, "list tickets created within this many days")
	fs.StringVar(&output, "output", "table", "output format: table, csv or json")
	fs.StringVar(&since, "updated-since", "", "only fetch tickets updated since this RFC 3339 time, date or duration")
	fs.StringVar(&ticketsFile, "tickets-file", "", "read tickets from a JSON or JSONL export instead of the API")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	output = strings.ToLower(output)
	switch output {
	case "table", "csv", "json":
	default:
		return fmt.Errorf("unknown --output %q (want table, csv or json)", output)
	}
	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	now := time.Now()
	updatedSince, err := parseSince(since, now)
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

	cutoff := now.AddDate(0, 0, -max(days, 1)).UTC()
	rows := missingCategory(tickets, cutoff)
	slog.Info("tickets without a category", "count", len(rows), "created_since", cutoff.Format(time.RFC3339))
	return writeMissing(stdout, rows, output)
}

// missingCategory returns the tickets created at or after cutoff whose
// category is blank, newest first. Tickets without a creation time are
// left out.
func missingCategory(tickets []ingest.Ticket, cutoff time.Time) []ingest.Ticket {
	var out []ingest.Ticket
	for _, t := range tickets {
		if t.CreatedAt.IsZero() || t.CreatedAt.Before(cutoff) {
			continue
		}
		if strings.TrimSpace(t.Category) != "" {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

type missingRow struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Subject   string `json:"subject"`
}

func writeMissing(w io.Writer, tickets []ingest.Ticket, format string) error {
	rows := make([]missingRow, len(tickets))
	for i, t := range tickets {
		rows[i] = missingRow{ID: t.ID, CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339), Subject: t.Subject}
	}

	switch format {
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"id", "created_at", "subject"})
		for _, r := range rows {
			_ = cw.Write([]string{strconv.FormatInt(r.ID, 10), r.CreatedAt, r.Subject})
		}
		cw.Flush()
		return cw.Error()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No tickets found.")
		return err
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{strconv.FormatInt(r.ID, 10), r.CreatedAt, r.Subject}
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "Created (UTC)", "Subject"}, table))
	_, err := fmt.Fprintln(w, titleStyle.Render("Total: "+humanize.Comma(int64(len(rows)))))
	return err
}
