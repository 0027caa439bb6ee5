package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cognicore/triage/internal/ticketfile"
	"github.com/cognicore/triage/pkg/triage/config"
	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/store"
	"github.com/cognicore/triage/pkg/triage/store/memstore"
	"github.com/cognicore/triage/pkg/triage/store/sqlite"
	"github.com/cognicore/triage/pkg/triage/taxonomy"
)

// source reads fields and tickets from files when paths are given and from
// the API otherwise.
type source struct {
	files ticketfile.Source
	api   *freshservice.Client
}

func (s source) TicketFields(ctx context.Context) ([]taxonomy.Field, error) {
	if s.files.FieldsPath != "" {
		return s.files.TicketFields(ctx)
	}
	return s.api.TicketFields(ctx)
}

func (s source) Tickets(ctx context.Context, q freshservice.TicketQuery, progress freshservice.Progress) ([]ingest.Ticket, error) {
	if s.files.TicketsPath != "" {
		return s.files.Tickets(ctx, q, progress)
	}
	return s.api.Tickets(ctx, q, progress)
}

// newSource builds a source. The API client is only created, and the API
// settings only required, when some input has no file.
func newSource(cfg config.Config, ticketsFile, fieldsFile string, needFields bool) (source, error) {
	s := source{files: ticketfile.Source{TicketsPath: ticketsFile, FieldsPath: fieldsFile}}
	if ticketsFile != "" && (fieldsFile != "" || !needFields) {
		return s, nil
	}
	client, err := newClient(cfg)
	if err != nil {
		return source{}, err
	}
	s.api = client
	return s, nil
}

func newClient(cfg config.Config) (*freshservice.Client, error) {
	if err := cfg.RequireAPI(); err != nil {
		return nil, err
	}
	opts := []freshservice.Option{
		freshservice.WithTimeout(time.Duration(cfg.Freshservice.TimeoutSeconds) * time.Second),
		freshservice.WithPerPage(cfg.Freshservice.PerPage),
	}
	if cfg.Freshservice.RateLimitPerMinute > 0 {
		opts = append(opts, freshservice.WithRateLimit(cfg.Freshservice.RateLimitPerMinute))
	}
	return freshservice.New(cfg.Freshservice.BaseURL, cfg.Freshservice.APIKey, opts...), nil
}

// openStore opens the sqlite history, or an in-memory store when disabled.
func openStore(ctx context.Context, cfg config.Config, disabled bool) (store.Store, error) {
	if disabled {
		return memstore.New(), nil
	}
	st, err := sqlite.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

// parseSince accepts an RFC 3339 timestamp, a YYYY-MM-DD date (UTC) or a
// duration such as 72h counted back from now. Empty means no filter.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid --updated-since %q: want RFC 3339, YYYY-MM-DD or a duration like 72h", s)
}

func logProgress(label string) freshservice.Progress {
	return func(done, total int) {
		if total < 0 {
			slog.Info(label, "done", done)
			return
		}
		slog.Info(label, "done", done, "total", total)
	}
}
