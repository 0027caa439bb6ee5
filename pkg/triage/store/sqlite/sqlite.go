package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/internalerr"
	"github.com/cognicore/triage/pkg/triage/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens a SQLite database with WAL mode enabled and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *sqliteStore {
	return &sqliteStore{db: db, now: time.Now}
}

// migrate applies embedded SQL migrations via goose.
func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// RecordRun inserts or replaces a run summary.
func (s *sqliteStore) RecordRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run id is empty", internalerr.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, tickets, suggested, categories, sub_categories, items, report_path)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	started_at=excluded.started_at,
	finished_at=excluded.finished_at,
	tickets=excluded.tickets,
	suggested=excluded.suggested,
	categories=excluded.categories,
	sub_categories=excluded.sub_categories,
	items=excluded.items,
	report_path=excluded.report_path;
`,
		r.ID,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		r.Tickets,
		r.Suggested,
		r.Categories,
		r.SubCategories,
		r.Items,
		r.ReportPath,
	)
	return err
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, tickets, suggested, categories, sub_categories, items, report_path
FROM runs
ORDER BY started_at DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var r store.Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Tickets, &r.Suggested,
			&r.Categories, &r.SubCategories, &r.Items, &r.ReportPath); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveSuggestions replaces the suggestions stored for runID.
func (s *sqliteStore) SaveSuggestions(ctx context.Context, runID string, list []store.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE run_id=?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO suggestions (
	run_id, ticket_id,
	current_category, current_sub_category, current_item_category,
	suggested_category, suggested_sub_category, suggested_item_category,
	confidence, rationale, pattern, pattern_frequency
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, ticket_id) DO NOTHING;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sg := range list {
		var conf sql.NullFloat64
		if sg.Confidence != nil {
			conf = sql.NullFloat64{Float64: *sg.Confidence, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, runID, sg.TicketID,
			sg.Current.Category, sg.Current.SubCategory, sg.Current.ItemCategory,
			sg.Suggested.Category, sg.Suggested.SubCategory, sg.Suggested.ItemCategory,
			conf, sg.Rationale, sg.Pattern, sg.PatternFrequency); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Suggestions returns the suggestions of runID ordered by ticket id.
func (s *sqliteStore) Suggestions(ctx context.Context, runID string) ([]store.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ticket_id,
	current_category, current_sub_category, current_item_category,
	suggested_category, suggested_sub_category, suggested_item_category,
	confidence, rationale, pattern, pattern_frequency
FROM suggestions
WHERE run_id=?
ORDER BY ticket_id;
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Suggestion
	for rows.Next() {
		var sg store.Suggestion
		var conf sql.NullFloat64
		if err := rows.Scan(&sg.TicketID,
			&sg.Current.Category, &sg.Current.SubCategory, &sg.Current.ItemCategory,
			&sg.Suggested.Category, &sg.Suggested.SubCategory, &sg.Suggested.ItemCategory,
			&conf, &sg.Rationale, &sg.Pattern, &sg.PatternFrequency); err != nil {
			return nil, err
		}
		if conf.Valid {
			v := conf.Float64
			sg.Confidence = &v
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// SavePatterns replaces the ranked patterns stored for runID.
func (s *sqliteStore) SavePatterns(ctx context.Context, runID string, patterns []store.Pattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_patterns WHERE run_id=?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_patterns (run_id, position, token, count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, p := range patterns {
		if p.Token == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, runID, i, p.Token, p.Count); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Patterns returns the patterns of runID in their saved order.
func (s *sqliteStore) Patterns(ctx context.Context, runID string) ([]store.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, count FROM run_patterns WHERE run_id=? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Pattern
	for rows.Next() {
		var p store.Pattern
		if err := rows.Scan(&p.Token, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkUpdated records that ticketID was written with path.
func (s *sqliteStore) MarkUpdated(ctx context.Context, ticketID int64, path ingest.Path) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO updated_tickets (ticket_id, category, sub_category, item_category, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(ticket_id) DO UPDATE SET
	category=excluded.category,
	sub_category=excluded.sub_category,
	item_category=excluded.item_category,
	updated_at=excluded.updated_at;
`, ticketID, path.Category, path.SubCategory, path.ItemCategory, formatTime(s.now()))
	return err
}

// IsUpdated reports whether ticketID was marked updated.
func (s *sqliteStore) IsUpdated(ctx context.Context, ticketID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM updated_tickets WHERE ticket_id=?`, ticketID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdatedCount returns the number of tracked tickets.
func (s *sqliteStore) UpdatedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM updated_tickets`).Scan(&n)
	return n, err
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
