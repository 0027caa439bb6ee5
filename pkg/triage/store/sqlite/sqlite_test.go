package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/internalerr"
	"github.com/cognicore/triage/pkg/triage/store"
)

func newMockStore(t *testing.T) (*sqliteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newStore(db), mock
}

func TestRecordRunArgs(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	run := store.Run{
		ID:            "01HZX0000000000000000000AA",
		StartedAt:     started,
		FinishedAt:    started.Add(90 * time.Second),
		Tickets:       12,
		Suggested:     9,
		Categories:    3,
		SubCategories: 5,
		Items:         7,
		ReportPath:    "reports/ticket_analysis.csv",
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			run.ID,
			"2024-06-01T08:00:00.000000000Z",
			"2024-06-01T08:01:30.000000000Z",
			12, 9, 3, 5, 7,
			run.ReportPath,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.RecordRun(context.Background(), run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestRecordRunRequiresID(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.RecordRun(context.Background(), store.Run{})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSaveSuggestionsTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	conf := 0.7

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM suggestions").WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO suggestions")
	prep.ExpectExec().
		WithArgs("run-1", int64(5),
			"Other", "", "",
			"Access", "Password Reset", "",
			0.7, "rationale", "locked", 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("run-1", int64(6),
			"", "", "",
			"", "", "",
			nil, "", "", 0).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.SaveSuggestions(context.Background(), "run-1", []store.Suggestion{
		{
			TicketID:         5,
			Current:          ingest.Path{Category: "Other"},
			Suggested:        ingest.Path{Category: "Access", SubCategory: "Password Reset"},
			Confidence:       &conf,
			Rationale:        "rationale",
			Pattern:          "locked",
			PatternFrequency: 3,
		},
		{TicketID: 6},
	})
	if err != nil {
		t.Fatalf("SaveSuggestions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestSavePatternsRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM run_patterns").WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO run_patterns")
	prep.ExpectExec().WithArgs("run-1", 0, "printer", 4).WillReturnError(boom)
	mock.ExpectRollback()

	err := s.SavePatterns(context.Background(), "run-1", []store.Pattern{{Token: "printer", Count: 4}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestIsUpdatedQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT 1 FROM updated_tickets").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM updated_tickets").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ok, err := s.IsUpdated(context.Background(), 7)
	if err != nil || !ok {
		t.Fatalf("IsUpdated(7) = %v, %v", ok, err)
	}
	ok, err = s.IsUpdated(context.Background(), 8)
	if err != nil || ok {
		t.Fatalf("IsUpdated(8) = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestMarkUpdatedUsesClock(t *testing.T) {
	s, mock := newMockStore(t)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	mock.ExpectExec("INSERT INTO updated_tickets").
		WithArgs(int64(9), "Hardware", "Laptop", "", "2024-01-02T03:04:05.000000000Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.MarkUpdated(context.Background(), 9, ingest.Path{Category: "Hardware", SubCategory: "Laptop"}); err != nil {
		t.Fatalf("MarkUpdated: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 2, 29, 23, 59, 59, 123456789, time.FixedZone("x", 3600))
	if got := parseTime(formatTime(ts)); !got.Equal(ts) {
		t.Fatalf("round trip = %v, want %v", got, ts)
	}
	if formatTime(time.Time{}) != "" || !parseTime("").IsZero() || !parseTime("junk").IsZero() {
		t.Fatal("zero handling broken")
	}
}
