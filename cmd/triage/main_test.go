package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/cognicore/triage/pkg/triage/config"
	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/notify"
	"github.com/cognicore/triage/pkg/triage/store"
)

const (
	fieldsJSON = `{"ticket_fields": [
		{"name": "category", "choices": ["Hardware", "Network"]},
		{"name": "sub_category", "choices": {"Hardware": ["Laptop", "Printer"]}}
	]}`
	ticketsJSONL = `{"id": 1, "subject": "Laptop will not boot", "description_text": "black screen"}
{"id": 2, "subject": "Printer jammed on floor 3", "category": "Hardware"}
{"id": 3, "subject": "Badge reader broken", "description_text": "badge not accepted"}
{"id": 4, "subject": "Badge expired"}
`
)

func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range []string{
		"TRIAGE_CONFIG", "FRESHSERVICE_BASE_URL", "FRESHSERVICE_API_KEY", "TRIAGE_DB_PATH",
		"TRIAGE_OUTPUT_DIR", "SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID", "TRIAGE_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Setenv("TRIAGE_DB_PATH", filepath.Join(dir, "triage.db"))
	return dir
}

func writeInputs(t *testing.T, dir string) (tickets, fields string) {
	t.Helper()
	tickets = filepath.Join(dir, "tickets.jsonl")
	fields = filepath.Join(dir, "fields.json")
	if err := os.WriteFile(tickets, []byte(ticketsJSONL), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fields, []byte(fieldsJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return tickets, fields
}

func TestRunUsageAndUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "fetch") || !strings.Contains(out.String(), "schedule") {
		t.Fatalf("usage missing commands:\n%s", out.String())
	}
	if err := run(context.Background(), []string{"bogus"}, &out); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestCommandHelp(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"apply", "--help"}, &out); err != nil {
		t.Fatalf("help should not fail: %v", err)
	}
	if !strings.Contains(out.String(), "--force-ticket-id") {
		t.Fatalf("help output missing flags:\n%s", out.String())
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"":                          {},
		"2024-05-01":                time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		"2024-05-01T08:00:00+02:00": time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		"72h":                       time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseSince(in, now)
		if err != nil {
			t.Errorf("parseSince(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseSince(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseSince("last tuesday", now); err == nil {
		t.Error("expected error for unparseable value")
	}
}

func TestFetchOffline(t *testing.T) {
	dir := isolate(t)
	tickets, fields := writeInputs(t, dir)
	reports := filepath.Join(dir, "reports")

	var out bytes.Buffer
	err := run(context.Background(), []string{"fetch",
		"--tickets-file", tickets, "--fields-file", fields,
		"--output-dir", reports, "--report-name", "weekly.csv",
	}, &out)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for _, name := range []string{"weekly.csv", "weekly_review.csv", "weekly_patterns.csv"} {
		if _, err := os.Stat(filepath.Join(reports, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	text := out.String()
	for _, want := range []string{"Tickets analyzed", "badge"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}

	out.Reset()
	if err := run(context.Background(), []string{"history"}, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "1 runs") || !strings.Contains(out.String(), "weekly.csv") {
		t.Fatalf("history output:\n%s", out.String())
	}
}

func TestFetchSkipReviewWithoutStore(t *testing.T) {
	dir := isolate(t)
	tickets, fields := writeInputs(t, dir)

	var out bytes.Buffer
	err := run(context.Background(), []string{"fetch",
		"--tickets-file", tickets, "--fields-file", fields,
		"--output-dir", dir, "--skip-review-template", "--no-store",
	}, &out)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ticket_analysis_review.csv")); !os.IsNotExist(err) {
		t.Errorf("review worksheet should not exist, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "triage.db")); !os.IsNotExist(err) {
		t.Errorf("--no-store should not create the database, stat err = %v", err)
	}
}

func TestFetchRequiresAPISettings(t *testing.T) {
	isolate(t)
	err := run(context.Background(), []string{"fetch", "--no-store"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "freshservice.base_url") {
		t.Fatalf("expected missing API settings error, got %v", err)
	}
}

func TestTaxonomyAndSummarizeFromFiles(t *testing.T) {
	dir := isolate(t)
	tickets, fields := writeInputs(t, dir)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"taxonomy", "--fields-file", fields}, &out); err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	for _, want := range []string{"2 categories, 2 sub-categories", "- Hardware", "-- Laptop"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("taxonomy output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := run(context.Background(), []string{"summarize", "--tickets-file", tickets}, &out); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !strings.Contains(out.String(), "<no category>") || !strings.Contains(out.String(), "75.0%") {
		t.Fatalf("summarize output:\n%s", out.String())
	}
}

func TestCategoryCounts(t *testing.T) {
	got := categoryCounts([]ingest.Ticket{
		{Category: "Network"}, {Category: "Hardware "}, {Category: "Hardware"}, {},
	})
	if len(got) != 3 {
		t.Fatalf("counts = %+v", got)
	}
	if got[0].Category != "Hardware" || got[0].Tickets != 2 || got[0].Share != 50 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Category != "<no category>" || got[2].Category != "Network" {
		t.Errorf("tie order = %+v", got)
	}
}

func TestMissingCategory(t *testing.T) {
	dir := isolate(t)
	now := time.Now().UTC()
	stamp := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }
	lines := []string{
		`{"id": 1, "subject": "Old laptop", "created_at": "` + stamp(30*24*time.Hour) + `"}`,
		`{"id": 2, "subject": "Printer offline", "created_at": "` + stamp(48*time.Hour) + `"}`,
		`{"id": 3, "subject": "VPN drops", "category": "Network", "created_at": "` + stamp(time.Hour) + `"}`,
		`{"id": 4, "subject": "Badge, reader", "category": "  ", "created_at": "` + stamp(2*time.Hour) + `"}`,
		`{"id": 5, "subject": "No date"}`,
	}
	tickets := filepath.Join(dir, "recent.jsonl")
	if err := os.WriteFile(tickets, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), []string{"missing", "--tickets-file", tickets, "--output", "json"}, &out); err != nil {
		t.Fatalf("missing: %v", err)
	}
	var rows []missingRow
	if err := json.Unmarshal(out.Bytes(), &rows); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out.String())
	}
	if len(rows) != 2 || rows[0].ID != 4 || rows[1].ID != 2 {
		t.Fatalf("rows = %+v, want tickets 4 then 2", rows)
	}

	out.Reset()
	if err := run(context.Background(), []string{"missing", "--tickets-file", tickets, "--days", "60", "--output", "csv"}, &out); err != nil {
		t.Fatalf("missing csv: %v", err)
	}
	csvLines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(csvLines) != 4 || csvLines[0] != "id,created_at,subject" || !strings.HasSuffix(csvLines[1], `,"Badge, reader"`) {
		t.Fatalf("csv output:\n%s", out.String())
	}

	out.Reset()
	if err := run(context.Background(), []string{"missing", "--tickets-file", tickets}, &out); err != nil {
		t.Fatalf("missing table: %v", err)
	}
	if !strings.Contains(out.String(), "Printer offline") || !strings.Contains(out.String(), "Total: 2") {
		t.Fatalf("table output:\n%s", out.String())
	}

	if err := run(context.Background(), []string{"missing", "--tickets-file", tickets, "--output", "xml"}, &out); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestMissingCategoryEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := writeMissing(&out, missingCategory([]ingest.Ticket{{ID: 1, Category: "Hardware", CreatedAt: time.Now()}}, time.Time{}), "table"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "No tickets found." {
		t.Fatalf("output = %q", out.String())
	}
}

func newFreshservice(t *testing.T, current string) (*httptest.Server, *[]string) {
	t.Helper()
	var puts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/tickets/42" {
			http.NotFound(w, r)
			return
		}
		ticket := map[string]any{"id": 42, "category": current}
		if r.Method == http.MethodPut {
			var body struct {
				Ticket map[string]string `json:"ticket"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			puts = append(puts, body.Ticket["category"])
			ticket["category"] = body.Ticket["category"]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ticket": ticket})
	}))
	t.Cleanup(server.Close)
	return server, &puts
}

func TestApplySingleTicket(t *testing.T) {
	isolate(t)
	server, puts := newFreshservice(t, "Software")
	t.Setenv("FRESHSERVICE_BASE_URL", server.URL)
	t.Setenv("FRESHSERVICE_API_KEY", "key")

	var out bytes.Buffer
	err := run(context.Background(), []string{"apply", "--ticket-id", "42", "--category", "Hardware"}, &out)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(*puts) != 1 || (*puts)[0] != "Hardware" {
		t.Fatalf("PUT payloads = %v", *puts)
	}
	if !strings.Contains(out.String(), "Ticket 42 updated to Hardware") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestApplyRequiresOneSource(t *testing.T) {
	isolate(t)
	if err := run(context.Background(), []string{"apply"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error without --review-csv or --ticket-id")
	}
}

func TestApplyReviewDryRun(t *testing.T) {
	dir := isolate(t)
	t.Setenv("FRESHSERVICE_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("FRESHSERVICE_API_KEY", "key")
	worksheet := filepath.Join(dir, "review.csv")
	csv := "ticket_id,current_category,final_category,manager_decision\n" +
		"1,,Hardware,approve\n" +
		"2,,Network,decline\n" +
		"3,Hardware,Hardware,Approve\n"
	if err := os.WriteFile(worksheet, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), []string{"apply", "--review-csv", worksheet, "--dry-run", "--no-store"}, &out); err != nil {
		t.Fatalf("apply: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Planned (dry run)") {
		t.Fatalf("output:\n%s", text)
	}

	out.Reset()
	if err := run(context.Background(), []string{"review", "--review-csv", worksheet, "--decision", "approve"}, &out); err != nil {
		t.Fatalf("review: %v", err)
	}
	if !strings.Contains(out.String(), "2 rows: 2 approve, 0 decline") {
		t.Fatalf("review output:\n%s", out.String())
	}
}

func TestScheduledRunPostsSummary(t *testing.T) {
	dir := isolate(t)
	tickets, fields := writeInputs(t, dir)

	var posted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		posted = r.FormValue("text")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "1.0"})
	}))
	defer server.Close()

	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Reporting.OutputDirectory = dir
	notifier := notify.NewSlack("xoxb-test", "C1", slack.OptionAPIURL(server.URL+"/api/"))
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	summary := scheduledRun(context.Background(), cfg, fetchOptions{
		ticketsFile: tickets,
		fieldsFile:  fields,
		noStore:     true,
	}, at, 24*time.Hour, notifier)

	if summary.Err != nil {
		t.Fatalf("scheduled run failed: %v", summary.Err)
	}
	if summary.Tickets != 4 || filepath.Base(summary.ReportPath) != "ticket_analysis_20240501T0900.csv" {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.Contains(posted, "4 tickets analyzed") || !strings.Contains(posted, "badge") {
		t.Fatalf("posted text = %q", posted)
	}
}

func TestScheduledRunReportsFailure(t *testing.T) {
	dir := isolate(t)
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Reporting.OutputDirectory = dir
	summary := scheduledRun(context.Background(), cfg, fetchOptions{
		ticketsFile: filepath.Join(dir, "missing.jsonl"),
		fieldsFile:  filepath.Join(dir, "missing.json"),
		noStore:     true,
	}, time.Now(), time.Hour, nil)
	if summary.Err == nil {
		t.Fatal("expected failure to be reported in the summary")
	}
}

func TestRenderHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text := renderHistory([]store.Run{{
		ID:         "01HXAMPLE",
		StartedAt:  now.Add(-2 * time.Hour),
		Tickets:    1234,
		Suggested:  56,
		ReportPath: "reports/a.csv",
	}}, 7, now)
	for _, want := range []string{"1 runs, 7 tickets updated", "01HXAMPLE", "2 hours ago", "1,234", "reports/a.csv"} {
		if !strings.Contains(text, want) {
			t.Errorf("history missing %q:\n%s", want, text)
		}
	}
}
