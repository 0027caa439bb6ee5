// Package report writes analysis results as CSV worksheets for manager
// review.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cognicore/triage/pkg/triage/analysis"
)

// Headers is the analysis report column order.
var Headers = []string{
	"ticket_id",
	"subject",
	"description_text",
	"created_at_utc",
	"current_category",
	"current_sub_category",
	"current_item_category",
	"suggested_category",
	"suggested_sub_category",
	"suggested_item_category",
	"suggestion_confidence",
	"suggestion_rationale",
	"final_category",
	"final_sub_category",
	"final_item_category",
	"suggested_new_category_pattern",
	"suggested_new_category_frequency",
}

// ReviewHeaders extends Headers with the manager's decision columns.
var ReviewHeaders = append(append([]string(nil), Headers...), "manager_decision", "review_notes")

// Writer writes reports into Dir. Name is the analysis file name; the review
// and pattern files are derived from its stem.
type Writer struct {
	Dir  string
	Name string
}

// WriteAnalysis writes one line per row and returns the file path. The
// final_* columns start out as the suggestion.
func (w Writer) WriteAnalysis(rows []analysis.Row) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(w.Dir, w.Name)
	slog.Info("writing ticket analysis report", "path", path, "rows", len(rows))

	err := writeCSV(path, func(cw *csv.Writer) error {
		if err := cw.Write(Headers); err != nil {
			return err
		}
		for _, r := range rows {
			if err := cw.Write(analysisRecord(r)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write analysis report: %w", err)
	}
	return path, nil
}

func analysisRecord(r analysis.Row) []string {
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	confidence := ""
	if r.Confidence != nil {
		confidence = strconv.FormatFloat(*r.Confidence, 'f', -1, 64)
	}
	frequency := "0"
	if r.PatternToken != "" {
		frequency = strconv.Itoa(r.PatternFrequency)
	}
	return []string{
		strconv.FormatInt(r.TicketID, 10),
		r.Subject,
		r.DescriptionText,
		created,
		r.CurrentCategory,
		r.CurrentSubCategory,
		r.CurrentItemCategory,
		r.SuggestedCategory,
		r.SuggestedSubCategory,
		r.SuggestedItemCategory,
		confidence,
		r.Rationale,
		r.SuggestedCategory,
		r.SuggestedSubCategory,
		r.SuggestedItemCategory,
		r.PatternToken,
		frequency,
	}
}

// ReviewPath returns the review worksheet path for an analysis report.
func ReviewPath(analysisPath string) string {
	return derived(analysisPath, "_review.csv")
}

// PatternsPath returns the pattern list path for an analysis report.
func PatternsPath(analysisPath string) string {
	return derived(analysisPath, "_patterns.csv")
}

func derived(path, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path), stem+suffix)
}

// CreateReviewTemplate copies an analysis report into <stem>_review.csv with
// manager_decision set to "pending". Empty final_* cells take the suggested
// value.
func (w Writer) CreateReviewTemplate(analysisPath string) (string, error) {
	in, err := os.Open(analysisPath)
	if err != nil {
		return "", fmt.Errorf("open analysis report: %w", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("read analysis header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	reviewPath := ReviewPath(analysisPath)
	slog.Info("creating review template", "path", reviewPath)
	err = writeCSV(reviewPath, func(cw *csv.Writer) error {
		if err := cw.Write(ReviewHeaders); err != nil {
			return err
		}
		for {
			rec, err := r.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			out := make([]string, len(ReviewHeaders))
			for i, name := range ReviewHeaders {
				out[i] = get(rec, name)
			}
			for _, level := range []string{"category", "sub_category", "item_category"} {
				idx := indexOf(ReviewHeaders, "final_"+level)
				if out[idx] == "" {
					out[idx] = get(rec, "suggested_"+level)
				}
			}
			out[len(out)-2] = "pending"
			out[len(out)-1] = ""
			if err := cw.Write(out); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return "", fmt.Errorf("write review template: %w", err)
	}
	return reviewPath, nil
}

// WritePatterns writes the ranked backfill candidates next to the analysis
// report and returns the file path.
func (w Writer) WritePatterns(patterns []analysis.Pattern) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := PatternsPath(filepath.Join(w.Dir, w.Name))
	err := writeCSV(path, func(cw *csv.Writer) error {
		if err := cw.Write([]string{"keyword", "ticket_count"}); err != nil {
			return err
		}
		for _, p := range patterns {
			if err := cw.Write([]string{p.Token, strconv.Itoa(p.Count)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write patterns: %w", err)
	}
	return path, nil
}

func writeCSV(path string, fill func(*csv.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	cw := csv.NewWriter(f)
	if err := fill(cw); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
