// Package review loads manager decisions from a review worksheet.
package review

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cognicore/triage/pkg/triage/ingest"
)

// Decisions a manager may record. Other values are ignored on load.
const (
	Approve = "approve"
	Decline = "decline"
	Skip    = "skip"
	Pending = "pending"
)

// Row is one reviewed ticket.
type Row struct {
	TicketID   int64
	Decision   string
	Final      ingest.Path
	Current    ingest.Path
	Notes      string
	Confidence *float64
}

// Load reads the worksheet at path. Rows with an unknown decision or an
// unparseable ticket id are skipped.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open review worksheet: %w", err)
	}
	defer f.Close()
	slog.Info("loading review worksheet", "path", path)

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read review header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read review worksheet: %w", err)
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		decision := strings.ToLower(get("manager_decision"))
		switch decision {
		case Approve, Decline, Skip, Pending:
		default:
			slog.Debug("non-actionable review decision", "ticket_id", get("ticket_id"), "decision", decision)
			continue
		}
		id, err := strconv.ParseInt(get("ticket_id"), 10, 64)
		if err != nil {
			slog.Warn("skipping review row with invalid ticket id", "ticket_id", get("ticket_id"))
			continue
		}
		rows = append(rows, Row{
			TicketID: id,
			Decision: decision,
			Final: ingest.Path{
				Category:     get("final_category"),
				SubCategory:  get("final_sub_category"),
				ItemCategory: get("final_item_category"),
			},
			Current: ingest.Path{
				Category:     get("current_category"),
				SubCategory:  get("current_sub_category"),
				ItemCategory: get("current_item_category"),
			},
			Notes:      get("review_notes"),
			Confidence: parseFloat(get("suggestion_confidence")),
		})
	}
	return rows, nil
}

// Filter keeps rows whose decision is one of decisions (case-insensitive).
func Filter(rows []Row, decisions ...string) []Row {
	include := make(map[string]struct{}, len(decisions))
	for _, d := range decisions {
		include[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	var out []Row
	for _, r := range rows {
		if _, ok := include[r.Decision]; ok {
			out = append(out, r)
		}
	}
	return out
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
