// Package updates writes reviewed taxonomy decisions back to Freshservice.
package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/internalerr"
	"github.com/cognicore/triage/pkg/triage/review"
)

// TicketAPI is the part of the Freshservice client the updater needs.
type TicketAPI interface {
	Ticket(ctx context.Context, id int64) (freshservice.Ticket, error)
	UpdateTicket(ctx context.Context, id int64, path ingest.Path) (freshservice.Ticket, error)
}

// Tracker remembers which tickets were already written.
type Tracker interface {
	IsUpdated(ctx context.Context, ticketID int64) (bool, error)
	MarkUpdated(ctx context.Context, ticketID int64, path ingest.Path) error
}

// Updater applies approved review rows. Tracker may be nil.
type Updater struct {
	API     TicketAPI
	Tracker Tracker
}

// Options controls Apply.
type Options struct {
	// DryRun logs the planned change without calling the API.
	DryRun bool
	// Force ignores the tracker for every row; ForceIDs for the listed ids.
	Force    bool
	ForceIDs []int64
	// Progress is called after each row with (processed, total).
	Progress func(done, total int)
}

// UpdateError describes one failed ticket update.
type UpdateError struct {
	TicketID   int64
	Message    string
	StatusCode int
	Decision   string
	Path       string
}

func (e UpdateError) Error() string { return e.Message }

// Result counts the outcome of Apply.
type Result struct {
	Processed int
	Updated   []freshservice.Ticket
	Skipped   int
	Planned   int
	Errors    []UpdateError
}

// Apply updates every approved row. Rows already tracked are skipped unless
// forced or in dry run; rows whose final path is empty or equal to the
// current one are skipped. Failures are collected in Result.Errors; the
// returned error is set only when ctx ends.
func (u *Updater) Apply(ctx context.Context, rows []review.Row, opts Options) (Result, error) {
	var res Result
	force := make(map[int64]struct{}, len(opts.ForceIDs))
	for _, id := range opts.ForceIDs {
		force[id] = struct{}{}
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		u.applyRow(ctx, row, opts, force, &res)
		res.Processed++
		if opts.Progress != nil {
			opts.Progress(res.Processed, len(rows))
		}
	}
	return res, nil
}

func (u *Updater) applyRow(ctx context.Context, row review.Row, opts Options, force map[int64]struct{}, res *Result) {
	if row.Decision != review.Approve {
		slog.Info("skipping ticket", "ticket_id", row.TicketID, "decision", row.Decision)
		res.Skipped++
		return
	}

	if u.Tracker != nil && !opts.DryRun && !opts.Force {
		if _, forced := force[row.TicketID]; !forced {
			done, err := u.Tracker.IsUpdated(ctx, row.TicketID)
			if err != nil {
				slog.Warn("update tracker lookup failed", "ticket_id", row.TicketID, "error", err)
			} else if done {
				slog.Info("skipping ticket already recorded as updated", "ticket_id", row.TicketID)
				res.Skipped++
				return
			}
		}
	}

	desired := row.Final.Normalize()
	if desired.IsEmpty() {
		slog.Warn("ticket has no fields selected for update", "ticket_id", row.TicketID)
		res.Skipped++
		return
	}
	if desired == row.Current.Normalize() {
		slog.Info("skipping ticket because taxonomy already matches", "ticket_id", row.TicketID, "path", desired.String())
		res.Skipped++
		return
	}

	if opts.DryRun {
		conf := "n/a"
		if row.Confidence != nil {
			conf = fmt.Sprintf("%g", *row.Confidence)
		}
		slog.Info("dry run: ticket would be updated", "ticket_id", row.TicketID, "path", desired.String(), "confidence", conf)
		res.Planned++
		return
	}

	updated, err := u.API.UpdateTicket(ctx, row.TicketID, desired)
	if err != nil {
		ue := newUpdateError(row.TicketID, row.Decision, desired, err)
		slog.Error(ue.Message)
		res.Errors = append(res.Errors, ue)
		return
	}
	logResponse(row.TicketID, updated)
	res.Updated = append(res.Updated, updated)
	u.mark(ctx, row.TicketID, desired)
}

// UpdateOne sets path on a single ticket. It returns (ticket, true, nil)
// when the ticket was written and (current, false, nil) when it already
// matched. A dry run only logs and returns a zero ticket.
func (u *Updater) UpdateOne(ctx context.Context, id int64, path ingest.Path, dryRun bool) (freshservice.Ticket, bool, error) {
	desired := path.Normalize()
	if desired.IsEmpty() {
		return freshservice.Ticket{}, false, fmt.Errorf("ticket %d: %w", id, internalerr.ErrNoUpdateFields)
	}
	if dryRun {
		slog.Info("dry run: ticket would be updated", "ticket_id", id, "path", desired.String())
		return freshservice.Ticket{}, false, nil
	}

	current, err := u.API.Ticket(ctx, id)
	if err != nil {
		return freshservice.Ticket{}, false, describe(id, err)
	}
	if current.Path().Normalize() == desired {
		slog.Info("skipping ticket because taxonomy already matches", "ticket_id", id, "path", desired.String())
		return current, false, nil
	}

	updated, err := u.API.UpdateTicket(ctx, id, desired)
	if err != nil {
		return freshservice.Ticket{}, false, describe(id, err)
	}
	logResponse(id, updated)
	u.mark(ctx, id, desired)
	return updated, true, nil
}

func (u *Updater) mark(ctx context.Context, id int64, path ingest.Path) {
	if u.Tracker == nil {
		return
	}
	if err := u.Tracker.MarkUpdated(ctx, id, path); err != nil {
		slog.Warn("update tracker write failed", "ticket_id", id, "error", err)
	}
}

func newUpdateError(id int64, decision string, path ingest.Path, err error) UpdateError {
	ue := UpdateError{
		TicketID: id,
		Message:  err.Error(),
		Decision: decision,
		Path:     path.String(),
	}
	var apiErr *freshservice.APIError
	if errors.As(err, &apiErr) {
		ue.Message = apiErr.Describe(id)
		ue.StatusCode = apiErr.StatusCode
	}
	return ue
}

// describe wraps err with the API's operator message when there is one.
func describe(id int64, err error) error {
	var apiErr *freshservice.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Describe(id)
		slog.Error(msg)
		return fmt.Errorf("%s: %w", msg, err)
	}
	return err
}

func logResponse(id int64, t freshservice.Ticket) {
	slog.Info("updated ticket", "ticket_id", id, "response_id", t.ID,
		"category", t.Category, "sub_category", t.SubCategory,
		"item_category", t.ItemCategory, "updated_at", t.UpdatedAt)
}
