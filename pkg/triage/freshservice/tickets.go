package freshservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/taxonomy"
)

// Ticket is the subset of the Freshservice ticket resource the engine uses.
type Ticket struct {
	ID              int64  `json:"id"`
	Subject         string `json:"subject"`
	Description     string `json:"description"`
	DescriptionText string `json:"description_text"`
	Category        string `json:"category"`
	SubCategory     string `json:"sub_category"`
	ItemCategory    string `json:"item_category"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// Record converts the API resource to an analyzer ticket. The plain-text
// description is preferred; the HTML one is stripped when it is missing.
// An unparseable created_at yields the zero time.
func (t Ticket) Record() ingest.Ticket {
	desc := t.DescriptionText
	if strings.TrimSpace(desc) == "" {
		desc = ingest.StripHTML(t.Description)
	}
	rec := ingest.Ticket{
		ID:              t.ID,
		Subject:         t.Subject,
		DescriptionText: desc,
		Category:        t.Category,
		SubCategory:     t.SubCategory,
		ItemCategory:    t.ItemCategory,
	}
	if t.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			rec.CreatedAt = ts.UTC()
		}
	}
	return rec
}

// Path returns the ticket's taxonomy values.
func (t Ticket) Path() ingest.Path {
	return ingest.Path{Category: t.Category, SubCategory: t.SubCategory, ItemCategory: t.ItemCategory}
}

// TicketQuery narrows a ticket listing.
type TicketQuery struct {
	UpdatedSince time.Time
	Include      []string
}

func (q TicketQuery) values(perPage, page int) url.Values {
	v := url.Values{}
	v.Set("per_page", strconv.Itoa(perPage))
	v.Set("page", strconv.Itoa(page))
	if !q.UpdatedSince.IsZero() {
		v.Set("updated_since", q.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if inc := includeList(q.Include); inc != "" {
		v.Set("include", inc)
	}
	return v
}

func includeList(include []string) string {
	seen := make(map[string]struct{}, len(include))
	var out []string
	for _, s := range include {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// Progress is called after each page with the number of tickets seen so far
// and the server's total estimate, or -1 when the server did not send one.
type Progress func(done, total int)

type ticketPage struct {
	Tickets []Ticket `json:"tickets"`
	Meta    *struct {
		TotalItems *int `json:"total_items"`
	} `json:"meta"`
}

// Tickets lists every ticket matching q, following pages until a short page.
func (c *Client) Tickets(ctx context.Context, q TicketQuery, progress Progress) ([]ingest.Ticket, error) {
	var out []ingest.Ticket
	total := -1
	for page := 1; ; page++ {
		var p ticketPage
		if err := c.do(ctx, "GET", "/api/v2/tickets", q.values(c.perPage, page), nil, &p); err != nil {
			return nil, fmt.Errorf("list tickets page %d: %w", page, err)
		}
		if p.Meta != nil && p.Meta.TotalItems != nil && *p.Meta.TotalItems >= 0 {
			total = *p.Meta.TotalItems
		}
		slog.Info("fetched tickets", "page", page, "count", len(p.Tickets))
		for _, t := range p.Tickets {
			out = append(out, t.Record())
		}
		if progress != nil {
			progress(len(out), total)
		}
		if len(p.Tickets) < c.perPage {
			return out, nil
		}
	}
}

// Ticket fetches one ticket.
func (c *Client) Ticket(ctx context.Context, id int64) (Ticket, error) {
	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	if err := c.do(ctx, "GET", "/api/v2/tickets/"+strconv.FormatInt(id, 10), nil, nil, &resp); err != nil {
		return Ticket{}, fmt.Errorf("get ticket %d: %w", id, err)
	}
	return resp.Ticket, nil
}

// UpdateTicket sets the non-empty levels of path on ticket id and returns
// the updated resource.
func (c *Client) UpdateTicket(ctx context.Context, id int64, path ingest.Path) (Ticket, error) {
	path = path.Normalize()
	fields := map[string]string{}
	if path.Category != "" {
		fields["category"] = path.Category
	}
	if path.SubCategory != "" {
		fields["sub_category"] = path.SubCategory
	}
	if path.ItemCategory != "" {
		fields["item_category"] = path.ItemCategory
	}
	slog.Info("updating ticket", "ticket_id", id, "path", path.String())

	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	payload := map[string]any{"ticket": fields}
	if err := c.do(ctx, "PUT", "/api/v2/tickets/"+strconv.FormatInt(id, 10), nil, payload, &resp); err != nil {
		return Ticket{}, fmt.Errorf("update ticket %d: %w", id, err)
	}
	return resp.Ticket, nil
}

// fieldWrappers are tried in order; the first non-empty one wins.
var fieldWrappers = []string{"ticket_form_fields", "ticket_fields", "fields"}

// TicketFields returns the ticket form field descriptors. The collection may
// be wrapped under any of fieldWrappers and may be a list or an object keyed
// by field name; an unrecognized payload yields no fields.
func (c *Client) TicketFields(ctx context.Context) ([]taxonomy.Field, error) {
	var payload map[string]json.RawMessage
	if err := c.do(ctx, "GET", "/api/v2/ticket_form_fields", nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("list ticket fields: %w", err)
	}
	return DecodeFields(payload)
}

// DecodeFields picks the field collection out of a ticket_form_fields
// response body.
func DecodeFields(payload map[string]json.RawMessage) ([]taxonomy.Field, error) {
	for _, key := range fieldWrappers {
		raw := bytes.TrimSpace(payload[key])
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case '[':
			var fields []taxonomy.Field
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			if len(fields) == 0 {
				continue
			}
			return fields, nil
		case '{':
			fields, err := decodeFieldObject(raw)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			if len(fields) == 0 {
				continue
			}
			return fields, nil
		}
	}
	return nil, nil
}

// decodeFieldObject returns the values of a JSON object in document order.
func decodeFieldObject(raw []byte) ([]taxonomy.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var fields []taxonomy.Field
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var f taxonomy.Field
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}
