// Package ticketfile loads tickets and form fields from exported files so
// the analysis can run without API access.
package ticketfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/triage/pkg/triage/freshservice"
	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/taxonomy"
)

// LoadTickets reads tickets in Freshservice shape. Files ending in .jsonl
// hold one ticket per line; malformed lines are skipped with a warning.
// Other files hold a JSON array or an object with a "tickets" array.
func LoadTickets(path string) ([]ingest.Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	var raw []freshservice.Ticket
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		raw = decodeLines(path, data)
	} else {
		raw, err = decodeDocument(data)
		if err != nil {
			return nil, fmt.Errorf("parse tickets %s: %w", path, err)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no valid tickets found in %s", path)
	}

	out := make([]ingest.Ticket, len(raw))
	for i, t := range raw {
		out[i] = t.Record()
	}
	return out, nil
}

func decodeLines(path string, data []byte) []freshservice.Ticket {
	var out []freshservice.Ticket
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var t freshservice.Ticket
		if err := json.Unmarshal(text, &t); err != nil {
			slog.Warn("skipping malformed ticket", "file", path, "line", line, "error", err)
			continue
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		slog.Warn("stopped reading ticket file", "file", path, "line", line, "error", err)
	}
	return out
}

func decodeDocument(data []byte) ([]freshservice.Ticket, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []freshservice.Ticket
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped struct {
		Tickets []freshservice.Ticket `json:"tickets"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Tickets, nil
}

// LoadFields reads ticket form fields. YAML files hold a list of fields or
// an object with a "fields" list. JSON files hold either a list or a saved
// API response with one of the usual wrapper keys.
func LoadFields(path string) ([]taxonomy.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		fields, err := decodeYAMLFields(data)
		if err != nil {
			return nil, fmt.Errorf("parse fields %s: %w", path, err)
		}
		return fields, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var fields []taxonomy.Field
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("parse fields %s: %w", path, err)
		}
		return fields, nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("parse fields %s: %w", path, err)
	}
	fields, err := freshservice.DecodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("parse fields %s: %w", path, err)
	}
	return fields, nil
}

func decodeYAMLFields(data []byte) ([]taxonomy.Field, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.MappingNode {
		var wrapped struct {
			Fields []taxonomy.Field `yaml:"fields"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Fields, nil
	}
	var fields []taxonomy.Field
	if err := root.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Source serves tickets and fields from files. It satisfies the engine's
// source interface; the query's UpdatedSince filter is applied to the
// ticket creation time and Include is ignored.
type Source struct {
	TicketsPath string
	FieldsPath  string
}

// TicketFields loads FieldsPath.
func (s Source) TicketFields(ctx context.Context) ([]taxonomy.Field, error) {
	return LoadFields(s.FieldsPath)
}

// Tickets loads TicketsPath and reports progress once.
func (s Source) Tickets(ctx context.Context, q freshservice.TicketQuery, progress freshservice.Progress) ([]ingest.Ticket, error) {
	all, err := LoadTickets(s.TicketsPath)
	if err != nil {
		return nil, err
	}
	out := all
	if !q.UpdatedSince.IsZero() {
		out = out[:0:0]
		for _, t := range all {
			if !t.CreatedAt.IsZero() && t.CreatedAt.Before(q.UpdatedSince) {
				continue
			}
			out = append(out, t)
		}
	}
	if progress != nil {
		progress(len(out), len(out))
	}
	return out, nil
}
