// Package choices normalizes the choice payloads of ticket form fields into
// flat, labeled entries.
//
// Ticketing APIs return taxonomy options in several shapes: lists of
// objects, mappings keyed by a parent option, or option objects that embed
// their children. All shape inspection lives here so callers only ever see
// []Entry.
package choices

import (
	"strings"

	"golang.org/x/net/html"
)

// Entry is one labeled choice. Value is the raw value or id the API uses for
// the option, empty when the payload carries none. Parent is the raw parent
// key an option object names explicitly (parent_value, parent_label and
// similar), empty otherwise.
type Entry struct {
	Label  string
	Value  string
	Parent string
}

var (
	labelKeys       = []string{"label", "name", "title", "value"}
	valueKeys       = []string{"value", "id", "key"}
	parentValueKeys = []string{"parent_value", "parent_id", "parent", "parentKey"}
	parentLabelKeys = []string{"parent_label", "parent_name", "parentTitle"}
	childKeys       = []string{"nested_options", "choices", "children"}
)

// Extract walks node and returns its labeled entries in first-seen order,
// de-duplicated by label. Mappings that carry a label field contribute one
// entry; when flatten is set, their mapping and sequence children are walked
// too, sharing the same de-duplication set.
func Extract(node Node, flatten bool) []Entry {
	var out []Entry
	seen := make(map[string]struct{})
	collect(node, flatten, seen, &out)
	return out
}

func collect(node Node, flatten bool, seen map[string]struct{}, out *[]Entry) {
	switch node.Kind {
	case KindMapping:
		if label, ok := labelOf(node); ok {
			value, _ := valueOf(node)
			emit(Entry{Label: label, Value: value, Parent: parentOf(node)}, seen, out)
		}
		if !flatten {
			return
		}
		for _, p := range node.Pairs {
			if p.Value.Kind == KindMapping || p.Value.Kind == KindSequence {
				collect(p.Value, flatten, seen, out)
			}
		}
	case KindSequence:
		for _, item := range node.Items {
			collect(item, flatten, seen, out)
		}
	case KindScalar:
		if label := cleanLabel(node.Text); label != "" {
			emit(Entry{Label: label}, seen, out)
		}
	}
}

func emit(e Entry, seen map[string]struct{}, out *[]Entry) {
	if _, dup := seen[e.Label]; dup {
		return
	}
	seen[e.Label] = struct{}{}
	*out = append(*out, e)
}

func labelOf(node Node) (string, bool) {
	for _, key := range labelKeys {
		v, ok := node.Get(key)
		if !ok || v.Kind != KindScalar {
			continue
		}
		if label := cleanLabel(v.Text); label != "" {
			return label, true
		}
	}
	return "", false
}

func valueOf(node Node) (string, bool) {
	for _, key := range valueKeys {
		v, ok := node.Get(key)
		if ok && v.Kind == KindScalar {
			return strings.TrimSpace(v.Text), true
		}
	}
	return "", false
}

func parentOf(node Node) string {
	for _, keys := range [][]string{parentValueKeys, parentLabelKeys} {
		for _, key := range keys {
			v, ok := node.Get(key)
			if !ok || v.Kind != KindScalar {
				continue
			}
			if p := cleanLabel(v.Text); p != "" {
				return p
			}
		}
	}
	return ""
}

func cleanLabel(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}

// Group lists the direct children of one option in a payload whose options
// embed their children. Parents holds the raw keys of the option and its
// ancestors, outermost first. A raw key is the option's value when present,
// otherwise its label.
type Group struct {
	Parents []string
	Entries []Entry
}

// Dependents walks a payload of options that embed their children under
// nested_options, choices or children and returns one Group per option that
// has any, in document order.
func Dependents(node Node) []Group {
	var out []Group
	walkDependents(node, nil, &out)
	return out
}

func walkDependents(node Node, parents []string, out *[]Group) {
	switch node.Kind {
	case KindSequence:
		for _, item := range node.Items {
			walkDependents(item, parents, out)
		}
	case KindMapping:
		label, ok := labelOf(node)
		if !ok {
			return
		}
		key, _ := valueOf(node)
		if key == "" {
			key = label
		}
		path := make([]string, len(parents)+1)
		copy(path, parents)
		path[len(parents)] = key

		for _, ck := range childKeys {
			child, ok := node.Get(ck)
			if !ok || child.IsNull() {
				continue
			}
			if entries := Extract(child, false); len(entries) > 0 {
				*out = append(*out, Group{Parents: path, Entries: entries})
			}
			walkDependents(child, path, out)
		}
	}
}
