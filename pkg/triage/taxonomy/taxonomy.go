// Package taxonomy builds the canonical category / sub-category /
// item-category hierarchy from ticket form field payloads.
package taxonomy

import (
	"github.com/cognicore/triage/pkg/triage/choices"
	"github.com/cognicore/triage/pkg/triage/ingest"
)

// DefaultLabelMinLength is the shortest label token used for matching.
const DefaultLabelMinLength = 4

// Entry is a labeled taxonomy option with the tokens used to match it.
type Entry struct {
	Label  string
	Value  string
	Tokens []string
}

// Key addresses an item-category bucket. Either side may be empty.
type Key struct {
	Category    string
	SubCategory string
}

// Bucket is one ordered group of entries. Sub-category buckets only set
// Key.Category.
type Bucket struct {
	Key     Key
	Entries []Entry
}

// Taxonomy is the resolved three-level hierarchy. It is not modified after
// Build returns.
type Taxonomy struct {
	categories []Entry
	subOrder   []string
	subs       map[string][]Entry
	itemOrder  []Key
	items      map[Key][]Entry
}

// Categories returns the top-level entries in first-seen order.
func (t *Taxonomy) Categories() []Entry {
	return append([]Entry(nil), t.categories...)
}

// SubCategories returns the sub-category entries under a resolved category
// label. The empty label holds sub-categories without a parent.
func (t *Taxonomy) SubCategories(category string) []Entry {
	return append([]Entry(nil), t.subs[category]...)
}

// Items returns the item-category entries under a resolved pair.
func (t *Taxonomy) Items(key Key) []Entry {
	return append([]Entry(nil), t.items[key]...)
}

// SubCategoryBuckets returns every sub-category bucket in build order.
func (t *Taxonomy) SubCategoryBuckets() []Bucket {
	out := make([]Bucket, 0, len(t.subOrder))
	for _, cat := range t.subOrder {
		out = append(out, Bucket{Key: Key{Category: cat}, Entries: t.subs[cat]})
	}
	return out
}

// ItemBuckets returns every item-category bucket in build order.
func (t *Taxonomy) ItemBuckets() []Bucket {
	out := make([]Bucket, 0, len(t.itemOrder))
	for _, key := range t.itemOrder {
		out = append(out, Bucket{Key: key, Entries: t.items[key]})
	}
	return out
}

// Stats summarizes the size of a taxonomy.
type Stats struct {
	Categories    int
	SubCategories int
	ItemBuckets   int
	Items         int
}

// Stats counts entries at every level.
func (t *Taxonomy) Stats() Stats {
	s := Stats{Categories: len(t.categories), ItemBuckets: len(t.itemOrder)}
	for _, entries := range t.subs {
		s.SubCategories += len(entries)
	}
	for _, entries := range t.items {
		s.Items += len(entries)
	}
	return s
}

// Lines renders the hierarchy as dashed outline lines: "- category",
// "-- sub-category", "--- item". Buckets whose parent is not a known
// category or sub-category are listed after the tree under a placeholder
// parent.
func (t *Taxonomy) Lines() []string {
	var lines []string
	shownSubs := make(map[string]bool)
	shownItems := make(map[Key]bool)

	for _, cat := range t.categories {
		lines = append(lines, "- "+cat.Label)
		shownSubs[cat.Label] = true
		for _, sub := range t.subs[cat.Label] {
			lines = append(lines, "-- "+sub.Label)
			key := Key{Category: cat.Label, SubCategory: sub.Label}
			shownItems[key] = true
			for _, item := range t.items[key] {
				lines = append(lines, "--- "+item.Label)
			}
		}
	}

	for _, cat := range t.subOrder {
		if shownSubs[cat] {
			continue
		}
		lines = append(lines, "- "+placeholder(cat))
		for _, sub := range t.subs[cat] {
			lines = append(lines, "-- "+sub.Label)
			key := Key{Category: cat, SubCategory: sub.Label}
			shownItems[key] = true
			for _, item := range t.items[key] {
				lines = append(lines, "--- "+item.Label)
			}
		}
	}

	for _, key := range t.itemOrder {
		if shownItems[key] {
			continue
		}
		lines = append(lines, "- "+placeholder(key.Category), "-- "+placeholder(key.SubCategory))
		for _, item := range t.items[key] {
			lines = append(lines, "--- "+item.Label)
		}
	}
	return lines
}

func placeholder(label string) string {
	if label == "" {
		return "(unassigned)"
	}
	return label
}

func newEntry(e choices.Entry, minLength int) Entry {
	return Entry{
		Label:  e.Label,
		Value:  e.Value,
		Tokens: ingest.LabelTokens(e.Label, minLength),
	}
}
