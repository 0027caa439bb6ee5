package taxonomy

import (
	"strings"

	"github.com/cognicore/triage/pkg/triage/choices"
)

// Option configures Build.
type Option func(*builder)

// WithLabelMinLength sets the shortest label token kept for matching.
func WithLabelMinLength(n int) Option {
	return func(b *builder) {
		if n > 0 {
			b.labelMin = n
		}
	}
}

type rawSubGroup struct {
	parent  string
	entries []choices.Entry
}

type rawItemGroup struct {
	category string
	sub      string
	entries  []choices.Entry
}

// resolver maps raw parent keys to canonical labels: exact raw value first,
// then case-insensitive label, then the key itself.
type resolver struct {
	values map[string]string
	labels map[string]string
}

func newResolver() resolver {
	return resolver{values: make(map[string]string), labels: make(map[string]string)}
}

func (r resolver) add(e choices.Entry) {
	if e.Value != "" {
		if _, ok := r.values[e.Value]; !ok {
			r.values[e.Value] = e.Label
		}
	}
	lower := strings.ToLower(e.Label)
	if _, ok := r.labels[lower]; !ok {
		r.labels[lower] = e.Label
	}
}

func (r resolver) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	if label, ok := r.values[key]; ok {
		return label, true
	}
	if label, ok := r.labels[strings.ToLower(key)]; ok {
		return label, true
	}
	return "", false
}

func (r resolver) resolve(key string) string {
	if label, ok := r.lookup(key); ok {
		return label
	}
	return key
}

type builder struct {
	labelMin int
	tax      *Taxonomy
	catSeen  map[string]struct{}
	cats     resolver
	subs     resolver
	rawSubs  []rawSubGroup
	rawItems []rawItemGroup
}

// Build resolves the category, sub-category and item-category fields into a
// Taxonomy. Fields with other names are ignored and empty payloads produce
// empty levels; Build never fails.
func Build(fields []Field, opts ...Option) *Taxonomy {
	b := &builder{
		labelMin: DefaultLabelMinLength,
		tax: &Taxonomy{
			subs:  make(map[string][]Entry),
			items: make(map[Key][]Entry),
		},
		catSeen: make(map[string]struct{}),
		cats:    newResolver(),
		subs:    newResolver(),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, f := range fields {
		switch f.Role() {
		case RoleCategory:
			b.collectCategories(f.Choices)
		case RoleSubCategory:
			b.collectSubCategories(f.Choices)
		case RoleItemCategory:
			b.collectItems(f.Choices)
		}
	}

	b.resolve()
	return b.tax
}

func (b *builder) collectCategories(payload choices.Node) {
	for _, e := range choices.Extract(payload, false) {
		b.cats.add(e)
		if _, ok := b.catSeen[e.Label]; ok {
			continue
		}
		b.catSeen[e.Label] = struct{}{}
		b.tax.categories = append(b.tax.categories, newEntry(e, b.labelMin))
	}

	// Options that embed their children feed the lower levels directly.
	for _, g := range choices.Dependents(payload) {
		switch len(g.Parents) {
		case 1:
			b.rawSubs = append(b.rawSubs, rawSubGroup{parent: g.Parents[0], entries: g.Entries})
		case 2:
			b.rawItems = append(b.rawItems, rawItemGroup{category: g.Parents[0], sub: g.Parents[1], entries: g.Entries})
		}
	}
}

func (b *builder) collectSubCategories(payload choices.Node) {
	if payload.IsMapping() {
		for _, p := range payload.Pairs {
			b.rawSubs = append(b.rawSubs, rawSubGroup{parent: p.Key, entries: choices.Extract(p.Value, true)})
		}
		return
	}
	for _, e := range extractHinted(payload) {
		b.rawSubs = append(b.rawSubs, rawSubGroup{parent: e.Parent, entries: []choices.Entry{e}})
	}
}

func (b *builder) collectItems(payload choices.Node) {
	if !payload.IsMapping() {
		for _, e := range extractHinted(payload) {
			b.rawItems = append(b.rawItems, rawItemGroup{sub: e.Parent, entries: []choices.Entry{e}})
		}
		return
	}
	for _, p := range payload.Pairs {
		if !p.Value.IsMapping() {
			b.rawItems = append(b.rawItems, rawItemGroup{sub: p.Key, entries: choices.Extract(p.Value, true)})
			continue
		}
		for _, inner := range p.Value.Pairs {
			b.rawItems = append(b.rawItems, rawItemGroup{
				category: p.Key,
				sub:      inner.Key,
				entries:  choices.Extract(inner.Value, true),
			})
		}
	}
}

// extractHinted flattens a list payload one option at a time. Options that
// share a label but name different parents all survive; merge drops the
// repeats that land in the same bucket.
func extractHinted(payload choices.Node) []choices.Entry {
	if payload.Kind != choices.KindSequence {
		return choices.Extract(payload, true)
	}
	var out []choices.Entry
	for _, item := range payload.Items {
		out = append(out, choices.Extract(item, true)...)
	}
	return out
}

func (b *builder) resolve() {
	for _, g := range b.rawSubs {
		for _, e := range g.entries {
			b.subs.add(e)
		}
	}

	// Category of each sub-category, keyed by raw value and by lower-cased
	// label; the first parent seen wins.
	parentOf := make(map[string]string)
	for _, g := range b.rawSubs {
		category := b.cats.resolve(g.parent)
		b.addSubs(category, g.entries)
		if category == "" {
			continue
		}
		for _, e := range g.entries {
			for _, k := range []string{e.Value, strings.ToLower(e.Label)} {
				if _, ok := parentOf[k]; k != "" && !ok {
					parentOf[k] = category
				}
			}
		}
	}

	for _, g := range b.rawItems {
		key := Key{Category: g.category, SubCategory: g.sub}
		if g.category != "" {
			if label, ok := b.cats.lookup(g.category); ok {
				key = Key{Category: label, SubCategory: b.subs.resolve(g.sub)}
			} else {
				// The category level was elided; the outer key names a
				// sub-category.
				key = Key{SubCategory: b.subs.resolve(g.category)}
			}
		} else {
			key.SubCategory = b.subs.resolve(g.sub)
			if category, ok := parentOf[g.sub]; ok {
				key.Category = category
			} else if category, ok := parentOf[strings.ToLower(key.SubCategory)]; ok {
				key.Category = category
			}
		}
		b.addItems(key, g.entries)
	}
}

func (b *builder) addSubs(category string, entries []choices.Entry) {
	bucket, exists := b.tax.subs[category]
	if !exists {
		b.tax.subOrder = append(b.tax.subOrder, category)
	}
	b.tax.subs[category] = b.merge(bucket, entries)
}

func (b *builder) addItems(key Key, entries []choices.Entry) {
	bucket, exists := b.tax.items[key]
	if !exists {
		b.tax.itemOrder = append(b.tax.itemOrder, key)
	}
	b.tax.items[key] = b.merge(bucket, entries)
}

func (b *builder) merge(bucket []Entry, entries []choices.Entry) []Entry {
	for _, e := range entries {
		if containsLabel(bucket, e.Label) {
			continue
		}
		bucket = append(bucket, newEntry(e, b.labelMin))
	}
	if bucket == nil {
		bucket = []Entry{}
	}
	return bucket
}

func containsLabel(entries []Entry, label string) bool {
	for _, e := range entries {
		if e.Label == label {
			return true
		}
	}
	return false
}
