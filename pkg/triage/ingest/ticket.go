package ingest

import (
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Ticket is a helpdesk ticket as presented to the analyzer. Empty taxonomy
// fields mean the ticket has no value at that level.
type Ticket struct {
	ID              int64
	Subject         string
	DescriptionText string
	Category        string
	SubCategory     string
	ItemCategory    string
	CreatedAt       time.Time
}

// Path returns the ticket's current taxonomy values.
func (t Ticket) Path() Path {
	return Path{Category: t.Category, SubCategory: t.SubCategory, ItemCategory: t.ItemCategory}
}

// Text returns the subject and description joined by a space.
func (t Ticket) Text() string {
	return t.Subject + " " + t.DescriptionText
}

// Path is a category / sub-category / item-category triple.
type Path struct {
	Category     string `json:"category,omitempty"`
	SubCategory  string `json:"sub_category,omitempty"`
	ItemCategory string `json:"item_category,omitempty"`
}

// Normalize trims every level.
func (p Path) Normalize() Path {
	return Path{
		Category:     strings.TrimSpace(p.Category),
		SubCategory:  strings.TrimSpace(p.SubCategory),
		ItemCategory: strings.TrimSpace(p.ItemCategory),
	}
}

// IsEmpty reports whether no level is set.
func (p Path) IsEmpty() bool {
	n := p.Normalize()
	return n.Category == "" && n.SubCategory == "" && n.ItemCategory == ""
}

// String joins the set levels with " > ", or returns "<no category>".
func (p Path) String() string {
	var parts []string
	for _, s := range []string{p.Category, p.SubCategory, p.ItemCategory} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "<no category>"
	}
	return strings.Join(parts, " > ")
}

// StripHTML reduces an HTML fragment to its text content. Input that fails
// to parse is returned unchanged.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(html.UnescapeString(s))
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			buf.WriteString(n.Data)
		case n.Type == html.ElementNode && isBlock(n.Data):
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
	}
	extractText(doc)

	return strings.Join(strings.Fields(buf.String()), " ")
}

func isBlock(tag string) bool {
	switch tag {
	case "br", "p", "div", "li", "tr", "td", "h1", "h2", "h3", "h4":
		return true
	}
	return false
}
