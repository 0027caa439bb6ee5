package ingest

import "strings"

// DefaultKeywordMinLength is the shortest token counted by the pattern pass.
const DefaultKeywordMinLength = 4

// Tokenize lowercases text and splits it on every run of characters outside
// [a-z0-9_]. Empty fragments are dropped. The same rule is used for taxonomy
// labels and for ticket text.
func Tokenize(text string) []string {
	var tokens []string
	lower := strings.ToLower(text)
	start := -1
	for i := 0; i < len(lower); i++ {
		if isWordByte(lower[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, lower[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, lower[start:])
	}
	return tokens
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '_'
}

// TokenSet returns the distinct tokens of text for O(1) membership tests.
func TokenSet(text string) map[string]struct{} {
	toks := Tokenize(text)
	set := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		set[tok] = struct{}{}
	}
	return set
}

// LabelTokens returns the distinct tokens of a label that are at least
// minLength bytes long, in first-seen order.
func LabelTokens(label string, minLength int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(label) {
		if len(tok) < minLength {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Tokenizer filters ticket text down to the tokens worth counting as
// recurring vocabulary.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLength int
}

// NewTokenizer creates a tokenizer with the given stop words and minimum
// qualifying token length. A non-positive minLength uses
// DefaultKeywordMinLength.
func NewTokenizer(stopwords []string, minLength int) *Tokenizer {
	if minLength <= 0 {
		minLength = DefaultKeywordMinLength
	}
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{stopwords: stops, minLength: minLength}
}

// MinLength reports the minimum qualifying token length.
func (t *Tokenizer) MinLength() int {
	return t.minLength
}

// Qualifying returns the distinct tokens of text that meet the minimum length
// and are not stop words, in first-seen order.
func (t *Tokenizer) Qualifying(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if len(tok) < t.minLength || t.IsStopword(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// IsStopword reports whether word is in the stop list.
func (t *Tokenizer) IsStopword(word string) bool {
	_, ok := t.stopwords[word]
	return ok
}

// AddStopword adds a word to the stopword list
func (t *Tokenizer) AddStopword(word string) {
	t.stopwords[strings.ToLower(word)] = struct{}{}
}

// RemoveStopword removes a word from the stopword list
func (t *Tokenizer) RemoveStopword(word string) {
	delete(t.stopwords, strings.ToLower(word))
}
