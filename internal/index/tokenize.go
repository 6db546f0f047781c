package index

import (
	"sort"
	"strings"
	"unicode"
)

// maxKeywords bounds the keyword list stored per document.
const maxKeywords = 64

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "i": true, "if": true, "in": true, "is": true, "it": true,
	"me": true, "my": true, "not": true, "of": true, "on": true, "or": true,
	"re": true, "so": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "we": true, "will": true, "with": true, "you": true, "your": true,
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit. Markup tags are skipped.
func Tokenize(text string) []string {
	text = stripTags(text)
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the most frequent non-stop-word tokens of text, most
// frequent first, ties broken alphabetically.
func Keywords(text string) []string {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		if len(tok) < 2 || stopWords[tok] {
			continue
		}
		counts[tok]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return words
}

func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
