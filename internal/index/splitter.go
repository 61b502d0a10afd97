// Package index builds the hierarchical semantic index: each indexed
// atom becomes a small forest (document, sections, paragraphs,
// sentences) and every node carries an embedding in a pluggable vector
// store, so queries can target any level. Splitting is deterministic,
// so indexing the same text twice produces identical node ids.
package index

import (
	"strings"
	"unicode"
)

// abbreviations that a sentence boundary must not split after.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "al": true, "fig": true, "no": true,
}

// SplitSentences breaks text into sentences on terminal punctuation,
// guarding common abbreviations and decimal numbers. Whitespace-only
// sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Decimal point, e.g. "3.14".
		if r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		// Abbreviation guard: look back at the word before the dot.
		if r == '.' && isAbbreviation(cur.String()) {
			continue
		}
		// Swallow trailing closers and repeated punctuation.
		for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?' ||
			runes[i+1] == '"' || runes[i+1] == ')' || runes[i+1] == '\'') {
			i++
			cur.WriteRune(runes[i])
		}
		// A boundary needs following whitespace or end of text.
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			flush()
		}
	}
	flush()
	return out
}

func isAbbreviation(prefix string) bool {
	trimmed := strings.TrimSuffix(prefix, ".")
	idx := strings.LastIndexFunc(trimmed, unicode.IsSpace)
	word := strings.ToLower(trimmed[idx+1:])
	return abbreviations[word]
}

// SplitParagraphs breaks text on blank lines.
func SplitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

// Section is a heading-delimited run of paragraphs.
type Section struct {
	Title      string
	Paragraphs []string
}

// SplitSections groups paragraphs under markdown-style headings. Text
// without headings becomes a single untitled section.
func SplitSections(text string) []Section {
	paragraphs := SplitParagraphs(text)
	var sections []Section
	cur := Section{}

	flush := func() {
		if cur.Title != "" || len(cur.Paragraphs) > 0 {
			sections = append(sections, cur)
		}
	}

	for _, p := range paragraphs {
		if strings.HasPrefix(p, "#") {
			flush()
			cur = Section{Title: strings.TrimSpace(strings.TrimLeft(p, "# "))}
			continue
		}
		cur.Paragraphs = append(cur.Paragraphs, p)
	}
	flush()

	if len(sections) == 0 {
		sections = []Section{{}}
	}
	return sections
}
