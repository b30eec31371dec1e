package mergerag

import (
	"strings"
	"unicode/utf8"
)

// ApproxTokenizer estimates tokens as one per CharsPerToken characters
// (default 4), the same approximation the ingest chunkers use for sizes.
type ApproxTokenizer struct {
	CharsPerToken int
}

var _ Tokenizer = ApproxTokenizer{}

func (t ApproxTokenizer) CountTokens(text string) int {
	per := t.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per
}

// WordTokenizer counts whitespace-separated words.
type WordTokenizer struct{}

var _ Tokenizer = WordTokenizer{}

func (WordTokenizer) CountTokens(text string) int {
	return len(strings.Fields(text))
}
