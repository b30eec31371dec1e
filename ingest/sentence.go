package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations that should NOT be treated as sentence boundaries.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
	// French, for the corpora the CLI ships with.
	"mme": true, "mlle": true, "cf": true, "p": true,
}

// isAbbreviation reports whether the word ending at dotPos is a known
// abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

// isDecimalDot reports whether the dot at dotPos sits between two digits.
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prev, next := text[dotPos-1], text[dotPos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// findSentenceBoundaries returns byte offsets at which a new sentence starts.
// ASCII terminators (.!?) count only when followed by whitespace and are
// checked against abbreviations and decimals; CJK terminators always count.
func findSentenceBoundaries(text string) []int {
	var boundaries []int
	for i, r := range text {
		switch r {
		case '。', '！', '？':
			boundaries = append(boundaries, i+utf8.RuneLen(r))
			continue
		case '.', '!', '?':
		default:
			continue
		}
		if r == '.' && (isDecimalDot(text, i) || isAbbreviation(text, i)) {
			continue
		}

		j := i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		switch {
		case j == i+1 && (j >= len(text) || text[j] != '\n'):
			// No whitespace after the terminator.
		case j >= len(text):
			boundaries = append(boundaries, len(text))
		case text[j] == '\n':
			boundaries = append(boundaries, j)
		default:
			next, _ := utf8.DecodeRuneInString(text[j:])
			if unicode.IsUpper(next) || unicode.IsDigit(next) {
				boundaries = append(boundaries, j)
			}
		}
	}
	return boundaries
}
