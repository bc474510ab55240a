package chunker

import (
	"strings"
	"unicode"
)

// Common abbreviations whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "fig": true, "no": true, "vol": true,
	"approx": true, "dept": true, "inc": true, "ltd": true, "corp": true,
}

// SplitSentences splits prose into sentences. Terminators are . ! ?,
// with suppression for abbreviations, enumeration markers ("1."), and
// decimals ("3.5"). Newline-delimited fragments without terminal
// punctuation are their own sentences, so list items stay intact.
func SplitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)

		switch r {
		case '\n':
			flush()
		case '!', '?':
			flush()
		case '.':
			if sentenceBoundary(runes, i) {
				flush()
			}
		}
	}
	flush()
	return sentences
}

// sentenceBoundary decides whether the period at runes[i] ends a
// sentence.
func sentenceBoundary(runes []rune, i int) bool {
	// Decimal number: digit on both sides.
	if i > 0 && i+1 < len(runes) &&
		unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}

	// Word immediately before the period.
	j := i - 1
	for j >= 0 && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '.') {
		j--
	}
	word := strings.ToLower(string(runes[j+1 : i]))

	// Enumeration marker at line start: "1." or "12." introducing a step.
	if isAllDigits(word) && lineStartsAt(runes, j+1) {
		return false
	}
	if abbreviations[word] {
		return false
	}
	// Single-letter initial, as in "J. Smith".
	if len(word) == 1 && word >= "a" && word <= "z" {
		return false
	}

	// Require whitespace-then-capital (or end of text) after the period.
	k := i + 1
	for k < len(runes) && runes[k] == ' ' {
		k++
	}
	if k == len(runes) || runes[k] == '\n' {
		return true
	}
	if k == i+1 {
		// No space after the period: "v1.2", "example.com".
		return false
	}
	return unicode.IsUpper(runes[k]) || unicode.IsDigit(runes[k]) || runes[k] == '"'
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// lineStartsAt reports whether position p is preceded only by spaces
// back to the previous newline or start of text.
func lineStartsAt(runes []rune, p int) bool {
	for q := p - 1; q >= 0; q-- {
		switch runes[q] {
		case '\n':
			return true
		case ' ', '\t':
			continue
		default:
			return false
		}
	}
	return true
}
