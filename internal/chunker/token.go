package chunker

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens gives a rough token count: the larger of ~1.33 tokens per
// word and ~4 characters per token. Markdown tables and code have few
// spaces, which the character bound covers. Appending text never lowers
// the estimate.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return estimate(len(strings.Fields(text)), utf8.RuneCountInString(text))
}

func estimate(words, runes int) int {
	byWords := int(float64(words) * 1.33)
	byChars := (runes + 3) / 4
	if byChars > byWords {
		return byChars
	}
	return byWords
}
