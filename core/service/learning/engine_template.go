package learning

import (
	"strings"
	"unicode"
)

// slugFromText derives a short pattern name from the trigger text: the
// first few significant words, lowercased and hyphen-joined.
func slugFromText(text string, maxWords int) string {
	var words []string
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if stopWords[f] {
			continue
		}
		words = append(words, f)
		if len(words) == maxWords {
			break
		}
	}
	if len(words) == 0 {
		return "untitled"
	}
	return strings.Join(words, "-")
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "me": true, "my": true,
	"is": true, "are": true, "was": true, "do": true, "does": true,
	"to": true, "of": true, "for": true, "in": true, "on": true, "at": true,
	"you": true, "your": true, "we": true, "our": true, "it": true,
	"please": true, "hi": true, "hello": true, "thanks": true,
}
