package matching

import (
	"strings"
	"unicode"
)

// ============================================
// Lexical scoring
// ============================================

// Tokenize lowercases the text and splits it on anything that is not a
// letter or digit. Duplicate tokens collapse to one.
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

// ContainsTerm reports whether the term appears in the token set. Multi-word
// terms match when every word is present.
func ContainsTerm(tokens map[string]struct{}, term string) bool {
	words := strings.Fields(strings.ToLower(term))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := tokens[w]; !ok {
			return false
		}
	}
	return true
}

// LexicalScore is the best token overlap between the message and any of the
// pattern's trigger examples, as a Jaccard index in [0,1].
func LexicalScore(messageTokens map[string]struct{}, triggerExamples []string) float64 {
	best := 0.0
	for _, example := range triggerExamples {
		exampleTokens := Tokenize(example)
		if len(exampleTokens) == 0 {
			continue
		}
		common := 0
		for t := range exampleTokens {
			if _, ok := messageTokens[t]; ok {
				common++
			}
		}
		union := len(messageTokens) + len(exampleTokens) - common
		if union == 0 {
			continue
		}
		if score := float64(common) / float64(union); score > best {
			best = score
		}
	}
	return best
}
