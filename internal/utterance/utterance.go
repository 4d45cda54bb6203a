package utterance

import (
	"strings"
	"unicode"
)

// Normalize collapses whitespace runs to single spaces, trims the ends and
// lower-cases the result. It is used for every comparison between utterances.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Tokens splits text into lower-case words made of letters, digits and
// apostrophes.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Jaccard returns the token-set Jaccard similarity of a and b.
// Returns 0 when either side has no tokens.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	toks := Tokens(text)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// CountLetters returns the number of letters and digits in text.
func CountLetters(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// EndsWithQuestion reports whether text, ignoring trailing whitespace and
// closing quotes, ends in a question mark.
func EndsWithQuestion(text string) bool {
	t := strings.TrimRight(text, " \t\r\n\"')”’")
	return strings.HasSuffix(t, "?")
}
