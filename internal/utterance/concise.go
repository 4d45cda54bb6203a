package utterance

import (
	"strings"
	"unicode"
)

// SplitSentences splits text after '.', '!' or '?' when followed by whitespace.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			sentences = append(sentences, string(runes[start:i+1]))
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Concise keeps at most maxSentences sentences and at most maxChars runes.
// When the character cap cuts the text, the trailing partial word and any
// dangling punctuation are removed so speech never ends mid-word.
func Concise(text string, maxChars, maxSentences int) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return t
	}

	if maxSentences > 0 {
		sents := SplitSentences(t)
		if len(sents) > maxSentences {
			sents = sents[:maxSentences]
		}
		t = strings.TrimSpace(strings.Join(sents, " "))
	}

	runes := []rune(t)
	if maxChars <= 0 || len(runes) <= maxChars {
		return t
	}

	t = strings.TrimRightFunc(string(runes[:maxChars]), unicode.IsSpace)
	if idx := strings.LastIndexFunc(t, unicode.IsSpace); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimRight(t, ",;:.!? \t\r\n")
}
