package safety

import (
	"strings"
	"unicode/utf8"
)

// shortCommandMaxRunes bounds the substring rule for stop commands so that
// long sentences which merely mention a keyword are not treated as a stop.
const shortCommandMaxRunes = 24

var stopKeywords = []string{
	"stop",
	"quit",
	"end",
	"goodbye",
	"end call",
	"terminate",
	"stop talking",
	"end session",
}

var crisisLexicon = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"killing myself",
	"end my life",
	"want to die",
	"overdose",
	"self harm",
	"self-harm",
	"hurt myself",
	"cut myself",
	"no reason to live",
}

// CrisisMessage is returned verbatim whenever crisis content is detected.
// It is never generated and never depends on an external service.
const CrisisMessage = "I'm really sorry you're carrying this right now, and I'm glad you told me. " +
	"If you might act on these thoughts or you're in danger, please call your local emergency number now. " +
	"In the US you can call or text 988 to reach the crisis lifeline, any time of day. " +
	"You don't have to go through this alone."

// IsStopCommand reports whether normalized text asks to end the conversation:
// either an exact keyword, or a short phrase containing one.
func IsStopCommand(normalized string) bool {
	if normalized == "" {
		return false
	}
	for _, kw := range stopKeywords {
		if normalized == kw {
			return true
		}
	}
	if utf8.RuneCountInString(normalized) > shortCommandMaxRunes {
		return false
	}
	for _, kw := range stopKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// IsCrisis reports whether normalized text contains a self-harm risk phrase.
func IsCrisis(normalized string) bool {
	if normalized == "" {
		return false
	}
	for _, phrase := range crisisLexicon {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
