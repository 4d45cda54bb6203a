// Package turn decides whether a recognized utterance is a genuine new user
// turn, an artifact to ignore, or a request to end the conversation.
package turn

import (
	"time"
	"unicode/utf8"

	"github.com/lexiqai/voice-relay/internal/safety"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/utterance"
)

// Kind is the outcome class of a turn decision
type Kind int

const (
	Reject Kind = iota
	Stopped
	Interrupt
	Accept
)

func (k Kind) String() string {
	switch k {
	case Reject:
		return "reject"
	case Stopped:
		return "stopped"
	case Interrupt:
		return "interrupt"
	case Accept:
		return "accept"
	}
	return "unknown"
}

// Reason explains a rejection. Values double as dbg tags.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty"
	ReasonStopCommand Reason = "stopCommand"
	ReasonEcho        Reason = "echoOfLastReply"
	ReasonDuplicate   Reason = "duplicateOfLastUserTurn"
	ReasonTooShort    Reason = "tooShort"
)

// Teaser gate outcomes
const (
	TeaserAllowed           = "allowed"
	TeaserAssistantSpeaking = "assistantSpeaking"
	TeaserPrefixTooShort    = "prefixTooShort"
	TeaserCooldown          = "cooldown"
	TeaserDeferred          = "deferred"
)

// Decision is the guard's verdict on one utterance
type Decision struct {
	Kind       Kind
	Reason     Reason
	Normalized string
}

// Accepted reports whether the utterance starts a new turn
func (d Decision) Accepted() bool {
	return d.Kind == Accept || d.Kind == Interrupt
}

// Tag returns the diagnostic tag for a decision that produces no reply
func (d Decision) Tag() string {
	switch d.Kind {
	case Stopped:
		return "stopped"
	case Reject:
		return string(d.Reason)
	}
	return ""
}

// Outcome is the metrics label for the decision
func (d Decision) Outcome() string {
	if d.Kind == Reject {
		return string(d.Reason)
	}
	return d.Kind.String()
}

// Config holds the guard thresholds
type Config struct {
	MinRunes       int           // letters/digits required for a final utterance
	TeaserMinRunes int           // normalized prefix length required for a teaser
	TeaserCooldown time.Duration // minimum gap between teasers
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MinRunes:       2,
		TeaserMinRunes: 14,
		TeaserCooldown: 1800 * time.Millisecond,
	}
}

// Guard applies the turn-taking rules to a conversation state. It holds no
// state of its own; callers serialize access to the session.State.
type Guard struct {
	cfg Config
}

// NewGuard creates a guard with the given thresholds
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Accept classifies a final recognition result. Only Stopped and accepted
// decisions mutate state.
func (g *Guard) Accept(state *session.State, raw string, speaking bool) Decision {
	normalized := utterance.Normalize(raw)
	if normalized == "" {
		return Decision{Kind: Reject, Reason: ReasonEmpty}
	}

	// "I want to end my life" contains a stop keyword; crisis text must
	// reach the safety reply instead.
	if safety.IsStopCommand(normalized) && !safety.IsCrisis(normalized) {
		state.Reset()
		return Decision{Kind: Stopped, Reason: ReasonStopCommand, Normalized: normalized}
	}

	if state.LastReply != "" && normalized == utterance.Normalize(state.LastReply) {
		return Decision{Kind: Reject, Reason: ReasonEcho, Normalized: normalized}
	}

	if last, ok := state.LastUserText(); ok && normalized == utterance.Normalize(last) {
		return Decision{Kind: Reject, Reason: ReasonDuplicate, Normalized: normalized}
	}

	if utterance.CountLetters(normalized) < g.cfg.MinRunes {
		return Decision{Kind: Reject, Reason: ReasonTooShort, Normalized: normalized}
	}

	state.LastSpeaker = session.SpeakerUser
	state.TurnSeq++
	if speaking {
		return Decision{Kind: Interrupt, Normalized: normalized}
	}
	return Decision{Kind: Accept, Normalized: normalized}
}

// AllowTeaser gates a provisional reply for a partial hypothesis. On success
// it stamps the cooldown and advances TeaserSeq.
func (g *Guard) AllowTeaser(state *session.State, prefix string, speaking bool, now time.Time) (bool, string) {
	if speaking {
		return false, TeaserAssistantSpeaking
	}
	normalized := utterance.Normalize(prefix)
	if utf8.RuneCountInString(normalized) < g.cfg.TeaserMinRunes {
		return false, TeaserPrefixTooShort
	}
	if !state.LastAdjacentAt.IsZero() && now.Sub(state.LastAdjacentAt) < g.cfg.TeaserCooldown {
		return false, TeaserCooldown
	}
	if safety.IsStopCommand(normalized) || safety.IsCrisis(normalized) {
		return false, TeaserDeferred
	}

	state.LastAdjacentAt = now
	state.TeaserSeq++
	return true, TeaserAllowed
}
