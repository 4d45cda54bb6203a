package session

import (
	"time"
)

// Ring capacities for a conversation.
const (
	HistoryCap       = 16
	RecentRepliesCap = 6
	RecentStylesCap  = 4
)

// AnonymousClientID is used when a request carries no client identifier.
const AnonymousClientID = "anonymous"

// Speaker identifies whose turn an entry or completion belongs to
type Speaker string

const (
	SpeakerNone      Speaker = "none"
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one line of conversation history
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// State is the mutable conversation state for a single client identifier.
// All access goes through Store.With, which serializes it per client.
type State struct {
	History        *Ring[Entry]  `json:"history"`
	IntroSent      bool          `json:"introSent"`
	LastReply      string        `json:"lastReply"`
	LastSpeaker    Speaker       `json:"lastSpeaker"`
	RecentReplies  *Ring[string] `json:"recentReplies"`
	RecentStyles   *Ring[string] `json:"recentStyles"`
	LastAdjacentAt time.Time     `json:"lastAdjacentAt"`

	// TurnSeq advances on every committed turn and on reset; an in-flight
	// teaser started under an older TurnSeq is stale.
	TurnSeq uint64 `json:"turnSeq"`
	// TeaserSeq advances on every issued teaser so a later teaser
	// supersedes an earlier one.
	TeaserSeq uint64 `json:"teaserSeq"`
}

// NewState returns a default-initialized conversation state
func NewState() *State {
	return &State{
		History:       NewRing[Entry](HistoryCap),
		LastSpeaker:   SpeakerNone,
		RecentReplies: NewRing[string](RecentRepliesCap),
		RecentStyles:  NewRing[string](RecentStylesCap),
	}
}

// Reset restores every field to its default. TurnSeq keeps advancing so
// teasers started before the reset are discarded.
func (s *State) Reset() {
	seq := s.TurnSeq
	*s = *NewState()
	s.TurnSeq = seq + 1
}

// AppendExchange records an accepted user turn and the assistant reply to it
func (s *State) AppendExchange(userText, reply string) {
	s.History.Push(Entry{Speaker: SpeakerUser, Text: userText})
	s.RecordAssistant(reply)
	s.RecentReplies.Push(reply)
}

// RecordAssistant appends an assistant line and marks it as the last reply
func (s *State) RecordAssistant(reply string) {
	s.History.Push(Entry{Speaker: SpeakerAssistant, Text: reply})
	s.LastReply = reply
	s.LastSpeaker = SpeakerAssistant
}

// LastUserText returns the most recent history entry spoken by the user
func (s *State) LastUserText() (string, bool) {
	items := s.History.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Speaker == SpeakerUser {
			return items[i].Text, true
		}
	}
	return "", false
}

// LastStyle returns the most recently chosen reply style
func (s *State) LastStyle() string {
	style, _ := s.RecentStyles.Last()
	return style
}

// Snapshot is a read-only view of a state used for diagnostics
type Snapshot struct {
	IntroSent   bool
	LastSpeaker Speaker
	HistoryLen  int
	LastReply   string
}

// Snapshot copies the diagnostic fields of the state
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		IntroSent:   s.IntroSent,
		LastSpeaker: s.LastSpeaker,
		HistoryLen:  s.History.Len(),
		LastReply:   s.LastReply,
	}
}
