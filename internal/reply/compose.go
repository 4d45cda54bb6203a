// Package reply builds language-model prompts for accepted turns and applies
// the post-generation policies: capping, anti-question and diversity
// regeneration, duplicate handling and fallbacks.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/safety"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/utterance"
)

// Fallback replies spoken when generation fails
const (
	FallbackEmpty = "Try a tiny step: inhale for 4, exhale for 6, three rounds. Then jot one smallest next action."
	FallbackError = "Quick grounding: inhale 4 / exhale 6 for 4 rounds. Then name one tiny next step that reduces friction by 5%."
)

const (
	noQuestionInstruction = "Rewrite your answer so it does not end with a question. Close with a statement or a concrete suggestion."
	rewordInstruction     = "That answer repeats earlier wording. Say it differently: new phrasing, no stock openers, same brevity."
	clarifyingQuestion    = "Could you tell me a bit more about what's behind that?"
)

// bannedOpeners are stock phrases that make a voice partner sound scripted
var bannedOpeners = []string{
	"it sounds like",
	"i hear you",
	"i understand that",
	"that must be",
	"as an ai",
}

// Config tunes prompt building and post-generation policies
type Config struct {
	AssistantName      string
	Temperature        float32
	MaxTokens          int
	MaxChars           int
	MaxSentences       int
	HistoryWindow      int
	DiversityThreshold float64
	SoftenDuplicates   bool
	TeaserMaxChars     int
	TeaserMaxTokens    int
	Seed               int64 // 0 seeds from the clock
}

// DefaultConfig returns the standard composer settings
func DefaultConfig() Config {
	return Config{
		AssistantName:      "Tahlia",
		Temperature:        0.6,
		MaxTokens:          320,
		MaxChars:           520,
		MaxSentences:       5,
		HistoryWindow:      12,
		DiversityThreshold: 0.90,
		TeaserMaxChars:     160,
		TeaserMaxTokens:    60,
	}
}

// Result is the outcome of one composition
type Result struct {
	Reply    string
	Style    Style
	Fallback bool
	tags     []string
}

// Diag renders the diagnostic tag, e.g. "llm_ok+regen_question+style=inquire"
func (r Result) Diag() string {
	return strings.Join(r.tags, "+")
}

// Composer generates replies. It is safe for concurrent use; callers
// serialize access to each session.State.
type Composer struct {
	model  llm.ChatModel
	cfg    Config
	rng    *lockedRand
	logger zerolog.Logger
}

// NewComposer creates a composer around a chat model
func NewComposer(model llm.ChatModel, cfg Config, logger zerolog.Logger) *Composer {
	return &Composer{
		model:  model,
		cfg:    cfg,
		rng:    newLockedRand(cfg.Seed),
		logger: logger.With().Str("component", "composer").Logger(),
	}
}

// Intro records the greeting as the first assistant turn. It returns false
// when the greeting was already sent.
func (c *Composer) Intro(state *session.State) (string, bool) {
	if state.IntroSent {
		return "", false
	}
	text := fmt.Sprintf("Hi, I'm %s. I'm here to listen and help you find one small next step. What's on your mind today?", c.cfg.AssistantName)
	state.IntroSent = true
	state.RecordAssistant(text)
	return text, true
}

// RecordCrisis stores the fixed safety referral as the reply to userText
func (c *Composer) RecordCrisis(state *session.State, userText string) string {
	state.AppendExchange(userText, safety.CrisisMessage)
	return safety.CrisisMessage
}

// Compose generates the reply to an accepted user turn and records it.
// Generation failures become a fallback reply; Compose never fails.
func (c *Composer) Compose(ctx context.Context, state *session.State, userText string) Result {
	style := c.rng.pickStyle(Style(state.LastStyle()))
	state.RecentStyles.Push(string(style))
	res := Result{Style: style}

	candidate, err := c.generate(ctx, c.prompt(state, userText, style, ""))
	if err != nil {
		return c.fallback(state, res, err)
	}
	res.tags = append(res.tags, "llm_ok")

	if utterance.EndsWithQuestion(candidate) && c.questionStreak(state) {
		observability.RecordRegeneration("question")
		res.tags = append(res.tags, "regen_question")
		if regen, err := c.generate(ctx, c.prompt(state, userText, style, noQuestionInstruction)); err == nil {
			candidate = regen
		} else {
			c.logger.Debug().Err(err).Msg("Question regeneration failed; keeping first candidate")
		}
	}

	if c.tooSimilar(state, candidate) || startsWithBannedOpener(candidate) {
		observability.RecordRegeneration("diversity")
		res.tags = append(res.tags, "regen_diversity")
		if regen, err := c.generate(ctx, c.prompt(state, userText, style, rewordInstruction)); err == nil {
			candidate = regen
		} else {
			c.logger.Debug().Err(err).Msg("Diversity regeneration failed; keeping candidate")
		}
	}

	if state.LastReply != "" && utterance.Normalize(candidate) == utterance.Normalize(state.LastReply) {
		if !c.cfg.SoftenDuplicates {
			// The user turn is kept so a repeated final result is still caught.
			state.History.Push(session.Entry{Speaker: session.SpeakerUser, Text: userText})
			res.tags = append(res.tags, "duplicateReplySuppressed", "style="+string(style))
			return res
		}
		candidate = candidate + " " + clarifyingQuestion
		res.tags = append(res.tags, "softened")
	}

	state.AppendExchange(userText, candidate)
	res.Reply = candidate
	res.tags = append(res.tags, "style="+string(style))
	return res
}

// Teaser generates one short provisional sentence for a partial hypothesis.
// It never touches conversation state.
func (c *Composer) Teaser(ctx context.Context, prefix string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(
			"You are %s, a warm voice companion. The user is still speaking. "+
				"Reply with one short acknowledging sentence of at most 15 words that fits what they have said so far. "+
				"No questions and no advice yet.", c.cfg.AssistantName)),
		schema.UserMessage(strings.TrimSpace(prefix)),
	}
	text, err := c.model.Generate(ctx, llm.Request{
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.TeaserMaxTokens,
	})
	if err != nil {
		return "", err
	}
	text = utterance.Concise(text, c.cfg.TeaserMaxChars, 1)
	if text == "" {
		return "", llm.ErrEmptyReply
	}
	return text, nil
}

func (c *Composer) fallback(state *session.State, res Result, err error) Result {
	reason := llm.Classify(err)
	res.Fallback = true
	if errors.Is(err, llm.ErrEmptyReply) {
		res.Reply = FallbackEmpty
		res.tags = append(res.tags, "llm_empty")
	} else {
		res.Reply = FallbackError
		res.tags = append(res.tags, "llm_error:"+reason)
	}
	observability.RecordFallback(reason)
	c.logger.Warn().Err(err).Str("reason", reason).Msg("Language model failed; using fallback reply")

	// Spoken aloud, so it must be echo-guarded, but it is not history.
	state.LastReply = res.Reply
	state.LastSpeaker = session.SpeakerAssistant
	return res
}

func (c *Composer) generate(ctx context.Context, msgs []*schema.Message) (string, error) {
	text, err := c.model.Generate(ctx, llm.Request{
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	text = utterance.Concise(text, c.cfg.MaxChars, c.cfg.MaxSentences)
	if text == "" {
		return "", llm.ErrEmptyReply
	}
	return text, nil
}

func (c *Composer) systemPrompt() string {
	return fmt.Sprintf(
		"You are %s, a warm, practical, therapist-like conversational partner speaking out loud. "+
			"Give a brief reflection first, then one specific tip the user can try now. "+
			"Prefer 2-4 short sentences. Be concrete, no filler, no lists, no stock openers. "+
			"If the user mentions self-harm or suicide, respond with care and urge them to contact local emergency services or call or text 988.",
		c.cfg.AssistantName)
}

// prompt assembles system, style, recent history, the user turn and an
// optional regeneration instruction.
func (c *Composer) prompt(state *session.State, userText string, style Style, extra string) []*schema.Message {
	history := state.History.Tail(c.cfg.HistoryWindow)
	msgs := make([]*schema.Message, 0, len(history)+4)
	msgs = append(msgs,
		schema.SystemMessage(c.systemPrompt()),
		schema.SystemMessage(styleInstructions[style]),
	)
	for _, e := range history {
		switch e.Speaker {
		case session.SpeakerUser:
			msgs = append(msgs, schema.UserMessage(e.Text))
		case session.SpeakerAssistant:
			msgs = append(msgs, schema.AssistantMessage(e.Text, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(userText))
	if extra != "" {
		msgs = append(msgs, schema.SystemMessage(extra))
	}
	return msgs
}

// questionStreak reports whether at least two of the last three stored
// replies ended with a question.
func (c *Composer) questionStreak(state *session.State) bool {
	n := 0
	for _, r := range state.RecentReplies.Tail(3) {
		if utterance.EndsWithQuestion(r) {
			n++
		}
	}
	return n >= 2
}

func (c *Composer) tooSimilar(state *session.State, candidate string) bool {
	for _, r := range state.RecentReplies.Items() {
		if utterance.Jaccard(candidate, r) >= c.cfg.DiversityThreshold {
			return true
		}
	}
	return false
}

func startsWithBannedOpener(text string) bool {
	normalized := utterance.Normalize(text)
	for _, p := range bannedOpeners {
		if strings.HasPrefix(normalized, p) {
			return true
		}
	}
	return false
}
