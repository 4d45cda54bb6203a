// Package relay runs one browser request end to end: turn-taking under the
// client's lock, reply composition, then speech synthesis outside the lock.
package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/errx"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/reply"
	"github.com/lexiqai/voice-relay/internal/safety"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/tts"
	"github.com/lexiqai/voice-relay/internal/turn"
	"github.com/lexiqai/voice-relay/internal/utterance"
)

// Diagnostic tags not produced by the guard or composer
const (
	DbgIntro            = "intro"
	DbgIntroAlreadySent = "introAlreadySent"
	DbgCrisis           = "crisis"
	DbgTeaser           = "teaser"
	DbgSuperseded       = "superseded"
	DbgEmpty            = "empty"
)

const maxTTSErrorRunes = 200

// ErrEmptyText rejects a reply request with no usable text
var ErrEmptyText = &errx.AppError{
	Err:     errors.New("text is required"),
	Status:  http.StatusBadRequest,
	Message: "text is required",
	Tag:     DbgEmpty,
}

// Response is what the browser receives for intro, reply and adjacent calls
type Response struct {
	Reply     string
	Audio     string
	TTSError  string
	Dbg       string
	Interrupt bool
}

// PingResult is the diagnostic view of a conversation
type PingResult struct {
	TS          time.Time
	IntroSent   bool
	LastSpeaker session.Speaker
}

// Relay wires the session store, guard, composer and synthesizer together
type Relay struct {
	store    session.Store
	guard    *turn.Guard
	composer *reply.Composer
	synth    tts.Synthesizer
	clock    func() time.Time
	logger   zerolog.Logger
}

// New creates a relay
func New(store session.Store, guard *turn.Guard, composer *reply.Composer, synth tts.Synthesizer, logger zerolog.Logger) *Relay {
	return &Relay{
		store:    store,
		guard:    guard,
		composer: composer,
		synth:    synth,
		clock:    time.Now,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// WithClock overrides the time source used by the teaser cooldown
func (r *Relay) WithClock(clock func() time.Time) *Relay {
	r.clock = clock
	return r
}

// Intro sends the greeting once per conversation
func (r *Relay) Intro(ctx context.Context, clientID string) (Response, error) {
	var (
		text string
		sent bool
	)
	err := r.store.With(ctx, clientID, func(s *session.State) error {
		text, sent = r.composer.Intro(s)
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	if !sent {
		return Response{Dbg: DbgIntroAlreadySent}, nil
	}

	resp := Response{Reply: text, Dbg: DbgIntro}
	r.speak(ctx, clientID, &resp)
	return resp, nil
}

// Reply handles a final recognition result
func (r *Relay) Reply(ctx context.Context, clientID, text string, speaking bool) (Response, error) {
	text = strings.TrimSpace(text)
	if utterance.Normalize(text) == "" {
		observability.RecordTurnDecision(string(turn.ReasonEmpty))
		return Response{Dbg: DbgEmpty}, ErrEmptyText
	}

	logger := r.logger.With().Str("client_id", session.ResolveClientID(clientID)).Logger()
	var resp Response
	err := r.store.With(ctx, clientID, func(s *session.State) error {
		d := r.guard.Accept(s, text, speaking)
		observability.RecordTurnDecision(d.Outcome())
		logger.Debug().Str("decision", d.Kind.String()).Str("reason", string(d.Reason)).Msg("Turn decision")

		if !d.Accepted() {
			resp.Dbg = d.Tag()
			return nil
		}
		resp.Interrupt = d.Kind == turn.Interrupt

		if safety.IsCrisis(d.Normalized) {
			logger.Warn().Msg("Crisis language detected; sending safety referral")
			resp.Reply = r.composer.RecordCrisis(s, text)
			resp.Dbg = DbgCrisis
			return nil
		}

		res := r.composer.Compose(ctx, s, text)
		resp.Reply = res.Reply
		resp.Dbg = res.Diag()
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	r.speak(ctx, clientID, &resp)
	return resp, nil
}

// Adjacent produces a provisional teaser for a partial hypothesis. A teaser
// is dropped if a final turn, a reset or a newer teaser lands first.
func (r *Relay) Adjacent(ctx context.Context, clientID, prefix string, speaking bool) (Response, error) {
	var (
		ok                 bool
		reason             string
		turnSeq, teaserSeq uint64
	)
	err := r.store.With(ctx, clientID, func(s *session.State) error {
		ok, reason = r.guard.AllowTeaser(s, prefix, speaking, r.clock())
		turnSeq, teaserSeq = s.TurnSeq, s.TeaserSeq
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	observability.RecordTeaserDecision(reason)
	if !ok {
		return Response{Dbg: reason}, nil
	}

	text, genErr := r.composer.Teaser(ctx, prefix)
	if genErr != nil {
		observability.RecordTeaserDecision("llm_error")
		return Response{Dbg: "llm_error:" + llm.Classify(genErr)}, nil
	}

	if stale, err := r.superseded(ctx, clientID, turnSeq, teaserSeq); err != nil || stale {
		observability.RecordTeaserDecision(DbgSuperseded)
		return Response{Dbg: DbgSuperseded}, err
	}

	resp := Response{Reply: text, Dbg: DbgTeaser}
	r.speak(ctx, clientID, &resp)

	// Synthesis is slow; a final reply may have committed meanwhile.
	if stale, err := r.superseded(ctx, clientID, turnSeq, teaserSeq); err != nil || stale {
		observability.RecordTeaserDecision(DbgSuperseded)
		return Response{Dbg: DbgSuperseded}, err
	}
	return resp, nil
}

func (r *Relay) superseded(ctx context.Context, clientID string, turnSeq, teaserSeq uint64) (bool, error) {
	var stale bool
	err := r.store.With(ctx, clientID, func(s *session.State) error {
		stale = s.TurnSeq != turnSeq || s.TeaserSeq != teaserSeq
		return nil
	})
	return stale, err
}

// Reset clears the conversation
func (r *Relay) Reset(ctx context.Context, clientID string) error {
	return r.store.Reset(ctx, clientID)
}

// Ping reports the conversation's diagnostic fields
func (r *Relay) Ping(ctx context.Context, clientID string) (PingResult, error) {
	res := PingResult{TS: r.clock()}
	err := r.store.With(ctx, clientID, func(s *session.State) error {
		res.IntroSent = s.IntroSent
		res.LastSpeaker = s.LastSpeaker
		return nil
	})
	return res, err
}

// speak fills in audio; synthesis failures only populate TTSError
func (r *Relay) speak(ctx context.Context, clientID string, resp *Response) {
	if resp.Reply == "" || r.synth == nil {
		return
	}
	audio, err := r.synth.Synthesize(ctx, resp.Reply)
	if err != nil {
		r.logger.Warn().Err(err).Str("client_id", session.ResolveClientID(clientID)).Msg("Speech synthesis failed")
		resp.TTSError = summarize(err)
		return
	}
	resp.Audio = audio
}

func summarize(err error) string {
	msg := "TTS error: " + err.Error()
	if utf8.RuneCountInString(msg) <= maxTTSErrorRunes {
		return msg
	}
	return string([]rune(msg)[:maxTTSErrorRunes])
}
