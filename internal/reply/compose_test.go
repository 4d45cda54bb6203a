package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm/llmtest"
	"github.com/lexiqai/voice-relay/internal/safety"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/utterance"
)

func newComposer(model *llmtest.Model, mutate ...func(*Config)) *Composer {
	cfg := DefaultConfig()
	cfg.Seed = 42
	for _, m := range mutate {
		m(&cfg)
	}
	return NewComposer(model, cfg, zerolog.Nop())
}

func TestCompose_SuccessRecordsExchange(t *testing.T) {
	model := llmtest.New("Work stress can pile up fast. Try a two-minute walk before your next task.")
	c := newComposer(model)
	state := session.NewState()

	res := c.Compose(context.Background(), state, "I'm stressed about work")

	if res.Reply != "Work stress can pile up fast. Try a two-minute walk before your next task." {
		t.Errorf("Unexpected reply %q", res.Reply)
	}
	if !strings.HasPrefix(res.Diag(), "llm_ok") || !strings.HasSuffix(res.Diag(), "style="+string(res.Style)) {
		t.Errorf("Unexpected diag %q", res.Diag())
	}
	if state.History.Len() != 2 || state.RecentReplies.Len() != 1 {
		t.Errorf("Expected one exchange recorded, got history %d recent %d", state.History.Len(), state.RecentReplies.Len())
	}
	if state.LastReply != res.Reply || state.LastSpeaker != session.SpeakerAssistant {
		t.Errorf("Expected LastReply/LastSpeaker updated, got %+v", state.Snapshot())
	}
	if state.LastStyle() != string(res.Style) {
		t.Errorf("Expected style %q recorded, got %q", res.Style, state.LastStyle())
	}
	if model.Calls() != 1 {
		t.Errorf("Expected 1 model call, got %d", model.Calls())
	}
}

func TestCompose_QuestionStreakRegeneratesOnce(t *testing.T) {
	tests := []struct {
		name  string
		regen string
	}{
		{"regen ends with statement", "Try one slow breath before the meeting."},
		{"regen still asks", "Which part of the meeting worries you most?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llmtest.New("What would help you feel ready for tomorrow?", tt.regen)
			c := newComposer(model)
			state := session.NewState()
			state.AppendExchange("first", "How did that land for you?")
			state.AppendExchange("second", "What happened after that?")

			res := c.Compose(context.Background(), state, "I have a big meeting")

			if model.Calls() != 2 {
				t.Fatalf("Expected exactly 2 model calls, got %d", model.Calls())
			}
			if res.Reply != tt.regen {
				t.Errorf("Expected regenerated reply %q, got %q", tt.regen, res.Reply)
			}
			if !strings.Contains(res.Diag(), "regen_question") {
				t.Errorf("Expected regen_question tag, got %q", res.Diag())
			}
			last := model.Requests()[1].Messages
			if last[len(last)-1].Content != noQuestionInstruction {
				t.Errorf("Expected regeneration instruction last, got %q", last[len(last)-1].Content)
			}
		})
	}
}

func TestCompose_SingleQuestionNoRegen(t *testing.T) {
	model := llmtest.New("What feels heaviest right now?")
	c := newComposer(model)
	state := session.NewState()
	state.AppendExchange("first", "Try writing it down.")
	state.AppendExchange("second", "What happened after that?")

	c.Compose(context.Background(), state, "still stuck")

	if model.Calls() != 1 {
		t.Errorf("Expected no regeneration, got %d calls", model.Calls())
	}
}

func TestCompose_DiversityRegeneration(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{"near duplicate of recent reply", "Take a slow breath and name one small step."},
		{"banned opener", "It sounds like a lot. Start with one email."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llmtest.New(tt.first, "Stand up, stretch, and pick the easiest task first.")
			c := newComposer(model)
			state := session.NewState()
			state.AppendExchange("earlier", "Take a slow breath and name one small step!")

			res := c.Compose(context.Background(), state, "I can't focus")

			if model.Calls() != 2 {
				t.Fatalf("Expected 2 model calls, got %d", model.Calls())
			}
			if res.Reply != "Stand up, stretch, and pick the easiest task first." {
				t.Errorf("Unexpected reply %q", res.Reply)
			}
			if !strings.Contains(res.Diag(), "regen_diversity") {
				t.Errorf("Expected regen_diversity tag, got %q", res.Diag())
			}
		})
	}
}

func duplicateState() *session.State {
	state := session.NewState()
	state.AppendExchange("a", "What happened next?")
	state.AppendExchange("b", "How did that feel?")
	return state
}

func TestCompose_PoliciesAreBoundedAndDuplicateSuppressed(t *testing.T) {
	model := llmtest.New("How did that feel?")
	c := newComposer(model)
	state := duplicateState()
	historyLen := state.History.Len()

	res := c.Compose(context.Background(), state, "it was fine")

	if model.Calls() != 3 {
		t.Fatalf("Expected first call plus one regeneration per policy, got %d", model.Calls())
	}
	if res.Reply != "" {
		t.Errorf("Expected suppressed reply, got %q", res.Reply)
	}
	if !strings.Contains(res.Diag(), "duplicateReplySuppressed") {
		t.Errorf("Expected suppression tag, got %q", res.Diag())
	}
	if state.History.Len() != historyLen+1 {
		t.Errorf("Expected only the user turn recorded, got history %d", state.History.Len())
	}
	if state.RecentReplies.Len() != 2 {
		t.Errorf("Expected recent replies unchanged")
	}
}

func TestCompose_SoftenDuplicates(t *testing.T) {
	model := llmtest.New("How did that feel?")
	c := newComposer(model, func(cfg *Config) { cfg.SoftenDuplicates = true })
	state := duplicateState()

	res := c.Compose(context.Background(), state, "it was fine")

	if res.Reply != "How did that feel? "+clarifyingQuestion {
		t.Errorf("Unexpected softened reply %q", res.Reply)
	}
	if !strings.Contains(res.Diag(), "softened") {
		t.Errorf("Expected softened tag, got %q", res.Diag())
	}
	if state.LastReply != res.Reply {
		t.Errorf("Expected softened reply recorded")
	}
}

func TestCompose_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		model *llmtest.Model
		reply string
		diag  string
	}{
		{"error", llmtest.New().Script(llmtest.Response{Err: errors.New("boom")}), FallbackError, "llm_error:unknown"},
		{"empty", llmtest.New("   "), FallbackEmpty, "llm_empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newComposer(tt.model)
			state := session.NewState()
			state.AppendExchange("hi", "Hello.")

			res := c.Compose(context.Background(), state, "help me")

			if res.Reply != tt.reply || !res.Fallback {
				t.Errorf("Expected fallback %q, got %q", tt.reply, res.Reply)
			}
			if !strings.HasPrefix(res.Diag(), tt.diag) {
				t.Errorf("Expected diag %q, got %q", tt.diag, res.Diag())
			}
			if state.History.Len() != 2 || state.RecentReplies.Len() != 1 {
				t.Error("Expected fallback to stay out of history")
			}
			if state.LastReply != tt.reply || state.LastSpeaker != session.SpeakerAssistant {
				t.Error("Expected fallback to be echo-guarded")
			}
		})
	}
}

func TestCompose_CapsLength(t *testing.T) {
	long := strings.Repeat("This sentence keeps going with more words. ", 20)
	model := llmtest.New(long)
	c := newComposer(model)

	res := c.Compose(context.Background(), session.NewState(), "tell me everything")

	if n := utf8.RuneCountInString(res.Reply); n > 520 {
		t.Errorf("Expected at most 520 runes, got %d", n)
	}
	if n := len(utterance.SplitSentences(res.Reply)); n > 5 {
		t.Errorf("Expected at most 5 sentences, got %d", n)
	}
}

func TestCompose_PromptShape(t *testing.T) {
	model := llmtest.New("A fresh answer about the present moment.")
	c := newComposer(model)
	state := session.NewState()
	for i := 0; i < 10; i++ {
		state.AppendExchange(fmt.Sprintf("user %d", i), fmt.Sprintf("assistant %d", i))
	}

	c.Compose(context.Background(), state, "latest words")

	msgs := model.Requests()[0].Messages
	if len(msgs) != 2+12+1 {
		t.Fatalf("Expected 15 messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.System || !strings.Contains(msgs[0].Content, "Tahlia") {
		t.Errorf("Expected persona system prompt first, got %+v", msgs[0])
	}
	if msgs[2].Content != "user 4" || msgs[13].Content != "assistant 9" {
		t.Errorf("Expected the last 12 history entries, got %q .. %q", msgs[2].Content, msgs[13].Content)
	}
	if msgs[14].Role != schema.User || msgs[14].Content != "latest words" {
		t.Errorf("Expected the new user turn last, got %+v", msgs[14])
	}
	if req := model.Requests()[0]; req.Temperature != 0.6 || req.MaxTokens != 320 {
		t.Errorf("Unexpected generation params %+v", req)
	}
}

func TestIntro(t *testing.T) {
	c := newComposer(llmtest.New())
	state := session.NewState()

	text, ok := c.Intro(state)
	if !ok || !strings.Contains(text, "Tahlia") {
		t.Fatalf("Expected intro, got %q, %v", text, ok)
	}
	if !state.IntroSent || state.LastReply != text {
		t.Error("Expected intro recorded as the last assistant reply")
	}

	text, ok = c.Intro(state)
	if ok || text != "" {
		t.Errorf("Expected no second intro, got %q", text)
	}
	if !state.IntroSent {
		t.Error("Expected IntroSent to remain true")
	}
}

func TestRecordCrisis(t *testing.T) {
	model := llmtest.New("should not be used")
	c := newComposer(model)
	state := session.NewState()

	reply := c.RecordCrisis(state, "i want to kill myself")

	if reply != safety.CrisisMessage || state.LastReply != safety.CrisisMessage {
		t.Errorf("Expected crisis message recorded")
	}
	if state.History.Len() != 2 {
		t.Errorf("Expected exchange in history, got %d", state.History.Len())
	}
	if model.Calls() != 0 {
		t.Errorf("Expected no model calls, got %d", model.Calls())
	}
}

func TestTeaser(t *testing.T) {
	model := llmtest.New("That sounds like a heavy week. More soon!")
	c := newComposer(model)

	text, err := c.Teaser(context.Background(), "so this week has been")
	if err != nil {
		t.Fatalf("Teaser failed: %v", err)
	}
	if text != "That sounds like a heavy week." {
		t.Errorf("Expected a single sentence, got %q", text)
	}
	if req := model.Requests()[0]; req.MaxTokens != 60 {
		t.Errorf("Expected teaser token budget, got %d", req.MaxTokens)
	}
}

func TestStyleWeights(t *testing.T) {
	tests := []struct {
		last     Style
		expected map[Style]float64
	}{
		{"", map[Style]float64{StyleInquire: 0.45, StyleTip: 0.35, StyleStory: 0.20}},
		{StyleInquire, map[Style]float64{StyleInquire: 0.225, StyleTip: 0.35, StyleStory: 0.20}},
		{StyleTip, map[Style]float64{StyleInquire: 0.70, StyleTip: 0.175, StyleStory: 0.20}},
		{StyleStory, map[Style]float64{StyleInquire: 0.70, StyleTip: 0.35, StyleStory: 0.10}},
	}
	for _, tt := range tests {
		got := styleWeights(tt.last)
		for s, w := range tt.expected {
			if diff := got[s] - w; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("last=%q: weight[%s] = %v, expected %v", tt.last, s, got[s], w)
			}
		}
	}
}

func TestPickStyle_Deterministic(t *testing.T) {
	a, b := newLockedRand(7), newLockedRand(7)
	last := Style("")
	for i := 0; i < 50; i++ {
		sa, sb := a.pickStyle(last), b.pickStyle(last)
		if sa != sb {
			t.Fatalf("Step %d diverged: %s vs %s", i, sa, sb)
		}
		last = sa
	}
}
