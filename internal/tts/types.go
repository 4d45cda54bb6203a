package tts

import "context"

// Synthesizer turns reply text into playable audio
type Synthesizer interface {
	// Synthesize returns a data URI with the encoded audio. Empty text
	// yields empty audio and no error.
	Synthesize(ctx context.Context, text string) (string, error)
}

// VoiceSettings are the ElevenLabs voice tuning parameters
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings returns the relay's calm, close-mic voice
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.45,
		SimilarityBoost: 0.85,
		Style:           0.25,
		UseSpeakerBoost: true,
	}
}

// synthesisRequest represents the request payload for the ElevenLabs TTS API
type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// SynthesizerFunc adapts a function to Synthesizer
type SynthesizerFunc func(ctx context.Context, text string) (string, error)

// Synthesize calls f
func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
