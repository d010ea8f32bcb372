// Package pipeline sequences a sealed utterance through transcription,
// emotion analysis, safety moderation, reply generation, and speech
// synthesis, with every external call gated by a circuit breaker.
package pipeline

import (
	"context"

	"github.com/plushtalk/voice-gateway/internal/session"
)

// TranscriptResult holds the transcription stage output.
type TranscriptResult struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Transcriber produces text from 16 kHz mono samples.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (*TranscriptResult, error)
}

// Emotion is the emotion stage output.
type Emotion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// EmotionUnknown is the degraded label used when the emotion stage fails;
// an emotion failure never aborts a turn.
var EmotionUnknown = Emotion{Label: "unknown"}

// EmotionAnalyzer classifies the speaker's emotional tone from audio.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, samples []float32) (*Emotion, error)
}

// Verdict is the moderation stage outcome.
type Verdict string

const (
	VerdictSafe      Verdict = "safe"
	VerdictUnsafe    Verdict = "unsafe"
	VerdictUncertain Verdict = "uncertain"
)

// Moderation holds the safety verdict for one transcript.
type Moderation struct {
	Verdict Verdict  `json:"verdict"`
	Reasons []string `json:"reasons,omitempty"`
}

// Moderator decides whether a transcript is safe to answer. Anything other
// than VerdictSafe keeps the generator from ever seeing the content.
type Moderator interface {
	Moderate(ctx context.Context, text string, sctx session.Snapshot) (*Moderation, error)
}

// Generator produces a reply for a safe transcript, given the session's
// recent-turn context.
type Generator interface {
	Generate(ctx context.Context, text string, sctx session.Snapshot) (string, error)
}

// Synthesizer renders reply text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Stages bundles the five external-service clients consumed by the
// orchestrator. Each is swappable without touching control flow.
type Stages struct {
	Transcriber Transcriber
	Emotion     EmotionAnalyzer
	Moderator   Moderator
	Generator   Generator
	Synthesizer Synthesizer
}
