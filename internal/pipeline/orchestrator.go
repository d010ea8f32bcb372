package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plushtalk/voice-gateway/internal/audio"
	"github.com/plushtalk/voice-gateway/internal/breaker"
	"github.com/plushtalk/voice-gateway/internal/metrics"
	"github.com/plushtalk/voice-gateway/internal/session"
)

// Status is the terminal state of one pipeline run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTextOnly  Status = "text_only_completed" // reply text delivered, synthesis failed
	StatusFallback  Status = "fallback"            // pre-approved reply, never derived from the blocked content
	StatusFailed    Status = "failed"              // transcription failed; no reply possible
	StatusFiltered  Status = "filtered"            // empty or noise transcript; no turn happened
)

// StageTiming records one stage call for the outcome event.
type StageTiming struct {
	Stage     string
	LatencyMs float64
	Err       string
}

// Result is the outcome of one utterance's pipeline run.
type Result struct {
	TurnID     string
	ConnID     string
	SessionID  string
	Status     Status
	Transcript string
	Emotion    Emotion
	Verdict    Verdict
	ReplyText  string
	Audio      []byte
	AudioRef   string
	Stages     []StageTiming
	Elapsed    time.Duration
}

// Breakers holds one circuit breaker per external service.
type Breakers struct {
	Transcription *breaker.Breaker
	Emotion       *breaker.Breaker
	Moderation    *breaker.Breaker
	Generation    *breaker.Breaker
	Synthesis     *breaker.Breaker
}

// All returns the breakers for the status endpoint.
func (b Breakers) All() []*breaker.Breaker {
	return []*breaker.Breaker{b.Transcription, b.Emotion, b.Moderation, b.Generation, b.Synthesis}
}

// DeliverFunc hands a finished result back to the connection. An error means
// the connection is gone; the result is then dropped, never re-surfaced.
type DeliverFunc func(connID string, res *Result) error

// RecordFunc publishes the outcome to the observability collaborator.
type RecordFunc func(res *Result)

// Config wires an orchestrator.
type Config struct {
	Stages            Stages
	Breakers          Breakers
	Sessions          *session.Store
	Fallback          *FallbackPicker
	NoSpeechThreshold float64
	Deliver           DeliverFunc
	Record            RecordFunc
}

// Orchestrator runs the transcribe → emotion → moderate → generate →
// synthesize chain for sealed utterances. Reply generation is reachable
// only through a "safe" moderation verdict; every other moderation outcome
// fails closed into the fallback reply.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.NoSpeechThreshold <= 0 {
		cfg.NoSpeechThreshold = 0.6
	}
	if cfg.Fallback == nil {
		cfg.Fallback = NewFallbackPicker(nil)
	}
	return &Orchestrator{cfg: cfg}
}

// Process runs one utterance to a terminal state, updates session context,
// delivers the reply, and publishes the outcome. Runs for different
// connections may proceed in parallel; the caller serializes runs per
// connection (see Worker).
func (o *Orchestrator) Process(ctx context.Context, utt *audio.Utterance, sessionID string) *Result {
	start := time.Now()
	res := o.run(ctx, utt, sessionID)
	res.Elapsed = time.Since(start)

	metrics.PipelineOutcomes.WithLabelValues(string(res.Status)).Inc()
	metrics.E2EDuration.Observe(res.Elapsed.Seconds())

	switch res.Status {
	case StatusCompleted, StatusTextOnly, StatusFallback:
		o.cfg.Sessions.AppendTurn(sessionID, session.Turn{
			User:      res.Transcript,
			Assistant: res.ReplyText,
			Emotion:   res.Emotion.Label,
		})
		o.deliver(res)
	case StatusFailed, StatusFiltered:
		// No turn happened, but every sealed utterance still gets an
		// answer so the device is never left waiting.
		o.deliver(res)
	}

	if o.cfg.Record != nil {
		o.cfg.Record(res)
	}

	slog.Info("pipeline_done",
		"turn_id", res.TurnID,
		"conn_id", res.ConnID,
		"status", res.Status,
		"verdict", res.Verdict,
		"e2e_ms", res.Elapsed.Milliseconds(),
	)
	return res
}

func (o *Orchestrator) deliver(res *Result) {
	if o.cfg.Deliver == nil {
		return
	}
	if err := o.cfg.Deliver(res.ConnID, res); err != nil {
		metrics.OutboundDropped.Inc()
		slog.Warn("reply undeliverable", "conn_id", res.ConnID, "turn_id", res.TurnID, "error", err)
	}
}

func (o *Orchestrator) run(ctx context.Context, utt *audio.Utterance, sessionID string) *Result {
	res := &Result{
		TurnID:    uuid.NewString(),
		ConnID:    utt.ConnID,
		SessionID: sessionID,
		Emotion:   EmotionUnknown,
	}
	snap := o.cfg.Sessions.Snapshot(sessionID)

	// Transcription: the only stage whose failure ends the turn outright.
	var tr *TranscriptResult
	err := o.stage(ctx, res, "transcription", o.cfg.Breakers.Transcription, func(ctx context.Context) error {
		var stageErr error
		tr, stageErr = o.cfg.Stages.Transcriber.Transcribe(ctx, utt.Samples)
		return stageErr
	})
	if err != nil {
		res.Status = StatusFailed
		return res
	}

	transcript := strings.TrimSpace(tr.Text)
	if transcript == "" || tr.NoSpeechProb > o.cfg.NoSpeechThreshold || isNoiseTranscript(transcript) {
		res.Status = StatusFiltered
		return res
	}
	res.Transcript = transcript

	// Emotion: degrades to "unknown", never aborts the turn.
	if o.cfg.Stages.Emotion != nil {
		var emo *Emotion
		err = o.stage(ctx, res, "emotion", o.cfg.Breakers.Emotion, func(ctx context.Context) error {
			var stageErr error
			emo, stageErr = o.cfg.Stages.Emotion.Analyze(ctx, utt.Samples)
			return stageErr
		})
		if err == nil && emo != nil {
			res.Emotion = *emo
		}
	}

	// Moderation: the mandatory gate. A timeout, open circuit, or any
	// verdict other than "safe" takes the fallback path; generation is
	// unreachable from here on anything but an explicit safe verdict.
	var mod *Moderation
	err = o.stage(ctx, res, "moderation", o.cfg.Breakers.Moderation, func(ctx context.Context) error {
		var stageErr error
		mod, stageErr = o.cfg.Stages.Moderator.Moderate(ctx, transcript, snap)
		return stageErr
	})
	if err != nil || mod == nil {
		res.Verdict = VerdictUncertain
	} else {
		res.Verdict = mod.Verdict
	}
	metrics.ModerationVerdicts.WithLabelValues(string(res.Verdict)).Inc()

	if res.Verdict == VerdictSafe {
		var reply string
		err = o.stage(ctx, res, "generation", o.cfg.Breakers.Generation, func(ctx context.Context) error {
			var stageErr error
			reply, stageErr = o.cfg.Stages.Generator.Generate(ctx, transcript, snap)
			return stageErr
		})
		if err == nil && reply != "" {
			res.ReplyText = reply
			res.Status = StatusCompleted
			if !o.synthesize(ctx, res) {
				res.Status = StatusTextOnly
			}
			return res
		}
	}

	// Fallback path: pre-approved reply only.
	res.ReplyText = o.cfg.Fallback.Pick()
	res.Status = StatusFallback
	o.synthesize(ctx, res)
	return res
}

// synthesize renders res.ReplyText; on success the result carries audio and
// an audio_ref. Returns false when synthesis failed.
func (o *Orchestrator) synthesize(ctx context.Context, res *Result) bool {
	var audioBytes []byte
	err := o.stage(ctx, res, "synthesis", o.cfg.Breakers.Synthesis, func(ctx context.Context) error {
		var stageErr error
		audioBytes, stageErr = o.cfg.Stages.Synthesizer.Synthesize(ctx, res.ReplyText)
		return stageErr
	})
	if err != nil || len(audioBytes) == 0 {
		return false
	}
	res.Audio = audioBytes
	res.AudioRef = res.TurnID
	return true
}

// stage runs one external call through its breaker and records the timing.
func (o *Orchestrator) stage(ctx context.Context, res *Result, name string, b *breaker.Breaker, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := b.Do(ctx, fn)
	latency := time.Since(start)

	metrics.StageDuration.WithLabelValues(name).Observe(latency.Seconds())
	timing := StageTiming{Stage: name, LatencyMs: float64(latency.Milliseconds())}
	if err != nil {
		timing.Err = err.Error()
		slog.Warn("stage failed", "stage", name, "turn_id", res.TurnID, "error", err)
	}
	res.Stages = append(res.Stages, timing)
	return err
}
