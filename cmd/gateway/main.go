package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plushtalk/voice-gateway/internal/breaker"
	"github.com/plushtalk/voice-gateway/internal/pipeline"
	"github.com/plushtalk/voice-gateway/internal/registry"
	"github.com/plushtalk/voice-gateway/internal/session"
	"github.com/plushtalk/voice-gateway/internal/trace"
	"github.com/plushtalk/voice-gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	var traceStore *trace.Store
	var tracer *trace.Tracer
	if cfg.traceDBURL != "" {
		store, err := trace.Open(cfg.traceDBURL)
		if err != nil {
			slog.Error("trace store unavailable, continuing without it", "error", err)
		} else {
			traceStore = store
			tracer = trace.NewTracer(store)
			slog.Info("trace store connected")
		}
	}

	sessions := session.NewStore(cfg.sessionWindow, cfg.sessionIdle)

	breakers := pipeline.Breakers{
		Transcription: breaker.New("transcription", cfg.breakerConfig(cfg.asrTimeout)),
		Emotion:       breaker.New("emotion", cfg.breakerConfig(cfg.emotionTimeout)),
		Moderation:    breaker.New("moderation", cfg.breakerConfig(cfg.moderationTimeout)),
		Generation:    breaker.New("generation", cfg.breakerConfig(cfg.llmTimeout)),
		Synthesis:     breaker.New("synthesis", cfg.breakerConfig(cfg.ttsTimeout)),
	}

	stages := buildStages(cfg)

	reg := registry.New(registry.Config{
		MaxConnections:   cfg.maxConnections,
		QueueSize:        cfg.outboundQueue,
		HeartbeatTimeout: cfg.heartbeatTimeout,
		SweepInterval:    cfg.sweepInterval,
		OnAdmit: func(c *registry.Conn) {
			tracer.StartSession(c.SessionID, sessions.Snapshot(c.SessionID).ChildAge)
		},
		OnEvict: func(c *registry.Conn, reason string) {
			sessions.Expire(c.SessionID)
			tracer.EndSession(c.SessionID)
		},
	})

	orc := pipeline.New(pipeline.Config{
		Stages:            stages,
		Breakers:          breakers,
		Sessions:          sessions,
		NoSpeechThreshold: cfg.noSpeechThreshold,
		Deliver:           ws.NewDeliverer(reg),
		Record:            recordOutcome(tracer),
	})

	wsHandler := ws.NewHandler(ws.HandlerConfig{
		Registry:     reg,
		Orchestrator: orc,
		Sessions:     sessions,
		Utterance:    cfg.utterance,
		QueueSize:    cfg.pipelineQueue,
	})

	// Idle conversation contexts are dropped even when the connection
	// lingers without speaking.
	idleStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-idleStop:
				return
			case <-ticker.C:
				if n := sessions.ExpireIdle(); n > 0 {
					slog.Info("idle sessions expired", "count", n)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		registry:   reg,
		breakers:   breakers,
		traceStore: traceStore,
		wsHandler:  wsHandler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)

		close(idleStop)
		reg.Close()
		tracer.Close()
		if traceStore != nil {
			traceStore.Close()
		}
	}()

	slog.Info("gateway starting", "addr", addr, "max_connections", cfg.maxConnections)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// buildStages selects the moderation and generation backends by config; the
// remaining stages are fixed sidecar clients.
func buildStages(cfg config) pipeline.Stages {
	stages := pipeline.Stages{
		Transcriber: pipeline.NewWhisperClient(cfg.whisperURL, cfg.asrPoolSize),
		Synthesizer: pipeline.NewPiperClient(cfg.piperURL, cfg.piperVoice, cfg.ttsPoolSize),
	}

	if cfg.emotionURL != "" {
		stages.Emotion = pipeline.NewEmotionClient(cfg.emotionURL, cfg.emotionPoolSize)
	}

	switch cfg.moderationBackend {
	case "openai":
		stages.Moderator = pipeline.NewOpenAIModerator(cfg.openaiAPIKey, cfg.moderationModel)
	default:
		stages.Moderator = pipeline.NewSidecarModerator(cfg.moderationURL, cfg.llmPoolSize)
	}

	switch cfg.llmBackend {
	case "openai":
		stages.Generator = pipeline.NewOpenAIGenerator(cfg.openaiAPIKey, cfg.openaiBaseURL, cfg.openaiModel, cfg.llmSystemPrompt, cfg.llmMaxTokens)
	default:
		stages.Generator = pipeline.NewOllamaGenerator(cfg.ollamaURL, cfg.ollamaModel, cfg.llmSystemPrompt, cfg.llmMaxTokens, cfg.llmPoolSize)
	}

	return stages
}

// recordOutcome adapts finished pipeline runs into trace records.
func recordOutcome(tracer *trace.Tracer) pipeline.RecordFunc {
	return func(res *pipeline.Result) {
		spans := make([]trace.Span, 0, len(res.Stages))
		for _, st := range res.Stages {
			status := "ok"
			if st.Err != "" {
				status = "error"
			}
			spans = append(spans, trace.Span{
				Stage:      st.Stage,
				DurationMs: st.LatencyMs,
				Status:     status,
				Error:      st.Err,
			})
		}
		tracer.RecordTurn(trace.Turn{
			ID:         res.TurnID,
			SessionID:  res.SessionID,
			ConnID:     res.ConnID,
			StartedAt:  time.Now().Add(-res.Elapsed),
			DurationMs: float64(res.Elapsed.Milliseconds()),
			Transcript: res.Transcript,
			Reply:      res.ReplyText,
			Emotion:    res.Emotion.Label,
			Verdict:    string(res.Verdict),
			Status:     string(res.Status),
		}, spans)
	}
}
