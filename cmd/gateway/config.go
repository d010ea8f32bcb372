package main

import (
	"os"
	"strconv"
	"time"

	"github.com/plushtalk/voice-gateway/internal/audio"
	"github.com/plushtalk/voice-gateway/internal/breaker"
	"github.com/plushtalk/voice-gateway/internal/pipeline"
)

type config struct {
	port string

	// registry
	maxConnections   int
	outboundQueue    int
	heartbeatTimeout time.Duration
	sweepInterval    time.Duration

	// audio
	utterance audio.UtteranceConfig

	// session context
	sessionWindow int
	sessionIdle   time.Duration

	// pipeline
	pipelineQueue     int
	noSpeechThreshold float64

	// stage endpoints
	whisperURL      string
	asrPoolSize     int
	emotionURL      string
	emotionPoolSize int

	moderationBackend string // "sidecar" or "openai"
	moderationURL     string
	moderationModel   string

	llmBackend      string // "ollama" or "openai"
	ollamaURL       string
	ollamaModel     string
	openaiAPIKey    string
	openaiBaseURL   string
	openaiModel     string
	llmSystemPrompt string
	llmMaxTokens    int
	llmPoolSize     int

	piperURL    string
	piperVoice  string
	ttsPoolSize int

	// per-stage breaker tuning
	breakerFailures    int
	breakerCooldown    time.Duration
	breakerCooldownMax time.Duration
	asrTimeout         time.Duration
	emotionTimeout     time.Duration
	moderationTimeout  time.Duration
	llmTimeout         time.Duration
	ttsTimeout         time.Duration

	traceDBURL string
}

func loadConfig() config {
	utt := audio.DefaultUtteranceConfig()
	utt.ActivityThresholdDB = envFloat("VAD_ACTIVITY_THRESHOLD_DB", utt.ActivityThresholdDB)
	utt.TrailingSilence = envDur("VAD_TRAILING_SILENCE", utt.TrailingSilence)
	utt.MaxDuration = envDur("VAD_MAX_UTTERANCE", utt.MaxDuration)
	utt.SampleRate = envInt("VAD_SAMPLE_RATE", utt.SampleRate)

	return config{
		port: envStr("GATEWAY_PORT", "8000"),

		maxConnections:   envInt("MAX_CONNECTIONS", 100),
		outboundQueue:    envInt("OUTBOUND_QUEUE", 32),
		heartbeatTimeout: envDur("HEARTBEAT_TIMEOUT", 90*time.Second),
		sweepInterval:    envDur("SWEEP_INTERVAL", 30*time.Second),

		utterance: utt,

		sessionWindow: envInt("SESSION_WINDOW", 10),
		sessionIdle:   envDur("SESSION_IDLE_TIMEOUT", 10*time.Minute),

		pipelineQueue:     envInt("PIPELINE_QUEUE", 8),
		noSpeechThreshold: envFloat("NO_SPEECH_THRESHOLD", 0.6),

		whisperURL:      envStr("WHISPER_URL", "http://localhost:8080"),
		asrPoolSize:     envInt("ASR_POOL_SIZE", 50),
		emotionURL:      envStr("EMOTION_URL", ""),
		emotionPoolSize: envInt("EMOTION_POOL_SIZE", 20),

		moderationBackend: envStr("MODERATION_BACKEND", "sidecar"),
		moderationURL:     envStr("MODERATION_URL", "http://localhost:5200"),
		moderationModel:   envStr("MODERATION_MODEL", "omni-moderation-latest"),

		llmBackend:      envStr("LLM_BACKEND", "ollama"),
		ollamaURL:       envStr("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:     envStr("OLLAMA_MODEL", "llama3.2:3b"),
		openaiAPIKey:    envStr("OPENAI_API_KEY", ""),
		openaiBaseURL:   envStr("OPENAI_BASE_URL", ""),
		openaiModel:     envStr("OPENAI_MODEL", "gpt-4o-mini"),
		llmSystemPrompt: envStr("LLM_SYSTEM_PROMPT", pipeline.DefaultSystemPrompt),
		llmMaxTokens:    envInt("LLM_MAX_TOKENS", 150),
		llmPoolSize:     envInt("LLM_POOL_SIZE", 50),

		piperURL:    envStr("PIPER_URL", "http://localhost:5100"),
		piperVoice:  envStr("PIPER_VOICE", "en_US-lessac-medium"),
		ttsPoolSize: envInt("TTS_POOL_SIZE", 50),

		breakerFailures:    envInt("BREAKER_FAILURE_THRESHOLD", 5),
		breakerCooldown:    envDur("BREAKER_COOLDOWN", 30*time.Second),
		breakerCooldownMax: envDur("BREAKER_COOLDOWN_MAX", 5*time.Minute),
		asrTimeout:         envDur("ASR_TIMEOUT", 5*time.Second),
		emotionTimeout:     envDur("EMOTION_TIMEOUT", 2*time.Second),
		moderationTimeout:  envDur("MODERATION_TIMEOUT", 3*time.Second),
		llmTimeout:         envDur("LLM_TIMEOUT", 10*time.Second),
		ttsTimeout:         envDur("TTS_TIMEOUT", 10*time.Second),

		traceDBURL: envStr("TRACE_DB_URL", ""),
	}
}

func (c config) breakerConfig(callTimeout time.Duration) breaker.Config {
	return breaker.Config{
		FailureThreshold: c.breakerFailures,
		CallTimeout:      callTimeout,
		Cooldown:         c.breakerCooldown,
		CooldownMax:      c.breakerCooldownMax,
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
