package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/plushtalk/voice-gateway/internal/metrics"
	"github.com/plushtalk/voice-gateway/internal/session"
)

// DefaultSystemPrompt is the child-safe persona used when none is configured.
const DefaultSystemPrompt = "You are a friendly talking teddy bear speaking with a young child. " +
	"Keep replies short, warm, and easy to understand. Never discuss frightening or adult topics."

// OllamaGenerator produces replies from an Ollama-compatible chat endpoint.
type OllamaGenerator struct {
	url          string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewOllamaGenerator creates a generator for a local Ollama server.
func NewOllamaGenerator(url, model, systemPrompt string, maxTokens, poolSize int) *OllamaGenerator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &OllamaGenerator{
		url:          url,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       NewPooledHTTPClient(poolSize),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Generate sends the prompt (recent turns plus the current transcript) and
// returns the complete reply.
func (g *OllamaGenerator) Generate(ctx context.Context, text string, sctx session.Snapshot) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": g.model,
		"messages": []ollamaMessage{
			{Role: "system", Content: g.systemPrompt},
			{Role: "user", Content: sctx.Prompt(text)},
		},
		"stream":  false,
		"options": map[string]any{"num_predict": g.maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("generation", "http").Inc()
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("generation", "status").Inc()
		return "", fmt.Errorf("generate status %d: %s", resp.StatusCode, respBody)
	}

	var result ollamaChatResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return strings.TrimSpace(result.Message.Content), nil
}

// OpenAIGenerator produces replies through the OpenAI chat completions API
// or any compatible server.
type OpenAIGenerator struct {
	client       openai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// NewOpenAIGenerator creates a generator for an OpenAI-compatible endpoint.
// baseURL may be empty for the hosted API.
func NewOpenAIGenerator(apiKey, baseURL, model, systemPrompt string, maxTokens int) *OpenAIGenerator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{
		client:       openai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

// Generate requests a single non-streaming completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, text string, sctx session.Snapshot) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.systemPrompt),
			openai.UserMessage(sctx.Prompt(text)),
		},
		MaxTokens: openai.Int(int64(g.maxTokens)),
	})
	if err != nil {
		metrics.Errors.WithLabelValues("generation", "api").Inc()
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generate: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
