package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/plushtalk/voice-gateway/internal/metrics"
)

// PiperClient synthesizes speech via a piper-style sidecar that returns WAV.
type PiperClient struct {
	url    string
	voice  string
	client *http.Client
}

// NewPiperClient creates a synthesis client with a fixed voice.
func NewPiperClient(url, voice string, poolSize int) *PiperClient {
	return &PiperClient{url: url, voice: voice, client: NewPooledHTTPClient(poolSize)}
}

// Synthesize posts reply text and returns the rendered audio bytes.
func (p *PiperClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}{Text: text, Voice: p.voice})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("synthesis", "http").Inc()
		return nil, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("synthesis", "status").Inc()
		return nil, fmt.Errorf("synthesize status %d: %s", resp.StatusCode, respBody)
	}

	return io.ReadAll(resp.Body)
}
