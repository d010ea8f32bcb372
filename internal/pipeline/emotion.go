package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/plushtalk/voice-gateway/internal/metrics"
)

// EmotionClient calls an audio-classification sidecar with raw float32
// samples and returns the dominant emotion label.
type EmotionClient struct {
	url    string
	client *http.Client
}

// NewEmotionClient creates a client for the classify sidecar (/emotion).
func NewEmotionClient(url string, poolSize int) *EmotionClient {
	return &EmotionClient{url: url, client: NewPooledHTTPClient(poolSize)}
}

// Analyze posts little-endian float32 samples and decodes the label.
func (c *EmotionClient) Analyze(ctx context.Context, samples []float32) (*Emotion, error) {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/emotion", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("create emotion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("emotion", "http").Inc()
		return nil, fmt.Errorf("emotion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("emotion", "status").Inc()
		return nil, fmt.Errorf("emotion status %d: %s", resp.StatusCode, body)
	}

	var result Emotion
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode emotion response: %w", err)
	}
	return &result, nil
}
