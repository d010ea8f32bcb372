package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/plushtalk/voice-gateway/internal/audio"
	"github.com/plushtalk/voice-gateway/internal/metrics"
)

// WhisperClient sends audio as multipart WAV to a whisper-compatible HTTP
// endpoint and returns the transcript.
type WhisperClient struct {
	url    string
	client *http.Client
}

// NewWhisperClient creates a client for a whisper.cpp-style server
// (/inference endpoint).
func NewWhisperClient(url string, poolSize int) *WhisperClient {
	return &WhisperClient{url: url, client: NewPooledHTTPClient(poolSize)}
}

type whisperResponse struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Transcribe sends float32 samples (16 kHz mono) as multipart WAV.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32) (*TranscriptResult, error) {
	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("transcription", "http").Inc()
		return nil, fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("transcription", "status").Inc()
		return nil, fmt.Errorf("transcribe status %d: %s", resp.StatusCode, respBody)
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcribe response: %w", err)
	}

	return &TranscriptResult{Text: result.Text, NoSpeechProb: result.NoSpeechProb}, nil
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

// noisePatterns are common hallucinated transcripts for non-speech audio.
var noisePatterns = map[string]bool{
	"static": true, "silence": true, "noise": true,
	"inaudible": true, "background noise": true,
	"music": true, "breathing": true, "sigh": true,
	"you": true, "the": true, "um": true, "uh": true,
	"hmm": true, "ah": true, "oh": true, "mhm": true,
}

// isNoiseTranscript reports whether the transcript is likely background
// noise rather than speech.
func isNoiseTranscript(text string) bool {
	for _, wrap := range [][2]string{{"*", "*"}, {"[", "]"}, {"(", ")"}} {
		if strings.HasPrefix(text, wrap[0]) && strings.HasSuffix(text, wrap[1]) {
			return true
		}
	}
	return noisePatterns[strings.ToLower(text)]
}
