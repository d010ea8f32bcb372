package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/plushtalk/voice-gateway/internal/metrics"
	"github.com/plushtalk/voice-gateway/internal/session"
)

// SidecarModerator calls a policy-rule sidecar that knows the child-safety
// rule set. The sidecar answers with an explicit verdict, so uncertain
// stays distinguishable from unsafe.
type SidecarModerator struct {
	url    string
	client *http.Client
}

// NewSidecarModerator creates a client for the moderation sidecar (/moderate).
func NewSidecarModerator(url string, poolSize int) *SidecarModerator {
	return &SidecarModerator{url: url, client: NewPooledHTTPClient(poolSize)}
}

type moderateRequest struct {
	Text        string   `json:"text"`
	ChildAge    int      `json:"child_age,omitempty"`
	RecentTurns []string `json:"recent_turns,omitempty"`
}

// Moderate posts the transcript plus conversation context and decodes the
// verdict.
func (m *SidecarModerator) Moderate(ctx context.Context, text string, sctx session.Snapshot) (*Moderation, error) {
	reqBody := moderateRequest{Text: text, ChildAge: sctx.ChildAge}
	for _, t := range sctx.Turns {
		reqBody.RecentTurns = append(reqBody.RecentTurns, t.User)
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal moderate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.url+"/moderate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create moderate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("moderation", "http").Inc()
		return nil, fmt.Errorf("moderate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("moderation", "status").Inc()
		return nil, fmt.Errorf("moderate status %d: %s", resp.StatusCode, respBody)
	}

	var result Moderation
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode moderate response: %w", err)
	}
	switch result.Verdict {
	case VerdictSafe, VerdictUnsafe, VerdictUncertain:
		return &result, nil
	}
	return nil, fmt.Errorf("moderate verdict %q unrecognized", result.Verdict)
}

// OpenAIModerator runs transcripts through the OpenAI moderations endpoint.
// A flagged result maps to unsafe; moderation has no uncertain signal here,
// so transport failures surface as errors and the orchestrator fails closed.
type OpenAIModerator struct {
	client openai.Client
	model  string
}

// NewOpenAIModerator creates a moderator backed by omni-moderation.
func NewOpenAIModerator(apiKey, model string) *OpenAIModerator {
	if model == "" {
		model = "omni-moderation-latest"
	}
	return &OpenAIModerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Moderate classifies the transcript and collects flagged category names.
func (m *OpenAIModerator) Moderate(ctx context.Context, text string, _ session.Snapshot) (*Moderation, error) {
	resp, err := m.client.Moderations.New(ctx, openai.ModerationNewParams{
		Model: openai.ModerationModel(m.model),
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		metrics.Errors.WithLabelValues("moderation", "api").Inc()
		return nil, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("openai moderation: empty results")
	}

	r := resp.Results[0]
	if !r.Flagged {
		return &Moderation{Verdict: VerdictSafe}, nil
	}

	var reasons []string
	for category, flagged := range map[string]bool{
		"hate":          r.Categories.Hate,
		"harassment":    r.Categories.Harassment,
		"self_harm":     r.Categories.SelfHarm,
		"sexual":        r.Categories.Sexual,
		"sexual_minors": r.Categories.SexualMinors,
		"violence":      r.Categories.Violence,
		"illicit":       r.Categories.Illicit,
	} {
		if flagged {
			reasons = append(reasons, category)
		}
	}
	return &Moderation{Verdict: VerdictUnsafe, Reasons: reasons}, nil
}
