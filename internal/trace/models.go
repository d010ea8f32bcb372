package trace

import "time"

// Session represents one conversation session on the gateway.
type Session struct {
	ID        string     `json:"id"`
	ChildAge  int        `json:"child_age,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	TurnCount int        `json:"turn_count,omitempty"`
}

// Turn represents one utterance's pipeline run and its terminal outcome.
type Turn struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ConnID     string    `json:"conn_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	Emotion    string    `json:"emotion,omitempty"`
	Verdict    string    `json:"verdict,omitempty"`
	Status     string    `json:"status"`
	SpanCount  int       `json:"span_count,omitempty"`
}

// Span represents one stage call within a turn.
type Span struct {
	ID         string  `json:"id"`
	TurnID     string  `json:"turn_id"`
	Stage      string  `json:"stage"`
	DurationMs float64 `json:"duration_ms"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}
