package trace

import (
	"log/slog"

	"github.com/google/uuid"
)

const maxTextLen = 500

type traceMsg struct {
	kind string // "session_start", "session_end", "turn"

	sessionID string
	childAge  int

	turn  Turn
	spans []Span
}

// Tracer writes outcome records asynchronously via a buffered channel so the
// pipeline never blocks on the database. All methods are nil-safe: a nil
// tracer no-ops, which is how the gateway runs without a trace database.
type Tracer struct {
	store *Store
	ch    chan traceMsg
	done  chan struct{}
}

// NewTracer starts the background writer. Must call Close when done.
func NewTracer(store *Store) *Tracer {
	t := &Tracer{
		store: store,
		ch:    make(chan traceMsg, 64),
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	var err error
	switch m.kind {
	case "session_start":
		err = t.store.CreateSession(m.sessionID, m.childAge)
	case "session_end":
		err = t.store.EndSession(m.sessionID)
	case "turn":
		if err = t.store.InsertTurn(m.turn); err == nil {
			for _, sp := range m.spans {
				if spanErr := t.store.InsertSpan(sp); spanErr != nil {
					err = spanErr
					break
				}
			}
		}
	default:
		return
	}
	if err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

// StartSession records a session's beginning.
func (t *Tracer) StartSession(sessionID string, childAge int) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "session_start", sessionID: sessionID, childAge: childAge})
}

// EndSession stamps a session's end.
func (t *Tracer) EndSession(sessionID string) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "session_end", sessionID: sessionID})
}

// RecordTurn records one finished pipeline run with its stage spans.
func (t *Tracer) RecordTurn(turn Turn, spans []Span) {
	if t == nil {
		return
	}
	turn.Transcript = truncate(turn.Transcript, maxTextLen)
	turn.Reply = truncate(turn.Reply, maxTextLen)
	for i := range spans {
		if spans[i].ID == "" {
			spans[i].ID = uuid.NewString()
		}
		spans[i].TurnID = turn.ID
	}
	t.enqueue(traceMsg{kind: "turn", turn: turn, spans: spans})
}

// enqueue drops the record when the buffer is full; observability never
// backpressures the pipeline.
func (t *Tracer) enqueue(m traceMsg) {
	select {
	case t.ch <- m:
	default:
		slog.Warn("trace buffer full, record dropped", "kind", m.kind)
	}
}

// Close drains pending writes and stops the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
