// Package session holds bounded per-connection conversation context used to
// build pipeline prompts. It is not a system of record; persistence belongs
// to external collaborators.
package session

import (
	"strings"
	"sync"
	"time"
)

// Turn is one completed user→assistant exchange.
type Turn struct {
	User      string
	Assistant string
	Emotion   string
	At        time.Time
}

// Snapshot is a read-only copy of one session's context, safe to hand to a
// pipeline run without further locking.
type Snapshot struct {
	SessionID    string
	Turns        []Turn
	TurnCount    int
	LastActivity time.Time
	ChildAge     int
}

// Prompt renders the recent-turn window as a conversation transcript block
// for the generation stage, with the current message appended.
func (s Snapshot) Prompt(current string) string {
	if len(s.Turns) == 0 {
		return current
	}
	var b strings.Builder
	for _, t := range s.Turns {
		b.WriteString("User: ")
		b.WriteString(t.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Assistant)
		b.WriteByte('\n')
	}
	b.WriteString("User: ")
	b.WriteString(current)
	return b.String()
}

type entry struct {
	mu           sync.Mutex
	turns        []Turn // ring, oldest first
	turnCount    int
	lastActivity time.Time
	childAge     int
}

// Store keeps one bounded context window per live session. The outer map
// lock guards membership only; each entry carries its own lock so unrelated
// sessions never contend.
type Store struct {
	window      int
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewStore creates a store with the given ring size (default 10 turns) and
// idle timeout for abandoned sessions.
func NewStore(window int, idleTimeout time.Duration) *Store {
	if window <= 0 {
		window = 10
	}
	return &Store{
		window:      window,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*entry),
	}
}

// SetChildAge records the age hint supplied at handshake, used by the
// moderation and generation stages.
func (s *Store) SetChildAge(sessionID string, age int) {
	e := s.get(sessionID)
	e.mu.Lock()
	e.childAge = age
	e.mu.Unlock()
}

// AppendTurn appends to the session's ring, evicting the oldest turn once
// the window is full. Creates the session on first use.
func (s *Store) AppendTurn(sessionID string, turn Turn) {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	e := s.get(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, turn)
	if len(e.turns) > s.window {
		e.turns = e.turns[1:]
	}
	e.turnCount++
	e.lastActivity = turn.At
}

// Snapshot returns a copy of the session's context. The copy is never
// mutated by the store afterwards.
func (s *Store) Snapshot(sessionID string) Snapshot {
	e := s.get(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return Snapshot{
		SessionID:    sessionID,
		Turns:        turns,
		TurnCount:    e.turnCount,
		LastActivity: e.lastActivity,
		ChildAge:     e.childAge,
	}
}

// Expire releases the session's context. Called on connection eviction and
// by the idle sweep.
func (s *Store) Expire(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// ExpireIdle drops sessions whose last activity is older than the idle
// timeout, returning how many were released.
func (s *Store) ExpireIdle() int {
	if s.idleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.idleTimeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		idle := !e.lastActivity.IsZero() && e.lastActivity.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			expired++
		}
	}
	return expired
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) get(sessionID string) *entry {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.sessions[sessionID]; ok {
		return e
	}
	e = &entry{}
	s.sessions[sessionID] = e
	return e
}
