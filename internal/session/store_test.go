package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowBounded(t *testing.T) {
	s := NewStore(10, 0)

	for i := range 50 {
		s.AppendTurn("sess", Turn{User: fmt.Sprintf("msg %d", i), Assistant: "ok"})
	}

	snap := s.Snapshot("sess")
	assert.Len(t, snap.Turns, 10, "window never exceeds the ring size")
	assert.Equal(t, 50, snap.TurnCount)
	assert.Equal(t, "msg 40", snap.Turns[0].User, "oldest turns evicted first")
	assert.Equal(t, "msg 49", snap.Turns[9].User)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(5, 0)
	s.AppendTurn("sess", Turn{User: "hi", Assistant: "hello"})

	snap := s.Snapshot("sess")
	snap.Turns[0].User = "mutated"

	assert.Equal(t, "hi", s.Snapshot("sess").Turns[0].User)
}

func TestPrompt(t *testing.T) {
	s := NewStore(5, 0)
	assert.Equal(t, "what is the moon", s.Snapshot("sess").Prompt("what is the moon"),
		"no history yet")

	s.AppendTurn("sess", Turn{User: "hi", Assistant: "hello there"})
	got := s.Snapshot("sess").Prompt("tell me a story")
	assert.Equal(t, "User: hi\nAssistant: hello there\nUser: tell me a story", got)
}

func TestExpire(t *testing.T) {
	s := NewStore(5, 0)
	s.AppendTurn("sess", Turn{User: "hi", Assistant: "hello"})
	require.Equal(t, 1, s.Len())

	s.Expire("sess")
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Snapshot("sess").Turns, "expired session starts fresh")
}

func TestExpireIdle(t *testing.T) {
	s := NewStore(5, 50*time.Millisecond)
	s.AppendTurn("old", Turn{User: "hi", Assistant: "hello", At: time.Now().Add(-time.Minute)})
	s.AppendTurn("fresh", Turn{User: "hi", Assistant: "hello"})

	assert.Equal(t, 1, s.ExpireIdle())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Snapshot("fresh").TurnCount)
}

func TestChildAgeCarriedInSnapshot(t *testing.T) {
	s := NewStore(5, 0)
	s.SetChildAge("sess", 7)
	assert.Equal(t, 7, s.Snapshot("sess").ChildAge)
}
