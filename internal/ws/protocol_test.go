package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plushtalk/voice-gateway/internal/pipeline"
	"github.com/plushtalk/voice-gateway/internal/registry"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	seq, got, err := decodeFrame(encodeFrame(42, payload))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), seq)
	assert.Equal(t, payload, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	seq, got, err := decodeFrame(encodeFrame(0, nil))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), seq)
	assert.Empty(t, got)
}

func TestShortFrameRejected(t *testing.T) {
	_, _, err := decodeFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errShortFrame)
}

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *recordingWriter) WriteText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, data)
	return nil
}

func (w *recordingWriter) WriteBinary(data []byte) error { return w.WriteText(data) }
func (w *recordingWriter) Close() error                  { return nil }

func (w *recordingWriter) first() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		return nil
	}
	return w.frames[0]
}

func TestDelivererNotifiesFilteredTurn(t *testing.T) {
	reg := registry.New(registry.Config{SweepInterval: -1})
	defer reg.Close()

	w := &recordingWriter{}
	conn, err := reg.Admit("sess-1", w)
	require.NoError(t, err)

	deliver := NewDeliverer(reg)
	require.NoError(t, deliver(conn.ID, &pipeline.Result{TurnID: "turn-1", Status: pipeline.StatusFiltered}))

	require.Eventually(t, func() bool { return w.first() != nil }, time.Second, 5*time.Millisecond)

	var msg errorMessage
	require.NoError(t, json.Unmarshal(w.first(), &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "no_speech", msg.Code)
}
