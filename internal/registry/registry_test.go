package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	text   [][]byte
	binary [][]byte

	writeErr error
	block    chan struct{} // non-nil: writes park here until closed
	closed   atomic.Bool
}

func (f *fakeWriter) WriteText(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = append(f.text, data)
	return nil
}

func (f *fakeWriter) WriteBinary(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeWriter) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.text)
}

type evictLog struct {
	mu      sync.Mutex
	reasons map[string]string
}

func newEvictLog() *evictLog {
	return &evictLog{reasons: make(map[string]string)}
}

func (e *evictLog) hook(c *Conn, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reasons[c.ID] = reason
}

func (e *evictLog) reason(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reasons[id]
}

func TestAdmitRejectsAtCapacity(t *testing.T) {
	r := New(Config{MaxConnections: 2, SweepInterval: -1})
	defer r.Close()

	a, err := r.Admit("s1", &fakeWriter{})
	require.NoError(t, err)
	_, err = r.Admit("s2", &fakeWriter{})
	require.NoError(t, err)

	_, err = r.Admit("s3", &fakeWriter{})
	assert.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 2, r.Len())

	// Eviction frees a slot for the next admission.
	r.Evict(a.ID, "client_close")
	_, err = r.Admit("s3", &fakeWriter{})
	assert.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Admitted)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestSendDeliversInOrder(t *testing.T) {
	r := New(Config{SweepInterval: -1})
	defer r.Close()

	w := &fakeWriter{}
	c, err := r.Admit("s1", w)
	require.NoError(t, err)
	c.MarkOpen()

	require.NoError(t, r.Send(c.ID,
		Frame{Binary: true, Data: []byte{1, 2, 3}},
		Frame{Data: []byte(`{"type":"reply"}`)},
	))

	assert.Eventually(t, func() bool { return w.textCount() == 1 }, time.Second, 5*time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.binary, 1)
	assert.Equal(t, []byte{1, 2, 3}, w.binary[0])
	assert.Equal(t, []byte(`{"type":"reply"}`), w.text[0])
}

func TestSendToEvictedConnection(t *testing.T) {
	r := New(Config{SweepInterval: -1})
	defer r.Close()

	c, err := r.Admit("s1", &fakeWriter{})
	require.NoError(t, err)
	r.Evict(c.ID, "client_close")

	err = r.Send(c.ID, Frame{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, StatusClosed, c.Status())
}

func TestBackpressureEvicts(t *testing.T) {
	evicts := newEvictLog()
	r := New(Config{QueueSize: 2, SweepInterval: -1, OnEvict: evicts.hook})
	defer r.Close()

	w := &fakeWriter{block: make(chan struct{})}
	c, err := r.Admit("s1", w)
	require.NoError(t, err)
	c.MarkOpen()

	// The writer parks on the first frame; fill the queue behind it, then
	// one more send must evict instead of blocking the caller.
	var sendErr error
	for range 5 {
		sendErr = r.Send(c.ID, Frame{Data: []byte("x")})
		if sendErr != nil {
			break
		}
	}
	require.Error(t, sendErr)
	assert.ErrorIs(t, sendErr, ErrConnectionClosed)
	assert.Equal(t, "outbound_backpressure", evicts.reason(c.ID))
	assert.Equal(t, 0, r.Len())
	close(w.block)
}

func TestWriteFailureEvicts(t *testing.T) {
	evicts := newEvictLog()
	r := New(Config{SweepInterval: -1, OnEvict: evicts.hook})
	defer r.Close()

	w := &fakeWriter{writeErr: errors.New("broken pipe")}
	c, err := r.Admit("s1", w)
	require.NoError(t, err)
	c.MarkOpen()

	require.NoError(t, r.Send(c.ID, Frame{Data: []byte("x")}))
	assert.Eventually(t, func() bool { return evicts.reason(c.ID) == "write_failure" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Len())
	assert.True(t, w.closed.Load())
}

func TestSweepEvictsStaleConnections(t *testing.T) {
	evicts := newEvictLog()
	r := New(Config{
		HeartbeatTimeout: 40 * time.Millisecond,
		SweepInterval:    10 * time.Millisecond,
		OnEvict:          evicts.hook,
	})
	defer r.Close()

	w := &fakeWriter{}
	stale, err := r.Admit("s1", w)
	require.NoError(t, err)

	live, err := r.Admit("s2", &fakeWriter{})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && evicts.reason(stale.ID) == "" {
		r.Touch(live.ID)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, "heartbeat_timeout", evicts.reason(stale.ID))
	assert.True(t, w.closed.Load())
	assert.Empty(t, evicts.reason(live.ID), "heartbeating connection survives the sweep")
	assert.Equal(t, 1, r.Len())
}

func TestEvictIsIdempotent(t *testing.T) {
	count := atomic.Int32{}
	r := New(Config{SweepInterval: -1, OnEvict: func(*Conn, string) { count.Add(1) }})
	defer r.Close()

	c, err := r.Admit("s1", &fakeWriter{})
	require.NoError(t, err)

	r.Evict(c.ID, "client_close")
	r.Evict(c.ID, "client_close")
	assert.Equal(t, int32(1), count.Load())
}

func TestCloseEvictsEverything(t *testing.T) {
	evicts := newEvictLog()
	r := New(Config{SweepInterval: -1, OnEvict: evicts.hook})

	a, _ := r.Admit("s1", &fakeWriter{})
	b, _ := r.Admit("s2", &fakeWriter{})

	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "shutdown", evicts.reason(a.ID))
	assert.Equal(t, "shutdown", evicts.reason(b.ID))
}

func TestTouchUnknownConnection(t *testing.T) {
	r := New(Config{SweepInterval: -1})
	defer r.Close()
	assert.False(t, r.Touch("nope"))
}
