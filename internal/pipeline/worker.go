package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/plushtalk/voice-gateway/internal/audio"
)

// ErrQueueFull is returned when a connection seals utterances faster than
// its pipeline can drain them.
var ErrQueueFull = errors.New("utterance queue full")

// Worker serializes pipeline runs for one connection: utterances run in
// seal order, one at a time, so session updates stay race-free. Workers for
// different connections are fully independent.
type Worker struct {
	orc       *Orchestrator
	sessionID string
	queue     chan *audio.Utterance

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	drain    atomic.Bool
}

// NewWorker starts the drain goroutine for one connection.
func NewWorker(orc *Orchestrator, sessionID string, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 8
	}
	w := &Worker{
		orc:       orc,
		sessionID: sessionID,
		queue:     make(chan *audio.Utterance, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue hands a sealed utterance to the worker without blocking the read
// loop. A full queue is backpressure: the caller evicts the connection.
func (w *Worker) Enqueue(u *audio.Utterance) error {
	select {
	case <-w.stop:
		return nil
	default:
	}
	select {
	case w.queue <- u:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the worker after any in-flight run reaches a terminal state.
// Queued utterances that have not started are discarded; external services
// are never abandoned mid-call.
func (w *Worker) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	if dropped := len(w.queue); dropped > 0 {
		slog.Info("discarding queued utterances", "session_id", w.sessionID, "count", dropped)
	}
}

// Shutdown is the graceful variant of Close: already-queued utterances are
// processed before the worker stops. Used for clean session ends, where the
// final flushed utterance still deserves a reply.
func (w *Worker) Shutdown() {
	w.drain.Store(true)
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			if !w.drain.Load() {
				return
			}
			for {
				select {
				case u := <-w.queue:
					w.orc.Process(context.Background(), u, w.sessionID)
				default:
					return
				}
			}
		case u := <-w.queue:
			// Runs use a fresh context: a closing connection marks the
			// result undeliverable rather than cancelling stage calls.
			w.orc.Process(context.Background(), u, w.sessionID)
		}
	}
}
