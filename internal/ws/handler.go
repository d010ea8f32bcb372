package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/plushtalk/voice-gateway/internal/audio"
	"github.com/plushtalk/voice-gateway/internal/metrics"
	"github.com/plushtalk/voice-gateway/internal/pipeline"
	"github.com/plushtalk/voice-gateway/internal/registry"
	"github.com/plushtalk/voice-gateway/internal/session"
)

const (
	helloTimeout = 10 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared collaborators for all connections.
type HandlerConfig struct {
	Registry     *registry.Registry
	Orchestrator *pipeline.Orchestrator
	Sessions     *session.Store
	Utterance    audio.UtteranceConfig
	QueueSize    int // per-connection pipeline queue
}

// Handler upgrades WebSocket connections and runs the per-connection
// protocol: hello handshake, sequenced binary audio in, replies out.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates the WebSocket entry point.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// connWriter is the registry's view of one socket. The registry's writer
// goroutine, the handler's handshake and teardown writes, and Close all go
// through the mutex so the socket never sees concurrent senders.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) WriteText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *connWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *connWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

// ServeHTTP upgrades the connection, performs the hello handshake, and runs
// the read loop until the client leaves or is evicted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	writer := &connWriter{conn: sock}

	hello, err := readHello(sock)
	if err != nil {
		slog.Warn("handshake failed", "remote", r.RemoteAddr, "error", err)
		_ = writer.WriteText(marshalError("bad_hello", err.Error()))
		_ = writer.Close()
		return
	}

	sessionID := hello.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if hello.ChildAge > 0 {
		h.cfg.Sessions.SetChildAge(sessionID, hello.ChildAge)
	}

	conn, err := h.cfg.Registry.Admit(sessionID, writer)
	if err != nil {
		if errors.Is(err, registry.ErrRegistryFull) {
			_ = writer.WriteText(marshalError("at_capacity", "too many connections, try again later"))
		}
		_ = writer.Close()
		return
	}

	codec := audio.Codec(hello.Codec)
	if codec == "" {
		codec = audio.CodecPCM
	}
	sampleRate := hello.SampleRate
	if sampleRate <= 0 {
		sampleRate = h.cfg.Utterance.SampleRate
	}

	conn.MarkOpen()
	ack, _ := json.Marshal(ackMessage{Type: "ack", ConnID: conn.ID, SessionID: sessionID})
	if err = h.cfg.Registry.Send(conn.ID, registry.Frame{Data: ack}); err != nil {
		return
	}

	slog.Info("session started",
		"conn_id", conn.ID, "session_id", sessionID,
		"codec", codec, "sample_rate", sampleRate, "child_age", hello.ChildAge)

	sock.SetReadLimit(maxFrameSize)
	h.readLoop(sock, writer, conn, codec, sampleRate)
}

func readHello(sock *websocket.Conn) (*clientMessage, error) {
	_ = sock.SetReadDeadline(time.Now().Add(helloTimeout))
	defer sock.SetReadDeadline(time.Time{})

	msgType, data, err := sock.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, errors.New("first frame must be a hello message")
	}
	var msg clientMessage
	if err = json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != "hello" {
		return nil, errors.New("first frame must be a hello message")
	}
	return &msg, nil
}

// readLoop consumes frames until disconnect, eviction, or end_session.
// Binary frames feed the utterance accumulator; sealed utterances go to the
// per-connection pipeline worker so runs never overlap.
func (h *Handler) readLoop(sock *websocket.Conn, writer *connWriter, conn *registry.Conn, codec audio.Codec, sampleRate int) {
	acc := audio.NewAccumulator(conn.ID, h.cfg.Utterance)
	worker := pipeline.NewWorker(h.cfg.Orchestrator, conn.SessionID, h.cfg.QueueSize)

	graceful := false
	defer func() {
		if utt := acc.Flush(); utt != nil {
			metrics.Utterances.Inc()
			_ = worker.Enqueue(utt)
		}
		if graceful {
			worker.Shutdown()
			h.cfg.Registry.Evict(conn.ID, "client_close")
		} else {
			worker.Close()
			h.cfg.Registry.Evict(conn.ID, "disconnect")
		}
	}()

	var nextSeq uint32
	for {
		msgType, data, err := sock.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "conn_id", conn.ID, "error", err)
			return
		}
		h.cfg.Registry.Touch(conn.ID)

		switch msgType {
		case websocket.BinaryMessage:
			seq, payload, err := decodeFrame(data)
			if err != nil || seq != nextSeq {
				metrics.Errors.WithLabelValues("ws", "protocol").Inc()
				slog.Warn("frame sequence violation", "conn_id", conn.ID, "got", seq, "want", nextSeq)
				// Written directly so the message cannot be lost when the
				// eviction tears down the outbound queue.
				_ = writer.WriteText(marshalError("protocol_error", "frames must arrive in sequence"))
				h.cfg.Registry.Evict(conn.ID, "protocol_error")
				return
			}
			nextSeq++
			metrics.AudioChunks.Inc()

			samples, rate, err := audio.Decode(payload, codec, sampleRate)
			if err != nil {
				metrics.Errors.WithLabelValues("ws", "decode").Inc()
				_ = h.cfg.Registry.Send(conn.ID, registry.Frame{Data: marshalError("bad_audio", err.Error())})
				continue
			}
			if rate != h.cfg.Utterance.SampleRate {
				samples = audio.Resample(samples, rate, h.cfg.Utterance.SampleRate)
			}

			if utt := acc.Feed(samples); utt != nil {
				metrics.Utterances.Inc()
				if err := worker.Enqueue(utt); err != nil {
					slog.Warn("pipeline backlog, dropping connection", "conn_id", conn.ID, "error", err)
					h.cfg.Registry.Evict(conn.ID, "pipeline_backpressure")
					return
				}
			}

		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("unparseable text frame", "conn_id", conn.ID, "error", err)
				continue
			}
			switch msg.Type {
			case "heartbeat":
				ackData, _ := json.Marshal(heartbeatAck{Type: "heartbeat_ack"})
				_ = h.cfg.Registry.Send(conn.ID, registry.Frame{Data: ackData})
			case "end_session":
				graceful = true
				return
			default:
				slog.Warn("unknown message type", "conn_id", conn.ID, "type", msg.Type)
			}
		}
	}
}
