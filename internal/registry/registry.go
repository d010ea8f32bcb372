package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/plushtalk/voice-gateway/internal/metrics"
)

var (
	// ErrRegistryFull rejects admission when the connection table is at
	// capacity. The caller closes the socket with a busy code.
	ErrRegistryFull = errors.New("registry at capacity")

	// ErrConnectionClosed marks a send to a connection that has been
	// evicted or is mid-close. Callers drop the payload.
	ErrConnectionClosed = errors.New("connection closed")
)

// Status is a connection's lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting" // admitted, handshake not acked yet
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// Writer is the transport side of a connection. The registry owns write
// ordering: all frames for one connection go through its writer goroutine.
type Writer interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Close() error
}

// Frame is one outbound transport frame.
type Frame struct {
	Binary bool
	Data   []byte
}

// EvictFunc is notified after a connection leaves the table. It runs outside
// the registry locks, once per connection.
type EvictFunc func(c *Conn, reason string)

// Config tunes the registry. Zero values take the defaults.
type Config struct {
	MaxConnections   int           // default 100
	QueueSize        int           // outbound frames per connection, default 32
	HeartbeatTimeout time.Duration // default 90s
	SweepInterval    time.Duration // default 30s; <0 disables the sweeper
	OnAdmit          func(c *Conn)
	OnEvict          EvictFunc
}

// Conn is one live connection's registry entry.
type Conn struct {
	ID         string
	SessionID  string
	AdmittedAt time.Time

	mu            sync.Mutex
	status        Status
	lastHeartbeat time.Time

	outbound chan Frame
	quit     chan struct{}
	evicted  sync.Once
	writer   Writer
}

// Status returns the connection's lifecycle state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// MarkOpen moves the connection out of the handshake state.
func (c *Conn) MarkOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusConnecting {
		c.status = StatusOpen
	}
}

func (c *Conn) sendable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnecting || c.status == StatusOpen
}

// Registry is the connection table: admission with a capacity limit,
// heartbeat tracking with a background sweep, and per-connection outbound
// queues drained by one writer goroutine each.
type Registry struct {
	cfg Config

	mu    sync.RWMutex
	conns map[string]*Conn

	admitted atomic.Uint64
	rejected atomic.Uint64
	evictedN atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Stats is a point-in-time registry snapshot for the health endpoint.
type Stats struct {
	Active   int    `json:"active"`
	Capacity int    `json:"capacity"`
	Admitted uint64 `json:"admitted"`
	Rejected uint64 `json:"rejected"`
	Evicted  uint64 `json:"evicted"`
}

// New builds the registry and starts its sweeper.
func New(cfg Config) *Registry {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	r := &Registry{
		cfg:   cfg,
		conns: make(map[string]*Conn),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go r.sweepLoop()
	} else {
		close(r.done)
	}
	return r
}

// Admit registers a connection and starts its writer goroutine. A capacity
// breach returns ErrRegistryFull without touching the table.
func (r *Registry) Admit(sessionID string, w Writer) (*Conn, error) {
	now := time.Now()
	c := &Conn{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		AdmittedAt:    now,
		status:        StatusConnecting,
		lastHeartbeat: now,
		outbound:      make(chan Frame, r.cfg.QueueSize),
		quit:          make(chan struct{}),
		writer:        w,
	}

	r.mu.Lock()
	if len(r.conns) >= r.cfg.MaxConnections {
		r.mu.Unlock()
		r.rejected.Add(1)
		metrics.ConnectionsRejected.Inc()
		return nil, fmt.Errorf("%w: %d active", ErrRegistryFull, r.cfg.MaxConnections)
	}
	r.conns[c.ID] = c
	active := len(r.conns)
	r.mu.Unlock()

	r.admitted.Add(1)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Set(float64(active))

	go r.writeLoop(c)

	slog.Info("connection admitted", "conn_id", c.ID, "session_id", sessionID, "active", active)
	if r.cfg.OnAdmit != nil {
		r.cfg.OnAdmit(c)
	}
	return c, nil
}

// Get looks up a live connection.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats snapshots the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:   r.Len(),
		Capacity: r.cfg.MaxConnections,
		Admitted: r.admitted.Load(),
		Rejected: r.rejected.Load(),
		Evicted:  r.evictedN.Load(),
	}
}

// Touch records liveness for a connection. Heartbeats and inbound audio
// frames both count. Returns false for unknown connections.
func (r *Registry) Touch(id string) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
	return true
}

// Send queues frames for a connection's writer goroutine. A full queue means
// the client cannot keep up; the connection is evicted and the send fails.
func (r *Registry) Send(id string, frames ...Frame) error {
	c, ok := r.Get(id)
	if !ok || !c.sendable() {
		return ErrConnectionClosed
	}
	for _, f := range frames {
		select {
		case c.outbound <- f:
		default:
			r.Evict(id, "outbound_backpressure")
			return fmt.Errorf("outbound queue full: %w", ErrConnectionClosed)
		}
	}
	return nil
}

// Evict removes a connection from the table, stops its writer, closes the
// transport, and fires the evict hook. Safe to call more than once and from
// any goroutine.
func (r *Registry) Evict(id, reason string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	active := len(r.conns)
	r.mu.Unlock()
	if !ok {
		return
	}

	c.evicted.Do(func() {
		c.mu.Lock()
		c.status = StatusClosing
		c.mu.Unlock()

		close(c.quit)
		if err := c.writer.Close(); err != nil {
			slog.Debug("transport close", "conn_id", c.ID, "error", err)
		}

		c.mu.Lock()
		c.status = StatusClosed
		c.mu.Unlock()

		r.evictedN.Add(1)
		metrics.Evictions.WithLabelValues(reason).Inc()
		metrics.ConnectionsActive.Set(float64(active))
		slog.Info("connection evicted", "conn_id", c.ID, "session_id", c.SessionID, "reason", reason, "active", active)

		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(c, reason)
		}
	})
}

// Close stops the sweeper and evicts every live connection.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	for _, id := range r.ids() {
		r.Evict(id, "shutdown")
	}
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep evicts connections whose last heartbeat is older than the timeout.
func (r *Registry) sweep(now time.Time) {
	var stale []string
	r.mu.RLock()
	for id, c := range r.conns {
		c.mu.Lock()
		last := c.lastHeartbeat
		c.mu.Unlock()
		if now.Sub(last) > r.cfg.HeartbeatTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Evict(id, "heartbeat_timeout")
	}
}

// writeLoop drains one connection's outbound queue. A transport write
// failure evicts the connection; the client is gone or stuck.
func (r *Registry) writeLoop(c *Conn) {
	for {
		select {
		case <-c.quit:
			return
		case f := <-c.outbound:
			var err error
			if f.Binary {
				err = c.writer.WriteBinary(f.Data)
			} else {
				err = c.writer.WriteText(f.Data)
			}
			if err != nil {
				slog.Warn("outbound write failed", "conn_id", c.ID, "error", err)
				r.Evict(c.ID, "write_failure")
				return
			}
		}
	}
}
