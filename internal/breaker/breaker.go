// Package breaker gates external-service calls with failure tracking,
// timeouts, and short-circuiting so one failing dependency cannot stall
// every live conversation.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plushtalk/voice-gateway/internal/metrics"
)

// State is the breaker state machine position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without attempting the call while the breaker
// is open or a half-open trial is already in flight.
var ErrCircuitOpen = errors.New("circuit open")

// Config controls failure counting and recovery pacing.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	CallTimeout      time.Duration // per-call timeout; a timeout counts as a failure
	Cooldown         time.Duration // open duration before the first half-open trial
	CooldownMax      time.Duration // cap for the doubling cooldown
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CallTimeout:      5 * time.Second,
		Cooldown:         30 * time.Second,
		CooldownMax:      5 * time.Minute,
	}
}

// Breaker wraps calls to one external service. Safe for concurrent use.
type Breaker struct {
	service string
	cfg     Config

	mu          sync.Mutex
	state       State
	failures    int
	cooldown    time.Duration
	openUntil   time.Time
	trialActive bool
}

// New creates a breaker for the named service.
func New(service string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.CooldownMax < cfg.Cooldown {
		cfg.CooldownMax = cfg.Cooldown
	}
	b := &Breaker{service: service, cfg: cfg, cooldown: cfg.Cooldown}
	metrics.BreakerState.WithLabelValues(service).Set(float64(StateClosed))
	return b
}

// Service returns the name of the wrapped service.
func (b *Breaker) Service() string { return b.service }

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// stateLocked resolves OPEN→HALF_OPEN lazily once the cooldown elapses.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && time.Now().After(b.openUntil) {
		b.setStateLocked(StateHalfOpen)
		b.trialActive = false
	}
	return b.state
}

// Do runs fn under the per-call timeout with circuit protection. While open,
// it returns ErrCircuitOpen immediately; callers translate that into their
// stage fallback. In half-open, exactly one trial call is admitted.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		metrics.BreakerCalls.WithLabelValues(b.service, "short_circuit").Inc()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		b.afterCall(true)
		metrics.BreakerCalls.WithLabelValues(b.service, "success").Inc()
		return nil
	}

	b.afterCall(false)
	metrics.BreakerCalls.WithLabelValues(b.service, "failure").Inc()
	if callCtx.Err() != nil && errors.Is(err, callCtx.Err()) {
		return fmt.Errorf("%s timeout: %w", b.service, err)
	}
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return nil
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trialActive {
			return ErrCircuitOpen
		}
		b.trialActive = true
		return nil
	}
	return ErrCircuitOpen
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.state == StateHalfOpen {
			slog.Info("breaker recovered", "service", b.service)
			b.cooldown = b.cfg.Cooldown
		}
		b.setStateLocked(StateClosed)
		b.failures = 0
		b.trialActive = false
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		// Failed trial: reopen with a longer cooldown, capped.
		b.cooldown = min(b.cooldown*2, b.cfg.CooldownMax)
		b.openLocked()
		b.trialActive = false
	}
}

func (b *Breaker) openLocked() {
	b.openUntil = time.Now().Add(b.cooldown)
	slog.Warn("breaker opened",
		"service", b.service,
		"failures", b.failures,
		"cooldown", b.cooldown,
	)
	b.setStateLocked(StateOpen)
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	metrics.BreakerState.WithLabelValues(b.service).Set(float64(s))
	metrics.BreakerTransitions.WithLabelValues(b.service, s.String()).Inc()
}

// Snapshot reports breaker observability fields for the status endpoint.
type Snapshot struct {
	Service   string    `json:"service"`
	State     string    `json:"state"`
	Failures  int       `json:"consecutive_failures"`
	OpenUntil time.Time `json:"open_until,omitzero"`
}

// Snapshot returns the current observable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Service:  b.service,
		State:    b.stateLocked().String(),
		Failures: b.failures,
	}
	if b.state == StateOpen {
		snap.OpenUntil = b.openUntil
	}
	return snap
}
