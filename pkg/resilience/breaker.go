// Package resilience guards calls to remote delivery endpoints with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalmax/signalmax/pkg/observability/logger"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all calls through
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses
	StateOpen
	// StateHalfOpen lets one trial call through
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the guarded function while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a Breaker. MaxFailures <= 0 disables the breaker (New returns nil,
// and a nil *Breaker executes every call).
type Config struct {
	Name        string
	MaxFailures int
	Cooldown    time.Duration
}

// Breaker opens after MaxFailures consecutive failures and rejects calls for Cooldown.
// The first call after the cooldown is a trial: success closes the breaker, failure
// opens it again. Cancellation of the caller's context is not a failure.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	logger      logger.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New builds a breaker, or returns nil when cfg disables it.
func New(cfg Config, log logger.Logger, opts ...Option) *Breaker {
	if cfg.MaxFailures <= 0 {
		return nil
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	b := &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		logger:      logger.OrNop(log).With("breaker", cfg.Name),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	recordState(b.name, StateClosed)
	return b
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	if err := b.acquire(); err != nil {
		recordRejected(b.name)
		return err
	}
	err := fn(ctx)
	b.release(ctx, err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%w: %s", ErrOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: %s (trial in flight)", ErrOpen, b.name)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) release(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
	if err != nil && ctx.Err() != nil {
		// The caller gave up; the endpoint's health is unknown.
		return
	}
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.failures = 0
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// transition requires b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	recordState(b.name, to)
	b.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
}

// State returns the current state. An open breaker whose cooldown elapsed still reports
// open until the next call.
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count in the closed state.
func (b *Breaker) Failures() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
