// Package resilience provides a circuit breaker for the service's calls to
// PostgreSQL and Kafka.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen rejects requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// ErrOpen is matched by every rejection.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is rejected.
type OpenError struct {
	Name     string
	RetryAt  time.Time
	Failures int
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (failures=%d, retry at %s)",
		e.Name, e.Failures, e.RetryAt.Format(time.RFC3339))
}

// Unwrap makes errors.Is(err, ErrOpen) hold.
func (e *OpenError) Unwrap() error { return ErrOpen }

// Config configures a Breaker.
type Config struct {
	// Name identifies the breaker in errors and metrics.
	Name string
	// MaxFailures is the number of consecutive failures that trips the circuit.
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenProbes is how many successful probes close the circuit.
	HalfOpenProbes int
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the default configuration for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		MaxFailures:    5,
		OpenTimeout:    30 * time.Second,
		HalfOpenProbes: 1,
	}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker implements the circuit breaker pattern. It is safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
}

// New creates a closed breaker. Zero-valued config fields take defaults.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn unless the circuit is open. Errors caused by ctx ending do not
// count as failures.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release()
		return err
	}
	b.record(err == nil)
	return err
}

// State returns the current state, moving an expired open circuit to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.refresh()
	state := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	from, to := b.refresh()

	var err error
	switch b.state {
	case StateOpen:
		err = b.openError()
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenProbes {
			err = b.openError()
		} else {
			b.inFlight++
		}
	}
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	from := b.state
	switch {
	case ok && b.state == StateHalfOpen:
		b.inFlight--
		b.successes++
		if b.successes >= b.cfg.HalfOpenProbes {
			b.set(StateClosed)
		}
	case ok:
		b.failures = 0
	case b.state == StateHalfOpen:
		b.inFlight--
		b.failures++
		b.set(StateOpen)
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.set(StateOpen)
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// refresh must hold mu.
func (b *Breaker) refresh() (from, to State) {
	from = b.state
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cfg.OpenTimeout)) {
		b.set(StateHalfOpen)
	}
	return from, b.state
}

// set must hold mu.
func (b *Breaker) set(to State) {
	b.state = to
	b.successes = 0
	b.inFlight = 0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) openError() error {
	return &OpenError{
		Name:     b.cfg.Name,
		RetryAt:  b.openedAt.Add(b.cfg.OpenTimeout),
		Failures: b.failures,
	}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
