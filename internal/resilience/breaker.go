// Package resilience guards calls to remote snapshot backends with a
// three-state circuit breaker (closed, open, half-open).
//
// A run that cannot reach its snapshot store should keep simulating; the
// breaker turns a dead backend into fast [ErrCircuitOpen] rejections instead
// of a network timeout on every save.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. A failed probe
	// re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

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

// Config tunes a [Breaker]. Zero values take the defaults noted per field.
type Config struct {
	// Name labels log lines, e.g. "snapshot/s3".
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the open period before probing. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds probes in the half-open state. Default 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(string, State, State)
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// New creates a closed [Breaker].
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Do runs fn if the breaker admits the call. Errors caused by ctx being
// cancelled are returned but never counted as backend failures.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release(probe)
		return err
	}
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.successes = 0, 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			b.mu.Unlock()
			b.notify(from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.probes++
		probe = true
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return probe, nil
}

// release returns an unused probe slot.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	from := b.state

	switch {
	case err != nil && probe:
		b.trip()
	case err != nil:
		b.failures++
		if b.state == StateClosed && b.failures >= b.maxFailures {
			b.trip()
		}
	case probe:
		b.successes++
		if b.state == StateHalfOpen && b.successes >= b.halfOpenMax {
			b.state = StateClosed
			b.failures, b.probes, b.successes = 0, 0, 0
		}
	default:
		b.failures = 0
	}

	to, failures := b.state, b.failures
	b.mu.Unlock()

	if from != to {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", b.name, "from", from.String(), "consecutive_failures", failures)
		} else {
			slog.Info("circuit breaker closed", "name", b.name)
		}
	}
	b.notify(from, to)
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probes, b.successes = 0, 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call to [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.probes, b.successes = 0, 0, 0
	b.mu.Unlock()
	slog.Info("circuit breaker manually reset", "name", b.name)
	b.notify(from, StateClosed)
}
