package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned when the breaker rejects a call outright.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe budget is exhausted.
	ErrTooManyProbes = errors.New("too many probes in half-open state")
)

// Config tunes a breaker.
type Config struct {
	FailureThreshold uint32        // consecutive failures that open the breaker
	SuccessThreshold uint32        // consecutive successes that close it again
	MaxProbes        uint32        // concurrent probe budget while half-open
	OpenTimeout      time.Duration // how long to stay open before probing
	CountWindow      time.Duration // closed-state counter reset interval
}

// DefaultConfig returns the defaults used for Postgres and Redis.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		MaxProbes:        3,
		OpenTimeout:      10 * time.Second,
		CountWindow:      60 * time.Second,
	}
}

type counts struct {
	requests             uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern around a dependency.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

// New creates a breaker with the given name for metric and log labels.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		expiry: time.Now().Add(cfg.CountWindow),
	}
}

// Do runs fn if the breaker admits the call and records the outcome.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		rejectedTotal.WithLabelValues(b.name).Inc()
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.settle(gen, false)
			panic(r)
		}
	}()

	err = fn()
	// Context cancellation is the caller's doing, not the dependency's health.
	success := err == nil || errors.Is(err, context.Canceled)
	b.settle(gen, success)
	return err
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.tick(time.Now())
	return s
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, gen := b.tick(time.Now())
	switch {
	case state == StateOpen:
		return gen, ErrOpen
	case state == StateHalfOpen && b.counts.requests >= b.cfg.MaxProbes:
		return gen, ErrTooManyProbes
	}
	b.counts.requests++
	return gen, nil
}

func (b *Breaker) settle(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, gen := b.tick(now)
	if gen != before {
		return
	}

	if success {
		b.counts.consecutiveSuccesses++
		b.counts.consecutiveFailures = 0
		if state == StateHalfOpen && b.counts.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.consecutiveFailures++
	b.counts.consecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.counts.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// tick advances time-driven transitions; callers must hold mu.
func (b *Breaker) tick(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.newGeneration(now)
	stateGauge.WithLabelValues(b.name).Set(float64(to))
	transitionsTotal.WithLabelValues(b.name, from.String(), to.String()).Inc()
	b.logger.Warn("Circuit breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = counts{}
	switch b.state {
	case StateClosed:
		b.expiry = now.Add(b.cfg.CountWindow)
	case StateOpen:
		b.expiry = now.Add(b.cfg.OpenTimeout)
	default:
		b.expiry = time.Time{}
	}
}
