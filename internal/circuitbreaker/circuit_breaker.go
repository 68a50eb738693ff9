package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/video-importer/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name      string
	Threshold int           // Consecutive failures before opening
	Cooldown  time.Duration // Time the circuit stays open
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:      name,
		Threshold: 5,
		Cooldown:  5 * time.Minute,
	}
}

// Breaker counts failures of one remote dependency and blocks calls for a
// cooldown period once the threshold is reached. Its state lives in a Store
// so several processes can share one breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	store     Store
	now       func() time.Time
}

// Option customizes a Breaker
type Option func(*Breaker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStore overrides the default in-memory state store
func WithStore(store Store) Option {
	return func(b *Breaker) { b.store = store }
}

// NewBreaker creates a new circuit breaker
func NewBreaker(config *Config, opts ...Option) *Breaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	b := &Breaker{
		name:      config.Name,
		threshold: config.Threshold,
		cooldown:  config.Cooldown,
		store:     NewMemoryStore(),
		now:       time.Now,
	}
	if b.threshold <= 0 {
		b.threshold = 5
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow returns ErrCircuitOpen while the cooldown is running. Once the cooldown
// has elapsed the breaker is closed and the call may proceed.
func (b *Breaker) Allow(ctx context.Context) error {
	openedAt, open, err := b.store.OpenedAt(ctx)
	if err != nil {
		// A broken state store must not take the client down with it.
		logging.FromContext(ctx).WithError(err).WithField("circuitBreaker", b.name).Warn("Circuit breaker state unavailable")
		return nil
	}
	if !open {
		return nil
	}

	if b.now().Sub(openedAt) < b.cooldown {
		return ErrCircuitOpen
	}

	if err := b.store.Reset(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("circuitBreaker", b.name).Warn("Failed to reset circuit breaker")
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"circuitBreaker": b.name,
		"state":          StateClosed,
	}).Info("Circuit breaker cooldown expired, closing")
	return nil
}

// RecordFailure increments the failure counter and opens the circuit when
// the threshold is reached.
func (b *Breaker) RecordFailure(ctx context.Context) {
	failures, err := b.store.IncrFailures(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("circuitBreaker", b.name).Warn("Failed to record circuit breaker failure")
		return
	}
	if failures < b.threshold {
		return
	}

	if err := b.store.SetOpenedAt(ctx, b.now(), b.cooldown); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("circuitBreaker", b.name).Warn("Failed to open circuit breaker")
		return
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"circuitBreaker": b.name,
		"state":          StateOpen,
		"failures":       failures,
		"cooldown":       b.cooldown.String(),
	}).Warn("Circuit breaker opened due to failures")
}

// RecordSuccess closes the circuit and clears the failure counter
func (b *Breaker) RecordSuccess(ctx context.Context) {
	if err := b.store.Reset(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("circuitBreaker", b.name).Warn("Failed to reset circuit breaker")
	}
}

// Reset manually resets the circuit breaker to closed state
func (b *Breaker) Reset(ctx context.Context) error {
	if err := b.store.Reset(ctx); err != nil {
		return err
	}
	logging.WithField("circuitBreaker", b.name).Info("Circuit breaker manually reset")
	return nil
}

// GetState returns the current state of the circuit breaker
func (b *Breaker) GetState(ctx context.Context) State {
	openedAt, open, err := b.store.OpenedAt(ctx)
	if err != nil || !open || b.now().Sub(openedAt) >= b.cooldown {
		return StateClosed
	}
	return StateOpen
}

// GetStats returns statistics about the circuit breaker
func (b *Breaker) GetStats(ctx context.Context) *Stats {
	stats := &Stats{
		Name:      b.name,
		State:     b.GetState(ctx),
		Threshold: b.threshold,
		Cooldown:  b.cooldown.String(),
	}
	if failures, err := b.store.Failures(ctx); err == nil {
		stats.Failures = failures
	}
	if openedAt, open, err := b.store.OpenedAt(ctx); err == nil && open {
		t := openedAt
		stats.OpenedAt = &t
	}
	return stats
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name      string     `json:"name"`
	State     State      `json:"state"`
	Failures  int        `json:"failures"`
	Threshold int        `json:"threshold"`
	Cooldown  string     `json:"cooldown"`
	OpenedAt  *time.Time `json:"openedAt,omitempty"`
}
