package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrCircuitOpen     = errors.New("redis circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests while redis circuit breaker is half-open")
)

// CircuitBreakerConfig tunes when the guarded Redis gateway trips: the
// breaker opens once a sliding window of at least MinCalls calls shows a
// failure rate at or above FailureRateThreshold, rather than on a fixed
// count of consecutive failures, so a single slow tick among many healthy
// ones doesn't trip it.
type CircuitBreakerConfig struct {
	Name                 string
	FailureRateThreshold float64
	MinCalls             int
	WindowSize           int
	SuccessThreshold     int
	Timeout              time.Duration
	MaxHalfOpenRequests  int
}

// DefaultCircuitBreakerConfig opens once at least 5 calls have been recorded
// and half or more of the last (up to) 10 failed, stays open 30s, and
// requires 3 consecutive half-open successes before closing again.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:                 name,
		FailureRateThreshold: 0.5,
		MinCalls:             5,
		WindowSize:           10,
		SuccessThreshold:     3,
		Timeout:              30 * time.Second,
		MaxHalfOpenRequests:  3,
	}
}

// CircuitBreaker guards a single downstream dependency; internal/redisx
// keeps exactly one, named "redis", since the scheduler talks to nothing
// else worth isolating failures against.
type CircuitBreaker struct {
	config           *CircuitBreakerConfig
	state            State
	successes        int
	halfOpenRequests int
	lastFailure      time.Time
	mutex            sync.RWMutex
	logger           *zap.Logger
	window           *slidingWindow
}

// slidingWindow tracks the last N call outcomes as a ring buffer.
type slidingWindow struct {
	outcomes []bool
	index    int
	count    int
	mutex    sync.RWMutex
}

func newSlidingWindow(size int) *slidingWindow {
	return &slidingWindow{outcomes: make([]bool, size)}
}

func (w *slidingWindow) record(success bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.outcomes[w.index] = success
	w.index = (w.index + 1) % len(w.outcomes)
	if w.count < len(w.outcomes) {
		w.count++
	}
}

func (w *slidingWindow) failureRate() (rate float64, calls int) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	if w.count == 0 {
		return 0, 0
	}
	failures := 0
	for i := 0; i < w.count; i++ {
		if !w.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(w.count), w.count
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config *CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		logger: logger.With(zap.String("circuit_breaker", config.Name)),
		window: newSlidingWindow(config.WindowSize),
	}
}

// Execute runs fn if the breaker allows it, recording the outcome against
// the sliding window and state machine.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordOutcome(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxHalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) recordOutcome(success bool) {
	cb.window.record(success)

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		if !success {
			cb.lastFailure = time.Now()
		}
		if rate, calls := cb.window.failureRate(); calls >= cb.config.MinCalls && rate >= cb.config.FailureRateThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if success {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionTo(StateClosed)
			}
		} else {
			cb.lastFailure = time.Now()
			cb.transitionTo(StateOpen)
		}
	}
}

// transitionTo moves to newState, resetting the half-open counters and,
// when closing, the sliding window so a resolved outage doesn't linger in
// the failure rate that governs the next trip decision.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	old := cb.state
	cb.state = newState
	cb.successes = 0
	cb.halfOpenRequests = 0
	if newState == StateClosed {
		cb.window = newSlidingWindow(cb.config.WindowSize)
	}

	cb.logger.Info("circuit breaker state transition",
		zap.String("from", old.String()),
		zap.String("to", newState.String()),
	)
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}
