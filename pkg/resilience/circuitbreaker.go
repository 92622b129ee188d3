package resilience

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal: calls pass through
	StateOpen                         // Tripped: calls are rejected
	StateHalfOpen                     // Probing: one call allowed
)

func (s CircuitState) String() string {
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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
// It is not a rate-limit error, so the backoff does not retry it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips open after a run of consecutive upstream failures and
// moves to half-open once the cooldown has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	state               CircuitState
	failureThreshold    int
	consecutiveFailures int
	cooldown            time.Duration
	lastFailure         time.Time
	isFailure           func(error) bool
	now                 func() time.Time
	onStateChange       func(CircuitState)
}

// CircuitBreakerConfig holds configuration for a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures needed to trip
	Cooldown         time.Duration // Time to wait before probing
	// IsFailure decides which errors count against the breaker.
	// Defaults to IsServerError.
	IsFailure func(error) bool
	// OnStateChange, if set, is called (without the lock held) after every transition.
	OnStateChange func(CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = IsServerError
	}

	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		isFailure:        cfg.IsFailure,
		now:              time.Now,
		onStateChange:    cfg.OnStateChange,
	}
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	before := cb.state
	if err != nil && cb.isFailure(err) {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	after := cb.state
	cb.mu.Unlock()

	if before != after {
		cb.notify(after)
	}
	return err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed, StateHalfOpen:
		cb.mu.Unlock()
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.cooldown {
			cb.state = StateHalfOpen
			cb.mu.Unlock()
			cb.notify(StateHalfOpen)
			return true
		}
	}
	cb.mu.Unlock()
	return false
}

// recordFailure must be called with mu held.
func (cb *CircuitBreaker) recordFailure() {
	cb.consecutiveFailures++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// recordSuccess must be called with mu held.
func (cb *CircuitBreaker) recordSuccess() {
	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}
}

func (cb *CircuitBreaker) notify(s CircuitState) {
	if cb.onStateChange != nil {
		cb.onStateChange(s)
	}
}

// IsServerError reports whether err carries an upstream status of 429 or 5xx.
// Errors expose their status through a StatusCode() int method.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	var sc interface{ StatusCode() int }
	if !errors.As(err, &sc) {
		return IsRateLimited(err)
	}
	code := sc.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
