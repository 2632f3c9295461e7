package clients

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned without calling the backend while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreaker stops calling an unhealthy backend for a while. It never
// retries on its own; a refused call fails immediately.
type CircuitBreaker struct {
	name              string
	logger            logrus.FieldLogger
	clock             clockwork.Clock
	countable         func(error) bool
	state             CircuitBreakerState
	failureCount      int
	successCount      int
	lastFailureTime   time.Time
	mu                sync.Mutex
	maxFailures       int           // Open circuit after N failures
	resetTimeout      time.Duration // Wait before trying half-open
	halfOpenSuccesses int           // Required successes to close circuit
}

// NewCircuitBreaker creates a circuit breaker. countable decides which errors
// count as backend failures; nil counts every error.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, clock clockwork.Clock, logger logrus.FieldLogger, countable func(error) bool) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if countable == nil {
		countable = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:              name,
		logger:            logger,
		clock:             clock,
		countable:         countable,
		state:             StateClosed,
		maxFailures:       maxFailures,
		resetTimeout:      resetTimeout,
		halfOpenSuccesses: 1,
	}
}

// Execute runs fn with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.clock.Since(cb.lastFailureTime) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.logger.WithField("breaker", cb.name).Info("Circuit breaker: OPEN → HALF_OPEN")
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.countable(err) {
		cb.onFailure(err)
		return err
	}

	cb.onSuccess()
	return err
}

// onFailure handles a failed backend call
func (cb *CircuitBreaker) onFailure(err error) {
	cb.failureCount++
	cb.lastFailureTime = cb.clock.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"breaker":       cb.name,
				"failure_count": cb.failureCount,
				"error":         err.Error(),
			}).Error("Circuit breaker: CLOSED → OPEN")
		}

	case StateHalfOpen:
		cb.state = StateOpen
		cb.failureCount = 0
		cb.logger.WithError(err).WithField("breaker", cb.name).Error("Circuit breaker: HALF_OPEN → OPEN")
	}
}

// onSuccess handles a call that reached a healthy backend
func (cb *CircuitBreaker) onSuccess() {
	cb.successCount++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		if cb.successCount >= cb.halfOpenSuccesses {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.WithField("breaker", cb.name).Info("Circuit breaker: HALF_OPEN → CLOSED")
		}
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current circuit breaker statistics
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"state":         cb.state.String(),
		"failure_count": cb.failureCount,
		"success_count": cb.successCount,
		"max_failures":  cb.maxFailures,
		"last_failure":  cb.lastFailureTime,
		"reset_timeout": cb.resetTimeout.String(),
	}
}
