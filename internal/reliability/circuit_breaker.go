package reliability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
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
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after a run of consecutive failures and lets a
// limited number of probes through once the timeout has passed
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	inFlightProbes  int
	lastFailureTime time.Time

	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenRequests int
	logger           *slog.Logger
	countsAsFailure  func(error) bool
	now              func() time.Time
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the number of consecutive failures that opens the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the number of successful probes that closes the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithTimeout sets how long the circuit stays open
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.timeout = timeout
	}
}

// WithHalfOpenRequests sets the number of concurrent probes in half-open state
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName names the breaker in errors and logs
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithBreakerLogger logs state transitions
func WithBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithFailurePredicate decides which errors count against the circuit.
// By default only retryable errors do: a malformed request says nothing
// about the health of the endpoint.
func WithFailurePredicate(fn func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.countsAsFailure = fn
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		name:             "default",
		failureThreshold: 5,
		successThreshold: 2,
		timeout:          30 * time.Second,
		halfOpenRequests: 1,
		logger:           slog.Default(),
		countsAsFailure:  IsRetryable,
		now:              time.Now,
	}

	for _, opt := range options {
		opt(cb)
	}
	if cb.logger == nil {
		cb.logger = slog.Default()
	}

	return cb
}

// Execute runs fn unless the circuit rejects the call
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		cb.release()
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, "reset")
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		nextRetry := cb.lastFailureTime.Add(cb.timeout)
		if cb.now().Before(nextRetry) {
			return &CircuitBreakerError{
				Name:             cb.name,
				State:            StateOpen,
				Failures:         cb.failures,
				FailureThreshold: cb.failureThreshold,
				NextRetry:        nextRetry,
			}
		}
		cb.transition(StateHalfOpen, "timeout expired")
	}

	if cb.state == StateHalfOpen {
		if cb.inFlightProbes >= cb.halfOpenRequests {
			return &CircuitBreakerError{
				Name:             cb.name,
				State:            StateHalfOpen,
				Failures:         cb.failures,
				FailureThreshold: cb.failureThreshold,
			}
		}
		cb.inFlightProbes++
	}
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}

	if err != nil && cb.countsAsFailure(err) {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.transition(StateOpen, "failure threshold reached")
			}
		case StateHalfOpen:
			cb.transition(StateOpen, "probe failed")
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(StateClosed, "probes succeeded")
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	cb.state = to
	cb.inFlightProbes = 0
	cb.successes = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if from != to {
		cb.logger.Info("circuit breaker state changed",
			"breaker", cb.name,
			"from", from.String(),
			"to", to.String(),
			"reason", reason,
		)
	}
}
