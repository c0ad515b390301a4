package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glimte/jsonp-bridge/contracts"
)

var (
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
	ErrNonRetryable         = errors.New("retry: error is not retryable")
)

// CircuitBreakerError is returned when the breaker rejects a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Millisecond)
		return fmt.Sprintf("circuit breaker %s open (failures=%d/%d, retry in %v)",
			e.Name, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: probe limit reached", e.Name)
	default:
		return fmt.Sprintf("circuit breaker %s rejected call in state %v", e.Name, e.State)
	}
}

// Unwrap maps the state onto the matching sentinel
func (e *CircuitBreakerError) Unwrap() error {
	if e.State == StateHalfOpen {
		return ErrCircuitHalfOpenLimit
	}
	return ErrCircuitOpen
}

// RetryError is returned when every attempt failed
type RetryError struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts over %v: %v",
		e.Attempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// IsRetryable reports whether repeating the exchange could change the outcome
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNonRetryable):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case contracts.IsCallerError(err):
		return false
	case errors.Is(err, contracts.ErrNoCallbackInvoked):
		return false
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return cbErr.State != StateOpen || time.Now().After(cbErr.NextRetry)
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return true
}

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}
