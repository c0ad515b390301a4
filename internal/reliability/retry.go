package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when to try again
type RetryPolicy interface {
	// ShouldRetry is called after the attempt-th failure (0-based)
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxRetries returns the maximum number of retries
	MaxRetries() int
}

// ExponentialBackoff doubles (by Multiplier) the delay after every failure
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates an exponential backoff policy with jitter
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts || !IsRetryable(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxRetries implements RetryPolicy
func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

// NextDelay returns the delay before retry number attempt+1
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15%
	if e.Jitter {
		delay = delay*0.85 + rand.Float64()*0.3*delay
	}
	return time.Duration(delay)
}

// FixedDelay waits the same amount of time between attempts
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxRetries,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts || !IsRetryable(err) {
		return false, 0
	}
	return true, f.Delay
}

// MaxRetries implements RetryPolicy
func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

// Retry runs fn until it succeeds, the policy gives up or ctx is done.
// Exhausted retries are reported as *RetryError; a non-retryable error is
// returned as is.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		shouldRetry, delay := policy.ShouldRetry(attempt, err)
		if !shouldRetry {
			if attempt == 0 || !IsRetryable(err) {
				return err
			}
			return &RetryError{
				Attempts:  attempt + 1,
				LastError: err,
				Duration:  time.Since(start),
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
