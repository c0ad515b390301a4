// Package reliability provides the caller-side resilience layer placed in
// front of the JSONP bridge.
//
// The bridge itself never retries. This package supplies:
//   - Retry policies (exponential backoff, fixed delay) and a Retry helper
//   - A circuit breaker that stops hammering an endpoint whose scripts keep
//     failing to load
//   - IsRetryable, which classifies bridge errors: caller errors and scripts
//     that never call back are permanent, load errors are transient
//
// Example usage:
//
//	policy := reliability.NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2.0, 3)
//	err := reliability.Retry(ctx, policy, func() error {
//	    _, err := b.Do(ctx, req)
//	    return err
//	})
package reliability
