package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/internal/reliability"
)

// RetryInterceptor repeats failed requests according to a retry policy.
// Each attempt runs a fresh exchange with a new callback id.
type RetryInterceptor struct {
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy reliability.RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Intercept implements Interceptor
func (r *RetryInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	var resp *contracts.Response
	attempt := 0
	err := reliability.Retry(ctx, r.retryPolicy, func() error {
		if attempt > 0 {
			r.logger.Debug("retrying request", "url", req.URL, "attempt", attempt)
		}
		attempt++

		var err error
		resp, err = next.Handle(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
