package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/jsonp-bridge/contracts"
)

// Handler performs a request
type Handler interface {
	Handle(ctx context.Context, req contracts.Request) (*contracts.Response, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, req contracts.Request) (*contracts.Response, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, req contracts.Request) (*contracts.Response, error) {
	return f(ctx, req)
}

// Interceptor wraps request handling
type Interceptor interface {
	// Intercept processes a request and calls the next handler in the chain
	Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	return i.fn(ctx, req, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain is an ordered list of interceptors. The first one added is the
// outermost.
type Chain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewChain creates an empty chain
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}

	return &Chain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add appends an interceptor to the chain
func (c *Chain) Add(interceptor Interceptor) *Chain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names returns the interceptor names in execution order
func (c *Chain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	return names
}

// Then returns a Handler running the chain in front of final
func (c *Chain) Then(final Handler) Handler {
	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = HandlerFunc(func(ctx context.Context, req contracts.Request) (*contracts.Response, error) {
			return interceptor.Intercept(ctx, req, next)
		})
	}
	return handler
}

// Built-in interceptors

// LoggingInterceptor logs every request with its outcome
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	start := time.Now()

	i.logger.Debug("sending request",
		"method", req.Method,
		"url", req.URL,
	)

	resp, err := next.Handle(ctx, req)
	duration := time.Since(start)

	if err != nil {
		i.logger.Warn("request failed",
			"method", req.Method,
			"url", req.URL,
			"duration", duration,
			"error", err,
		)
		return resp, err
	}

	i.logger.Info("request completed",
		"method", req.Method,
		"url", req.URL,
		"status", resp.Status,
		"duration", duration,
	)
	return resp, nil
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsCollector receives per-request measurements
type MetricsCollector interface {
	IncrementRequestCount(method contracts.Method)
	RecordLatency(method contracts.Method, duration time.Duration)
	IncrementErrorCount(method contracts.Method, errorClass string)
}

// MetricsInterceptor reports requests to a MetricsCollector
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	start := time.Now()
	i.collector.IncrementRequestCount(req.Method)

	resp, err := next.Handle(ctx, req)
	i.collector.RecordLatency(req.Method, time.Since(start))

	if err != nil {
		i.collector.IncrementErrorCount(req.Method, ErrorClass(err))
	}
	return resp, err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// TimeoutInterceptor bounds the time a request may take
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. The deadline reaches the bridge through
// ctx, which cancels the exchange and detaches its script.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	resp, err := next.Handle(timeoutCtx, req)
	if err != nil && ctx.Err() == nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("request to %s timed out after %v: %w", req.URL, i.timeout, err)
	}
	return resp, err
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// CircuitBreaker is the subset of reliability.CircuitBreaker used here
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
}

// CircuitBreakerInterceptor fails fast while the breaker is open
type CircuitBreakerInterceptor struct {
	circuitBreaker CircuitBreaker
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(circuitBreaker CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{circuitBreaker: circuitBreaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	var resp *contracts.Response
	err := i.circuitBreaker.Execute(ctx, func() error {
		var err error
		resp, err = next.Handle(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}

// ChainBuilder builds the usual request pipeline
type ChainBuilder struct {
	chain  *Chain
	logger *slog.Logger
}

// NewChainBuilder creates a new builder
func NewChainBuilder(logger *slog.Logger) *ChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChainBuilder{
		chain:  NewChain(logger),
		logger: logger,
	}
}

// WithLogging adds logging interceptor
func (b *ChainBuilder) WithLogging() *ChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds metrics interceptor
func (b *ChainBuilder) WithMetrics(collector MetricsCollector) *ChainBuilder {
	b.chain.Add(NewMetricsInterceptor(collector))
	return b
}

// WithFilter adds a filtering interceptor
func (b *ChainBuilder) WithFilter(filter RequestFilter) *ChainBuilder {
	b.chain.Add(NewFilteringInterceptor(filter))
	return b
}

// WithTimeout adds timeout interceptor
func (b *ChainBuilder) WithTimeout(timeout time.Duration) *ChainBuilder {
	b.chain.Add(NewTimeoutInterceptor(timeout))
	return b
}

// WithRetry adds retry interceptor
func (b *ChainBuilder) WithRetry(interceptor *RetryInterceptor) *ChainBuilder {
	b.chain.Add(interceptor.WithLogger(b.logger))
	return b
}

// WithCircuitBreaker adds circuit breaker interceptor
func (b *ChainBuilder) WithCircuitBreaker(circuitBreaker CircuitBreaker) *ChainBuilder {
	b.chain.Add(NewCircuitBreakerInterceptor(circuitBreaker))
	return b
}

// WithCustom adds a custom interceptor
func (b *ChainBuilder) WithCustom(interceptor Interceptor) *ChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built chain
func (b *ChainBuilder) Build() *Chain {
	return b.chain
}
