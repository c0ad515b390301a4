// Package interceptors provides the request pipeline in front of the JSONP
// bridge.
//
// A Chain wraps a final Handler with interceptors. JSONPInterceptor routes
// JSONP requests to a *bridge.Bridge and leaves the rest to the next handler.
// The other built-in interceptors handle logging, metrics, host filtering,
// timeouts, retries and circuit breaking.
//
// Example usage:
//
//	handler := interceptors.NewChainBuilder(logger).
//		WithLogging().
//		WithMetrics(collector).
//		WithTimeout(30 * time.Second).
//		WithRetry(interceptors.NewRetryInterceptor(policy)).
//		WithCustom(interceptors.NewJSONPInterceptor(b)).
//		Build().
//		Then(interceptors.UnsupportedHandler)
//
//	resp, err := handler.Handle(ctx, contracts.NewJSONPRequest(url))
//
// Interceptors run in the order they were added; the first one added sees the
// request first and the response last.
package interceptors
