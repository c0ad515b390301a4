package interceptors

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/jsonp-bridge/bridge"
	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/internal/reliability"
)

// ErrUnsupportedRequest is returned by UnsupportedHandler
var ErrUnsupportedRequest = errors.New("no handler for request method")

// JSONPInterceptor hands JSONP requests to the bridge and passes every other
// request on unchanged
type JSONPInterceptor struct {
	bridge *bridge.Bridge
}

// NewJSONPInterceptor creates a new JSONP interceptor
func NewJSONPInterceptor(b *bridge.Bridge) *JSONPInterceptor {
	return &JSONPInterceptor{bridge: b}
}

// Intercept implements Interceptor
func (i *JSONPInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	if req.Method != contracts.MethodJSONP {
		return next.Handle(ctx, req)
	}
	return i.bridge.Do(ctx, req)
}

// Name implements Interceptor
func (i *JSONPInterceptor) Name() string {
	return "JSONPInterceptor"
}

// UnsupportedHandler terminates a chain that has no backend for plain HTTP
// methods
var UnsupportedHandler Handler = HandlerFunc(func(ctx context.Context, req contracts.Request) (*contracts.Response, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedRequest, req.Method)
})

// ErrorClass maps a request error onto a short label for metrics
func ErrorClass(err error) string {
	var cbErr *reliability.CircuitBreakerError
	switch {
	case err == nil:
		return ""
	case contracts.IsCallerError(err), errors.Is(err, bridge.ErrMissingPlaceholder), errors.Is(err, ErrUnsupportedRequest):
		return "invalid_request"
	case errors.Is(err, ErrRequestFiltered):
		return "filtered"
	case errors.As(err, &cbErr):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, contracts.ErrNoCallbackInvoked):
		return "no_callback"
	case errors.Is(err, contracts.ErrLoadError):
		return "load_error"
	case errors.Is(err, bridge.ErrBridgeClosed):
		return "closed"
	default:
		return "other"
	}
}
