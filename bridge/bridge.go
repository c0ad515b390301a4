package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/jsonp-bridge/contracts"
)

var (
	// ErrBridgeClosed is reported by exchanges started after Close
	ErrBridgeClosed = errors.New("bridge: closed")
	// ErrMissingPlaceholder is returned by Submit in strict placeholder mode
	ErrMissingPlaceholder = errors.New("JSONP request URL does not contain the " + PlaceholderMarker + " placeholder.")
)

// Bridge turns JSONP requests into exchanges
type Bridge struct {
	allocator         *ExchangeAllocator
	loader            ScriptLoader
	logger            *slog.Logger
	strictPlaceholder bool

	mu      sync.Mutex
	pending map[string]context.CancelFunc
	closed  bool
}

// BridgeOption configures the bridge
type BridgeOption func(*BridgeConfig)

// BridgeConfig holds configuration for the bridge
type BridgeConfig struct {
	Logger            *slog.Logger
	StrictPlaceholder bool
}

// WithLogger sets the logger used for debug tracing of exchanges
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(c *BridgeConfig) {
		c.Logger = logger
	}
}

// WithStrictPlaceholder makes Submit reject URLs without the callback placeholder
func WithStrictPlaceholder(strict bool) BridgeOption {
	return func(c *BridgeConfig) {
		c.StrictPlaceholder = strict
	}
}

// NewBridge creates a new JSONP bridge
func NewBridge(allocator *ExchangeAllocator, loader ScriptLoader, opts ...BridgeOption) (*Bridge, error) {
	if allocator == nil {
		return nil, fmt.Errorf("allocator cannot be nil")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader cannot be nil")
	}

	config := &BridgeConfig{
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Bridge{
		allocator:         allocator,
		loader:            loader,
		logger:            config.Logger,
		strictPlaceholder: config.StrictPlaceholder,
		pending:           make(map[string]context.CancelFunc),
	}, nil
}

// Submit validates req and returns a cold exchange. Validation errors are
// returned before anything is allocated or loaded.
func (b *Bridge) Submit(req contracts.Request) (*Exchange, error) {
	if req.Method != contracts.MethodJSONP {
		return nil, contracts.ErrInvalidMethod
	}
	if req.ResponseType != contracts.ResponseTypeJSON {
		return nil, contracts.ErrInvalidResponseType
	}
	if req.Headers.Len() > 0 {
		return nil, contracts.ErrHeadersNotSupported
	}
	if b.strictPlaceholder && !HasPlaceholder(req.URL) {
		return nil, ErrMissingPlaceholder
	}
	return &Exchange{bridge: b, request: req}, nil
}

// Do submits req, runs one exchange and waits for its terminal event.
// Failures after submission are returned as *contracts.ErrorResponse.
func (b *Bridge) Do(ctx context.Context, req contracts.Request) (*contracts.Response, error) {
	exchange, err := b.Submit(req)
	if err != nil {
		return nil, err
	}
	return exchange.Await(ctx)
}

// PendingCount returns the number of exchanges that have not terminated
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close cancels every pending exchange. Exchanges subscribed afterwards fail
// with ErrBridgeClosed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := make([]context.CancelFunc, 0, len(b.pending))
	for _, cancel := range b.pending {
		cancels = append(cancels, cancel)
	}
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

func (b *Bridge) track(id string, cancel context.CancelFunc) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.pending[id] = cancel
	return true
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
