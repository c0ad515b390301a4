// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonp is the entry point of jsonp-bridge. A Client wires the
// callback allocator, the goja script loader, the bridge and the interceptor
// pipeline together.
package jsonp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/jsonp-bridge/bridge"
	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/interceptors"
	"github.com/glimte/jsonp-bridge/internal/reliability"
	"github.com/glimte/jsonp-bridge/scriptloader"
)

// Client performs JSONP requests
type Client struct {
	bridge  *bridge.Bridge
	chain   *interceptors.Chain
	handler interceptors.Handler
	logger  *slog.Logger
}

// NewClient creates a client. Without options it loads scripts over HTTP,
// retries nothing and applies a 30 second timeout.
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:      slog.Default(),
		timeout:     30 * time.Second,
		evalTimeout: 5 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	var allocatorOpts []bridge.AllocatorOption
	if cfg.callbackPrefix != "" {
		allocatorOpts = append(allocatorOpts, bridge.WithCallbackPrefix(cfg.callbackPrefix))
	}
	allocator := bridge.NewExchangeAllocator(allocatorOpts...)

	loaderOpts := []scriptloader.Option{
		scriptloader.WithLogger(cfg.logger),
		scriptloader.WithEvalTimeout(cfg.evalTimeout),
	}
	if cfg.fetcher != nil {
		loaderOpts = append(loaderOpts, scriptloader.WithFetcher(cfg.fetcher))
	}
	loader := scriptloader.NewLoader(allocator, loaderOpts...)

	bridgeOpts := append([]bridge.BridgeOption{bridge.WithLogger(cfg.logger)}, cfg.bridgeOptions...)
	b, err := bridge.NewBridge(allocator, loader, bridgeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	builder := interceptors.NewChainBuilder(cfg.logger).WithLogging()
	if cfg.metrics != nil {
		builder.WithMetrics(cfg.metrics)
	}
	if len(cfg.allowedHosts) > 0 {
		builder.WithFilter(interceptors.NewHostFilter(cfg.allowedHosts...))
	}
	if cfg.timeout > 0 {
		builder.WithTimeout(cfg.timeout)
	}
	if cfg.circuitBreaker != nil {
		builder.WithCircuitBreaker(cfg.circuitBreaker)
	}
	if cfg.retryPolicy != nil {
		builder.WithRetry(interceptors.NewRetryInterceptor(cfg.retryPolicy))
	}
	chain := builder.WithCustom(interceptors.NewJSONPInterceptor(b)).Build()

	cfg.logger.Debug("jsonp client created", "interceptors", chain.Names())

	return &Client{
		bridge:  b,
		chain:   chain,
		handler: chain.Then(interceptors.UnsupportedHandler),
		logger:  cfg.logger,
	}, nil
}

// Do runs req through the interceptor pipeline
func (c *Client) Do(ctx context.Context, req contracts.Request) (*contracts.Response, error) {
	return c.handler.Handle(ctx, req)
}

// Get performs a JSONP request for url and decodes the payload into v.
// v may be nil when only success matters.
func (c *Client) Get(ctx context.Context, url string, v any) (*contracts.Response, error) {
	resp, err := c.Do(ctx, contracts.NewJSONPRequest(url))
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := resp.Decode(v); err != nil {
			return resp, fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return resp, nil
}

// Handler returns the request pipeline, e.g. for a relay.Relay
func (c *Client) Handler() interceptors.Handler {
	return c.handler
}

// Interceptors returns the names of the configured interceptors in order
func (c *Client) Interceptors() []string {
	return c.chain.Names()
}

// Bridge returns the underlying JSONP bridge
func (c *Client) Bridge() *bridge.Bridge {
	return c.bridge
}

// Close cancels pending exchanges
func (c *Client) Close() error {
	return c.bridge.Close()
}

// clientConfig holds client configuration
type clientConfig struct {
	logger         *slog.Logger
	fetcher        scriptloader.Fetcher
	callbackPrefix string
	evalTimeout    time.Duration
	timeout        time.Duration
	retryPolicy    reliability.RetryPolicy
	circuitBreaker interceptors.CircuitBreaker
	metrics        interceptors.MetricsCollector
	allowedHosts   []string
	bridgeOptions  []bridge.BridgeOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithFetcher sets where scripts are loaded from
func WithFetcher(fetcher scriptloader.Fetcher) ClientOption {
	return func(cfg *clientConfig) {
		cfg.fetcher = fetcher
	}
}

// WithCallbackPrefix overrides the callback name prefix
func WithCallbackPrefix(prefix string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.callbackPrefix = prefix
	}
}

// WithEvalTimeout bounds how long a loaded script may run
func WithEvalTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.evalTimeout = d
	}
}

// WithTimeout bounds each request, retries included. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithRetryPolicy retries failed script loads
func WithRetryPolicy(policy reliability.RetryPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retryPolicy = policy
	}
}

// WithCircuitBreaker fails fast while cb is open
func WithCircuitBreaker(cb interceptors.CircuitBreaker) ClientOption {
	return func(cfg *clientConfig) {
		cfg.circuitBreaker = cb
	}
}

// WithMetrics reports every request to collector
func WithMetrics(collector interceptors.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = collector
	}
}

// WithAllowedHosts restricts requests to the given hosts and their subdomains
func WithAllowedHosts(hosts ...string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.allowedHosts = hosts
	}
}

// WithBridgeOptions passes options to the bridge
func WithBridgeOptions(opts ...bridge.BridgeOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.bridgeOptions = append(cfg.bridgeOptions, opts...)
	}
}
