package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/jsonp-bridge/internal/reliability"
)

// ConnectionState is implemented by rabbitmq.ConnectionManager
type ConnectionState interface {
	IsConnected() bool
}

// BrokerChecker reports whether the relay is connected to RabbitMQ
type BrokerChecker struct {
	conn ConnectionState
}

// NewBrokerChecker creates a new broker checker
func NewBrokerChecker(conn ConnectionState) *BrokerChecker {
	return &BrokerChecker{conn: conn}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	if c.conn.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "connected"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "not connected"
	}
	result.Details["connected"] = c.conn.IsConnected()
	return result.finish()
}

// PendingCounter is implemented by *bridge.Bridge
type PendingCounter interface {
	PendingCount() int
}

// BridgeChecker reports degraded while too many exchanges are in flight
type BridgeChecker struct {
	bridge     PendingCounter
	maxPending int
}

// NewBridgeChecker creates a checker that degrades above maxPending exchanges
func NewBridgeChecker(b PendingCounter, maxPending int) *BridgeChecker {
	return &BridgeChecker{bridge: b, maxPending: maxPending}
}

func (c *BridgeChecker) Name() string {
	return "bridge"
}

func (c *BridgeChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	pending := c.bridge.PendingCount()
	result.Details["pending"] = pending
	result.Details["max_pending"] = c.maxPending

	if c.maxPending > 0 && pending > c.maxPending {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d exchanges pending", pending)
	} else {
		result.Status = StatusHealthy
	}
	return result.finish()
}

// BreakerState is implemented by reliability.CircuitBreaker
type BreakerState interface {
	State() reliability.State
}

// CircuitBreakerChecker reports the state of a circuit breaker
type CircuitBreakerChecker struct {
	name    string
	breaker BreakerState
}

// NewCircuitBreakerChecker creates a new circuit breaker checker
func NewCircuitBreakerChecker(name string, breaker BreakerState) *CircuitBreakerChecker {
	return &CircuitBreakerChecker{name: name, breaker: breaker}
}

func (c *CircuitBreakerChecker) Name() string {
	return "circuit_" + c.name
}

func (c *CircuitBreakerChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	state := c.breaker.State()
	result.Details["state"] = state.String()

	switch state {
	case reliability.StateOpen:
		result.Status = StatusUnhealthy
		result.Message = "circuit open"
	case reliability.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = "circuit probing"
	default:
		result.Status = StatusHealthy
	}
	return result.finish()
}

// FuncChecker adapts a function to Checker
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) (Status, string, error)
}

// NewFuncChecker creates a checker for custom components
func NewFuncChecker(name string, fn func(ctx context.Context) (Status, string, error)) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.name)
	status, message, err := c.fn(ctx)
	result.Status = status
	result.Message = message
	if err != nil {
		result.Error = err.Error()
	}
	return result.finish()
}

type pendingResult struct {
	CheckResult
	start time.Time
}

func newResult(name string) *pendingResult {
	now := time.Now()
	return &pendingResult{
		CheckResult: CheckResult{Name: name, Timestamp: now, Details: make(map[string]any)},
		start:       now,
	}
}

func (r *pendingResult) finish() CheckResult {
	r.Duration = time.Since(r.start)
	return r.CheckResult
}
