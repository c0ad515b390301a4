package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/glimte/jsonp-bridge/contracts"
)

// Exchange is a validated JSONP request that has not been started. Each call
// to Subscribe runs an independent exchange.
type Exchange struct {
	bridge  *Bridge
	request contracts.Request
}

// Request returns the validated request
func (e *Exchange) Request() contracts.Request {
	return e.request
}

// Subscribe starts the exchange. The returned channel receives Sent and then
// exactly one terminal event before it is closed. If ctx is cancelled first,
// the channel is closed without a terminal event.
func (e *Exchange) Subscribe(ctx context.Context) <-chan contracts.Event {
	// Sent plus one terminal event always fit, so the run never blocks on a
	// consumer that stopped reading.
	events := make(chan contracts.Event, 2)
	if ctx.Err() != nil {
		close(events)
		return events
	}

	allocation := e.bridge.allocator.Allocate()
	runCtx, cancel := context.WithCancel(ctx)
	if !e.bridge.track(allocation.ID, cancel) {
		cancel()
		events <- contracts.ErrorEvent(contracts.NewErrorResponse(e.request.URL, ErrBridgeClosed))
		close(events)
		return events
	}

	r := &run{
		bridge:     e.bridge,
		allocation: allocation,
		url:        RewriteURL(e.request.URL, allocation.ID),
		ctx:        runCtx,
		cancel:     cancel,
	}
	go r.execute(events)
	return events
}

// Await subscribes and blocks until the terminal event
func (e *Exchange) Await(ctx context.Context) (*contracts.Response, error) {
	for ev := range e.Subscribe(ctx) {
		switch ev.Type {
		case contracts.EventSuccess:
			return ev.Response, nil
		case contracts.EventError:
			return nil, ev.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrBridgeClosed
}

// run is the state of one subscription
type run struct {
	bridge     *Bridge
	allocation *Allocation
	url        string
	ctx        context.Context
	cancel     context.CancelFunc

	// stopped is the cancellation token checked by late callbacks
	stopped atomic.Bool

	mu       sync.Mutex
	received bool
	body     any
	script   Script

	cleanupOnce sync.Once
}

func (r *run) execute(events chan<- contracts.Event) {
	defer close(events)
	defer r.cancel()
	defer r.cleanup()

	logger := r.bridge.logger.With("callbackId", r.allocation.ID, "url", r.url)

	r.allocation.Register(r.onCallback)
	script := r.bridge.loader.Load(r.ctx, r.url)
	r.mu.Lock()
	r.script = script
	r.mu.Unlock()

	events <- contracts.SentEvent()
	logger.Debug("jsonp exchange sent")

	select {
	case <-script.Done():
	case <-r.ctx.Done():
		r.abandon()
		logger.Debug("jsonp exchange cancelled")
		return
	}

	if err := script.Err(); err != nil {
		r.cleanup()
		logger.Debug("jsonp script failed to load", "error", err)
		r.emit(events, contracts.ErrorEvent(
			contracts.NewErrorResponse(r.url, fmt.Errorf("%w: %w", contracts.ErrLoadError, err))))
		return
	}

	// Yield once before reading the flag: the decision must be taken after
	// the script's own evaluation has certainly delivered its callback.
	runtime.Gosched()

	r.mu.Lock()
	received, body := r.received, r.body
	r.mu.Unlock()
	r.cleanup()

	if !received {
		logger.Debug("jsonp script did not invoke callback")
		r.emit(events, contracts.ErrorEvent(
			contracts.NewErrorResponse(r.url, contracts.ErrNoCallbackInvoked)))
		return
	}

	logger.Debug("jsonp exchange succeeded")
	r.emit(events, contracts.SuccessEvent(contracts.NewResponse(r.url, body)))
}

// onCallback is the handler registered under the allocation's ID
func (r *run) onCallback(payload any, ok bool) {
	if r.stopped.Load() {
		return
	}

	r.mu.Lock()
	if !r.received {
		r.received = true
		if ok {
			r.body = payload
		}
	}
	r.mu.Unlock()

	r.allocation.Unregister()
}

// emit sends a terminal event unless the subscription was cancelled
func (r *run) emit(events chan<- contracts.Event, ev contracts.Event) {
	if r.ctx.Err() != nil {
		r.stopped.Store(true)
		return
	}
	events <- ev
}

// abandon neutralizes the script after a cancellation. A script already
// dropped by cleanup is left alone.
func (r *run) abandon() {
	r.stopped.Store(true)

	r.mu.Lock()
	received, script := r.received, r.script
	r.mu.Unlock()

	if !received && script != nil {
		script.Detach()
	}
}

// cleanup drops the script handle and the registry entry. Safe to call from
// every exit path.
func (r *run) cleanup() {
	r.cleanupOnce.Do(func() {
		r.mu.Lock()
		r.script = nil
		r.mu.Unlock()

		r.allocation.Unregister()
		r.bridge.forget(r.allocation.ID)
	})
}
