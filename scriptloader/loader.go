package scriptloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/glimte/jsonp-bridge/bridge"
)

var (
	// ErrDetached is the load error of a script detached before it finished
	ErrDetached = errors.New("scriptloader: script detached")
	// ErrEvalTimeout is the load error of a script that ran past the eval timeout
	ErrEvalTimeout = errors.New("scriptloader: evaluation timed out")
)

// Loader implements bridge.ScriptLoader on top of goja
type Loader struct {
	namespace   bridge.Namespace
	fetcher     Fetcher
	logger      *slog.Logger
	evalTimeout time.Duration
}

// Option configures the loader
type Option func(*Loader)

// WithFetcher sets the script source. Defaults to an HTTPFetcher.
func WithFetcher(fetcher Fetcher) Option {
	return func(l *Loader) {
		l.fetcher = fetcher
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithEvalTimeout interrupts scripts that evaluate for longer than d
func WithEvalTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.evalTimeout = d
	}
}

// NewLoader creates a loader resolving callbacks through namespace
func NewLoader(namespace bridge.Namespace, opts ...Option) *Loader {
	l := &Loader{
		namespace:   namespace,
		logger:      slog.Default(),
		evalTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fetcher == nil {
		l.fetcher = NewHTTPFetcher()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

var _ bridge.ScriptLoader = (*Loader)(nil)

// Load implements bridge.ScriptLoader
func (l *Loader) Load(ctx context.Context, url string) bridge.Script {
	ctx, cancel := context.WithCancel(ctx)
	s := &script{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, l, url)
	return s
}

// script is one load; it owns its runtime
type script struct {
	done     chan struct{}
	err      error
	cancel   context.CancelFunc
	detached atomic.Bool

	mu sync.Mutex
	vm *goja.Runtime
}

// Done implements bridge.Script
func (s *script) Done() <-chan struct{} {
	return s.done
}

// Err implements bridge.Script
func (s *script) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Detach implements bridge.Script
func (s *script) Detach() {
	if s.detached.Swap(true) {
		return
	}
	s.cancel()

	s.mu.Lock()
	vm := s.vm
	s.mu.Unlock()
	if vm != nil {
		vm.Interrupt(ErrDetached)
	}
}

func (s *script) run(ctx context.Context, l *Loader, url string) {
	defer close(s.done)
	defer s.cancel()

	start := time.Now()
	s.err = s.evaluate(ctx, l, url)
	if s.err != nil {
		l.logger.Debug("jsonp script load failed", "url", url, "duration", time.Since(start), "error", s.err)
		return
	}
	l.logger.Debug("jsonp script loaded", "url", url, "duration", time.Since(start))
}

func (s *script) evaluate(ctx context.Context, l *Loader, url string) error {
	src, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		if s.detached.Load() {
			return ErrDetached
		}
		return err
	}

	program, err := goja.Compile(url, string(src), false)
	if err != nil {
		return fmt.Errorf("compile script: %w", err)
	}

	vm := goja.New()
	s.mu.Lock()
	s.vm = vm
	s.mu.Unlock()
	// Detach may have run before vm was published
	if s.detached.Load() {
		return ErrDetached
	}

	if err := s.bind(vm, l.namespace, url); err != nil {
		return fmt.Errorf("bind callbacks: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	if l.evalTimeout > 0 {
		timer := time.AfterFunc(l.evalTimeout, func() {
			vm.Interrupt(ErrEvalTimeout)
		})
		defer timer.Stop()
	}

	if _, err := vm.RunProgram(program); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return cause
			}
		}
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// bind exposes the registered callbacks that url passes as a query value.
// The registry entry is resolved at call time, so a callback that already
// fired or was cleaned up turns into a no-op.
func (s *script) bind(vm *goja.Runtime, ns bridge.Namespace, url string) error {
	if err := vm.Set("window", vm.GlobalObject()); err != nil {
		return err
	}
	for _, name := range ns.Names() {
		if !bridge.CarriesCallback(url, name) {
			continue
		}
		err := vm.Set(name, func(call goja.FunctionCall) goja.Value {
			if s.detached.Load() {
				return goja.Undefined()
			}
			cb, ok := ns.Lookup(name)
			if !ok {
				return goja.Undefined()
			}
			arg := call.Argument(0)
			if len(call.Arguments) == 0 || goja.IsUndefined(arg) {
				cb(nil, false)
			} else {
				cb(arg.Export(), true)
			}
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}
	return nil
}
