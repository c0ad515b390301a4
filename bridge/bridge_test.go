package bridge

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://api.example/search?q=cats&cb=JSONP_CALLBACK&fmt=json"

// fakeScript is a Script finished by the test
type fakeScript struct {
	done     chan struct{}
	err      error
	once     sync.Once
	detached atomic.Bool
}

func newFakeScript() *fakeScript {
	return &fakeScript{done: make(chan struct{})}
}

func (s *fakeScript) Done() <-chan struct{} { return s.done }
func (s *fakeScript) Err() error            { return s.err }
func (s *fakeScript) Detach()               { s.detached.Store(true) }

func (s *fakeScript) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// fakeLoader records every load and runs behave in its own goroutine
type fakeLoader struct {
	mu      sync.Mutex
	urls    []string
	scripts []*fakeScript
	behave  func(url string, s *fakeScript)
	wg      sync.WaitGroup
}

func (l *fakeLoader) Load(ctx context.Context, u string) Script {
	s := newFakeScript()
	l.mu.Lock()
	l.urls = append(l.urls, u)
	l.scripts = append(l.scripts, s)
	l.mu.Unlock()

	if l.behave != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.behave(u, s)
		}()
	}
	return s
}

func (l *fakeLoader) loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.urls)
}

func callbackName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("cb")
}

// invoke calls the registered callback the way a loaded script would
func invoke(ns Namespace, name string, payload any, ok bool) {
	if cb, found := ns.Lookup(name); found {
		cb(payload, ok)
	}
}

func collect(t *testing.T, events <-chan contracts.Event) []contracts.Event {
	t.Helper()
	var out []contracts.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for exchange events")
			return out
		}
	}
}

func newTestBridge(t *testing.T, loader ScriptLoader, opts ...BridgeOption) (*Bridge, *ExchangeAllocator) {
	t.Helper()
	allocator := NewExchangeAllocator()
	b, err := NewBridge(allocator, loader, opts...)
	require.NoError(t, err)
	return b, allocator
}

func TestNewBridge(t *testing.T) {
	t.Run("rejects nil collaborators", func(t *testing.T) {
		_, err := NewBridge(nil, &fakeLoader{})
		assert.Error(t, err)

		_, err = NewBridge(NewExchangeAllocator(), nil)
		assert.Error(t, err)
	})

	t.Run("nil logger falls back to default", func(t *testing.T) {
		b, err := NewBridge(NewExchangeAllocator(), &fakeLoader{}, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, b.logger)
	})
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		req  contracts.Request
		want error
	}{
		{
			name: "wrong method",
			req:  contracts.NewRequest(contracts.MethodGet, testURL),
			want: contracts.ErrInvalidMethod,
		},
		{
			name: "wrong response type",
			req:  contracts.NewJSONPRequest(testURL).WithResponseType(contracts.ResponseTypeText),
			want: contracts.ErrInvalidResponseType,
		},
		{
			name: "headers present",
			req:  contracts.NewJSONPRequest(testURL).WithHeader("X-Token", "secret"),
			want: contracts.ErrHeadersNotSupported,
		},
		{
			name: "method is checked before headers",
			req:  contracts.NewRequest(contracts.MethodPost, testURL).WithHeader("X-Token", "secret"),
			want: contracts.ErrInvalidMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &fakeLoader{}
			b, allocator := newTestBridge(t, loader)

			exchange, err := b.Submit(tt.req)

			assert.Nil(t, exchange)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want.Error(), err.Error())
			assert.Equal(t, 0, loader.loads())
			assert.Equal(t, 0, allocator.Len())
			// No id was consumed
			assert.Equal(t, "ng_jsonp_callback_0", allocator.Allocate().ID)
		})
	}

	t.Run("Do surfaces caller errors synchronously", func(t *testing.T) {
		loader := &fakeLoader{}
		b, _ := newTestBridge(t, loader)

		resp, err := b.Do(context.Background(), contracts.NewRequest(contracts.MethodGet, testURL))
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, contracts.ErrInvalidMethod)
		assert.Equal(t, 0, loader.loads())
	})
}

func TestSubmitIsCold(t *testing.T) {
	loader := &fakeLoader{}
	b, allocator := newTestBridge(t, loader)

	_, err := b.Submit(contracts.NewJSONPRequest(testURL))
	require.NoError(t, err)

	assert.Equal(t, 0, loader.loads())
	assert.Equal(t, 0, allocator.Len())
	assert.Equal(t, 0, b.PendingCount())
}

func TestStrictPlaceholder(t *testing.T) {
	loader := &fakeLoader{}
	b, _ := newTestBridge(t, loader, WithStrictPlaceholder(true))

	_, err := b.Submit(contracts.NewJSONPRequest("https://api.example/search?q=cats"))
	assert.ErrorIs(t, err, ErrMissingPlaceholder)

	_, err = b.Submit(contracts.NewJSONPRequest(testURL))
	assert.NoError(t, err)
}

func TestExchangeSuccess(t *testing.T) {
	t.Run("callback with payload yields success", func(t *testing.T) {
		var allocator *ExchangeAllocator
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			invoke(allocator, callbackName(u), map[string]any{"hits": int64(3)}, true)
			s.finish(nil)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		exchange, err := b.Submit(contracts.NewJSONPRequest(testURL))
		require.NoError(t, err)

		events := collect(t, exchange.Subscribe(context.Background()))
		loader.wg.Wait()

		require.Len(t, events, 2)
		assert.Equal(t, contracts.EventSent, events[0].Type)
		require.Equal(t, contracts.EventSuccess, events[1].Type)

		resp := events[1].Response
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, "OK", resp.StatusText)
		assert.Equal(t, "https://api.example/search?q=cats&cb=ng_jsonp_callback_0&fmt=json", resp.URL)
		assert.Equal(t, map[string]any{"hits": int64(3)}, resp.Body)

		assert.Equal(t, 0, allocator.Len())
		assert.Equal(t, 0, b.PendingCount())
	})

	t.Run("callback without argument yields no content", func(t *testing.T) {
		var allocator *ExchangeAllocator
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			invoke(allocator, callbackName(u), nil, false)
			s.finish(nil)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		resp, err := b.Do(context.Background(), contracts.NewJSONPRequest(testURL))
		loader.wg.Wait()

		require.NoError(t, err)
		assert.False(t, resp.HasBody())
		assert.Nil(t, resp.Body)
		assert.Equal(t, 200, resp.Status)
	})

	t.Run("second callback invocation does not change the result", func(t *testing.T) {
		var allocator *ExchangeAllocator
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			name := callbackName(u)
			cb, ok := allocator.Lookup(name)
			if !assert.True(t, ok) {
				s.finish(nil)
				return
			}
			cb("first", true)
			cb("second", true)
			invoke(allocator, name, "third", true)
			s.finish(nil)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		resp, err := b.Do(context.Background(), contracts.NewJSONPRequest(testURL))
		loader.wg.Wait()

		require.NoError(t, err)
		assert.Equal(t, "first", resp.Body)
	})

	t.Run("callback entry is removed as soon as it fires", func(t *testing.T) {
		var allocator *ExchangeAllocator
		registeredAfterCall := make(chan bool, 1)
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			name := callbackName(u)
			invoke(allocator, name, "x", true)
			_, still := allocator.Lookup(name)
			registeredAfterCall <- still
			s.finish(nil)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		_, err := b.Do(context.Background(), contracts.NewJSONPRequest(testURL))
		loader.wg.Wait()

		require.NoError(t, err)
		assert.False(t, <-registeredAfterCall)
	})
}

func TestExchangeFailures(t *testing.T) {
	t.Run("load complete without callback", func(t *testing.T) {
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			s.finish(nil)
		}
		b, allocator := newTestBridge(t, loader)

		exchange, err := b.Submit(contracts.NewJSONPRequest(testURL))
		require.NoError(t, err)
		events := collect(t, exchange.Subscribe(context.Background()))
		loader.wg.Wait()

		require.Len(t, events, 2)
		assert.Equal(t, contracts.EventSent, events[0].Type)
		require.Equal(t, contracts.EventError, events[1].Type)

		errResp := events[1].Err
		assert.Equal(t, 0, errResp.Status)
		assert.Equal(t, "https://api.example/search?q=cats&cb=ng_jsonp_callback_0&fmt=json", errResp.URL)
		assert.ErrorIs(t, errResp, contracts.ErrNoCallbackInvoked)
		assert.Equal(t, "JSONP injected script did not invoke callback.", errResp.Err.Error())

		_, ok := allocator.Lookup("ng_jsonp_callback_0")
		assert.False(t, ok)
	})

	t.Run("load error carries the cause", func(t *testing.T) {
		cause := errors.New("net::ERR_CONNECTION_REFUSED")
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			s.finish(cause)
		}
		b, allocator := newTestBridge(t, loader)

		resp, err := b.Do(context.Background(), contracts.NewJSONPRequest(testURL))
		loader.wg.Wait()

		assert.Nil(t, resp)
		var errResp *contracts.ErrorResponse
		require.ErrorAs(t, err, &errResp)
		assert.Equal(t, 0, errResp.Status)
		assert.ErrorIs(t, err, contracts.ErrLoadError)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 0, allocator.Len())
	})

	t.Run("load error wins over an earlier callback", func(t *testing.T) {
		var allocator *ExchangeAllocator
		cause := errors.New("script error")
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			invoke(allocator, callbackName(u), "data", true)
			s.finish(cause)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		_, err := b.Do(context.Background(), contracts.NewJSONPRequest(testURL))
		loader.wg.Wait()

		assert.ErrorIs(t, err, contracts.ErrLoadError)
		assert.ErrorIs(t, err, cause)
	})
}

func TestExchangeIsRestartable(t *testing.T) {
	loader := &fakeLoader{}
	loader.behave = func(u string, s *fakeScript) {
		s.finish(nil)
	}
	b, _ := newTestBridge(t, loader)

	exchange, err := b.Submit(contracts.NewJSONPRequest("https://host/x?cb=JSONP_CALLBACK"))
	require.NoError(t, err)

	// Back-to-back, without awaiting completion
	first := exchange.Subscribe(context.Background())
	second := exchange.Subscribe(context.Background())
	collect(t, first)
	collect(t, second)
	loader.wg.Wait()

	loader.mu.Lock()
	defer loader.mu.Unlock()
	assert.ElementsMatch(t, []string{
		"https://host/x?cb=ng_jsonp_callback_0",
		"https://host/x?cb=ng_jsonp_callback_1",
	}, loader.urls)
}

func TestExchangeCancellation(t *testing.T) {
	t.Run("cancel before load completes emits no terminal event", func(t *testing.T) {
		var allocator *ExchangeAllocator
		release := make(chan struct{})
		captured := make(chan Callback, 1)
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			cb, ok := allocator.Lookup(callbackName(u))
			assert.True(t, ok)
			captured <- cb
			<-release
			if cb == nil {
				s.finish(nil)
				return
			}
			// Late callback after cancellation
			cb("late", true)
			s.finish(nil)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		exchange, err := b.Submit(contracts.NewJSONPRequest(testURL))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		events := exchange.Subscribe(ctx)

		first := <-events
		assert.Equal(t, contracts.EventSent, first.Type)
		<-captured

		cancel()
		rest := collect(t, events)
		assert.Empty(t, rest)

		close(release)
		loader.wg.Wait()

		loader.mu.Lock()
		script := loader.scripts[0]
		loader.mu.Unlock()
		assert.True(t, script.detached.Load())
		assert.Equal(t, 0, allocator.Len())
		assert.Equal(t, 0, b.PendingCount())
	})

	t.Run("cancel after callback fired does not detach", func(t *testing.T) {
		var allocator *ExchangeAllocator
		fired := make(chan struct{})
		release := make(chan struct{})
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			invoke(allocator, callbackName(u), "data", true)
			close(fired)
			<-release
			s.finish(nil)
		}
		b, a := newTestBridge(t, loader)
		allocator = a

		exchange, err := b.Submit(contracts.NewJSONPRequest(testURL))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		events := exchange.Subscribe(ctx)
		<-fired
		cancel()

		got := collect(t, events)
		close(release)
		loader.wg.Wait()

		for _, ev := range got {
			assert.False(t, ev.IsTerminal())
		}
		loader.mu.Lock()
		script := loader.scripts[0]
		loader.mu.Unlock()
		assert.False(t, script.detached.Load())
		assert.Equal(t, 0, allocator.Len())
	})

	t.Run("cleanup drops the script handle", func(t *testing.T) {
		b, allocator := newTestBridge(t, &fakeLoader{})
		newRun := func() (*run, *fakeScript) {
			script := newFakeScript()
			ctx, cancel := context.WithCancel(context.Background())
			r := &run{bridge: b, allocation: allocator.Allocate(), ctx: ctx, cancel: cancel, script: script}
			t.Cleanup(cancel)
			return r, script
		}

		live, liveScript := newRun()
		live.abandon()
		assert.True(t, liveScript.detached.Load())
		assert.True(t, live.stopped.Load())

		cleaned, cleanedScript := newRun()
		cleaned.cleanup()
		cleaned.abandon()
		assert.False(t, cleanedScript.detached.Load())
		assert.Nil(t, cleaned.script)
	})

	t.Run("already cancelled context starts nothing", func(t *testing.T) {
		loader := &fakeLoader{}
		b, allocator := newTestBridge(t, loader)

		exchange, err := b.Submit(contracts.NewJSONPRequest(testURL))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Empty(t, collect(t, exchange.Subscribe(ctx)))
		assert.Equal(t, 0, loader.loads())
		assert.Equal(t, 0, allocator.Len())
	})

	t.Run("Await returns the context error", func(t *testing.T) {
		release := make(chan struct{})
		loader := &fakeLoader{}
		loader.behave = func(u string, s *fakeScript) {
			<-release
			s.finish(nil)
		}
		b, _ := newTestBridge(t, loader)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		resp, err := b.Do(ctx, contracts.NewJSONPRequest(testURL))
		close(release)
		loader.wg.Wait()

		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBridgeClose(t *testing.T) {
	release := make(chan struct{})
	loader := &fakeLoader{}
	loader.behave = func(u string, s *fakeScript) {
		<-release
		s.finish(nil)
	}
	b, allocator := newTestBridge(t, loader)

	exchange, err := b.Submit(contracts.NewJSONPRequest(testURL))
	require.NoError(t, err)

	events := exchange.Subscribe(context.Background())
	assert.Equal(t, contracts.EventSent, (<-events).Type)
	assert.Equal(t, 1, b.PendingCount())

	require.NoError(t, b.Close())
	assert.Empty(t, collect(t, events))
	assert.Equal(t, 0, b.PendingCount())
	assert.Equal(t, 0, allocator.Len())

	// Closed bridge refuses new runs
	resp, err := exchange.Await(context.Background())
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrBridgeClosed)

	// Idempotent
	assert.NoError(t, b.Close())

	close(release)
	loader.wg.Wait()
}
