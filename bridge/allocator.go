package bridge

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultCallbackPrefix is prepended to the counter value to form callback names
const DefaultCallbackPrefix = "ng_jsonp_callback_"

// Callback receives the payload a loaded script passed to its callback.
// ok is false when the script invoked the callback without an argument.
type Callback func(payload any, ok bool)

// Namespace is the read side of the callback registry, as seen by a script
// executor that needs to resolve global function names.
type Namespace interface {
	Lookup(name string) (Callback, bool)
	Names() []string
}

// ExchangeAllocator owns the callback counter and the callback registry.
// Create one per application and share it between bridges and loaders.
type ExchangeAllocator struct {
	prefix  string
	counter atomic.Uint64

	mu       sync.RWMutex
	registry map[string]Callback
}

// AllocatorOption configures the allocator
type AllocatorOption func(*ExchangeAllocator)

// WithCallbackPrefix overrides DefaultCallbackPrefix
func WithCallbackPrefix(prefix string) AllocatorOption {
	return func(a *ExchangeAllocator) {
		a.prefix = prefix
	}
}

// NewExchangeAllocator creates an allocator whose first id ends in 0
func NewExchangeAllocator(opts ...AllocatorOption) *ExchangeAllocator {
	a := &ExchangeAllocator{
		prefix:   DefaultCallbackPrefix,
		registry: make(map[string]Callback),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate reserves the next callback name
func (a *ExchangeAllocator) Allocate() *Allocation {
	n := a.counter.Add(1) - 1
	return &Allocation{
		ID:        a.prefix + strconv.FormatUint(n, 10),
		allocator: a,
	}
}

// Lookup implements Namespace
func (a *ExchangeAllocator) Lookup(name string) (Callback, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cb, ok := a.registry[name]
	return cb, ok
}

// Names implements Namespace. The result is sorted.
func (a *ExchangeAllocator) Names() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.registry))
	for name := range a.registry {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of live registry entries
func (a *ExchangeAllocator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.registry)
}

func (a *ExchangeAllocator) register(id string, cb Callback) {
	a.mu.Lock()
	a.registry[id] = cb
	a.mu.Unlock()
}

func (a *ExchangeAllocator) unregister(id string) {
	a.mu.Lock()
	delete(a.registry, id)
	a.mu.Unlock()
}

// Allocation is one reserved callback name. It only ever touches the
// registry entry keyed by its own ID.
type Allocation struct {
	ID        string
	allocator *ExchangeAllocator
}

// Register installs cb under the allocation's ID
func (a *Allocation) Register(cb Callback) {
	a.allocator.register(a.ID, cb)
}

// Unregister removes the allocation's entry if present
func (a *Allocation) Unregister() {
	a.allocator.unregister(a.ID)
}
