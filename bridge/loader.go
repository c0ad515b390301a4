package bridge

import "context"

// ScriptLoader loads and executes a script resource.
//
// Implementations must invoke any callbacks triggered by the script's own
// evaluation before closing Done.
type ScriptLoader interface {
	Load(ctx context.Context, url string) Script
}

// Script is the handle of one in-flight load
type Script interface {
	// Done is closed exactly once, when the load has finished
	Done() <-chan struct{}
	// Err is nil after a completed load and holds the cause after a failed one.
	// It is only meaningful once Done is closed.
	Err() error
	// Detach neutralizes the script so that a late evaluation cannot reach
	// any callback. It is safe to call more than once.
	Detach()
}

// ScriptLoaderFunc adapts a function to ScriptLoader
type ScriptLoaderFunc func(ctx context.Context, url string) Script

// Load implements ScriptLoader
func (f ScriptLoaderFunc) Load(ctx context.Context, url string) Script {
	return f(ctx, url)
}
