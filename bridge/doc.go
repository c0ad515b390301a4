// Package bridge adapts the JSONP script-loading transport to a uniform
// request/response abstraction.
//
// A JSONP exchange works by loading an executable script whose evaluation
// calls a caller-chosen global function with the payload. The bridge owns the
// lifecycle of that exchange:
//   - Validates the request synchronously (method, response type, headers)
//   - Allocates a unique callback name and rewrites the URL to carry it
//   - Registers the callback, asks the ScriptLoader to load the URL
//   - Emits Sent, then exactly one terminal event (Success or Error)
//   - Cleans up the registry entry and the script handle on every exit path
//
// Basic usage:
//
//	allocator := bridge.NewExchangeAllocator()
//	b, err := bridge.NewBridge(allocator, loader)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := b.Do(ctx, contracts.NewJSONPRequest(
//	    "https://api.example/search?q=cats&cb=JSONP_CALLBACK"))
//
// Exchanges are cold: Submit only validates, and every Subscribe runs the
// whole exchange again with a fresh callback name. Cancelling the context
// passed to Subscribe before the terminal event neutralizes the script and
// suppresses any further events.
package bridge
