// Package scriptloader executes JSONP scripts for the bridge.
//
// A Loader fetches the script source through a Fetcher and evaluates it in a
// fresh goja runtime. Every callback name registered in the bridge's
// namespace is exposed as a global function (and as a property of the global
// "window" object), so a response such as
//
//	ng_jsonp_callback_3({"results": []});
//
// delivers its payload straight into the waiting exchange.
//
// Fetch failures, non-2xx responses, syntax errors, uncaught exceptions and
// evaluation timeouts are reported as load errors. A script that evaluates
// cleanly is a completed load, whether or not it called back.
package scriptloader
