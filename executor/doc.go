// Package executor provides the invocation engine that runs uploaded
// functions in per-call guest sandboxes.
//
// # Overview
//
// The engine owns a bounded worker pool. Each invocation acquires a slot,
// constructs a fresh language sandbox, stages uploaded files, installs host
// bindings (the virtual network proxy, the platform handle), evaluates the
// function source, calls the named entry with the event, marshals the result
// back into host values, and tears the sandbox down. Sandboxes are never
// reused; workers are.
//
// # Basic Usage
//
//	engine := executor.NewEngine(proxy, logger, javascript.New(), python.New())
//	result, err := engine.Invoke(ctx, &executor.Request{
//	    LanguageID:   "js",
//	    SourceCode:   `function handler(event){return {ok: true};}`,
//	    FunctionName: "handler",
//	    Event:        map[string]any{"name": "World"},
//	})
//
// # Timeouts
//
// A positive TimeoutMillis bounds the whole invocation including the wait
// for a pool slot. On expiry the sandbox is interrupted and Invoke returns a
// *TimeoutError. A zero or negative value waits indefinitely.
//
// # Language Interface
//
// To add a guest language, implement the [Language] interface. See
// [github.com/geoffsee/polyfaas/language/javascript] for an example.
package executor
