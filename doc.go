// Package polyfaas is a polyglot function host: it stores user-supplied
// JavaScript, Python, and Ruby functions and executes them over HTTP with
// per-invocation isolation.
//
// # Overview
//
// Each invocation runs in a fresh guest sandbox on a bounded worker pool.
// Guests have no direct system access; the only network surface is a
// host-mediated HTTP client gated by an IP egress blocklist, and per-function
// resource bindings (an in-memory key-value store) arrive through an injected
// platform handle.
//
// # Basic Usage
//
//	engine := executor.NewEngine(proxy, logger, javascript.New(), python.New(), ruby.New())
//	result, err := engine.Invoke(ctx, &executor.Request{
//	    LanguageID:   "js",
//	    SourceCode:   `function handler(event){return {message: "Hello, " + event.name + "!"};}`,
//	    FunctionName: "handler",
//	    Event:        map[string]any{"name": "World"},
//	})
//
// # Egress Enforcement
//
// The netguard package compiles IP/CIDR lists into a compact binary format
// (sorted ranges or a compressed prefix trie), memory-maps it, hot-reloads on
// change, and fails closed when the file is missing or malformed. The filter
// is wired into both the guest-facing virtual network proxy and the process
// default transport.
//
// See the [executor], [hostfunc], [netguard], [store], and [httpapi] packages
// for detailed API documentation.
package polyfaas
