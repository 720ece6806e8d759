package executor

import (
	"context"

	"github.com/geoffsee/polyfaas/hostfunc"
)

// Language adapts one guest evaluator. Implementations construct fresh,
// single-use sandboxes; the engine never shares a sandbox between calls.
type Language interface {
	// ID returns the language tag used in assets and requests ("js",
	// "python", "ruby").
	ID() string

	// NewSandbox builds a fresh guest context for one invocation.
	NewSandbox(cfg SandboxConfig) (Sandbox, error)
}

// SandboxConfig carries the per-invocation capabilities of a sandbox.
type SandboxConfig struct {
	// EvalAsModule makes a JS sandbox evaluate source as a module and
	// resolve the entry from the module namespace.
	EvalAsModule bool

	// Dependencies maps module names to source text. JS resolves them
	// through require; Python installs them as importable modules.
	Dependencies map[string]string

	// Bindings holds the host functions guest shims may call. A sandbox
	// installs its language's shims only for the bindings present here.
	Bindings *hostfunc.Registry

	// Platform, when set, is exposed to JavaScript guests as event.platform.
	// The Python and Ruby adapters do not expose it.
	Platform *hostfunc.Platform
}

// Sandbox is a guest execution context used for exactly one invocation.
//
// Call resolves the named entry, invokes it with the event, settles any
// asynchronous result, and returns an eagerly marshalled host value so the
// result outlives Close. A missing or non-callable entry yields a
// *FunctionNotFoundError.
type Sandbox interface {
	Eval(source string) error
	Call(ctx context.Context, functionName string, event map[string]any) (any, error)

	// Interrupt asks the guest to abandon execution. Best effort: an
	// engine that cannot preempt simply runs to completion, and the
	// sandbox is discarded either way.
	Interrupt(err error)

	Close() error
}
