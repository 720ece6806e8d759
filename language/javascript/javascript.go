// Package javascript provides the JavaScript language adapter, backed by the
// goja engine.
package javascript

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/geoffsee/polyfaas/executor"
)

//go:embed bridge.js
var bridge string

// JavaScript implements the executor.Language interface.
type JavaScript struct{}

// New returns a JavaScript language adapter.
func New() *JavaScript {
	return &JavaScript{}
}

// ID returns "js".
func (j *JavaScript) ID() string {
	return "js"
}

func (j *JavaScript) NewSandbox(cfg executor.SandboxConfig) (executor.Sandbox, error) {
	vm := goja.New()
	sb := &sandbox{vm: vm, cfg: cfg}

	if len(cfg.Dependencies) > 0 {
		sb.installRequire()
	}
	if cfg.Bindings != nil {
		if fn, ok := cfg.Bindings.Get("net_http"); ok {
			if err := sb.installNet(fn); err != nil {
				return nil, err
			}
		}
	}
	return sb, nil
}

type sandbox struct {
	vm      *goja.Runtime
	cfg     executor.SandboxConfig
	ctx     context.Context
	exports map[string]string // exported name -> local binding, module mode only
}

func (s *sandbox) installRequire() {
	cache := make(map[string]goja.Value)
	s.vm.Set("require", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if v, ok := cache[name]; ok {
			return v
		}
		src, ok := s.cfg.Dependencies[name]
		if !ok {
			panic(s.vm.NewGoError(&executor.ModuleNotFoundError{Name: name}))
		}

		wrapper := "(function(exports, module, require){\n" + src + "\n})"
		fnVal, err := s.vm.RunScript(name+".js", wrapper)
		if err != nil {
			panic(s.vm.NewGoError(fmt.Errorf("load module %q: %w", name, err)))
		}
		fn, _ := goja.AssertFunction(fnVal)

		module := s.vm.NewObject()
		exports := s.vm.NewObject()
		module.Set("exports", exports)
		cache[name] = exports // visible to cyclic requires

		if _, err := fn(goja.Undefined(), exports, module, s.vm.Get("require")); err != nil {
			delete(cache, name)
			panic(s.vm.NewGoError(fmt.Errorf("evaluate module %q: %w", name, err)))
		}
		result := module.Get("exports")
		cache[name] = result
		return result
	})
}

func (s *sandbox) installNet(fn func(ctx context.Context, args map[string]any) (any, error)) error {
	s.vm.Set("__host_net_http", func(call goja.FunctionCall) goja.Value {
		args := map[string]any{
			"method":  call.Argument(0).String(),
			"url":     call.Argument(1).String(),
			"body":    call.Argument(2).String(),
			"headers": call.Argument(3).Export(),
		}
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		resp, err := fn(ctx, args)
		if err != nil {
			panic(s.vm.NewGoError(err))
		}
		return s.vm.ToValue(resp)
	})
	if _, err := s.vm.RunScript("bridge.js", bridge); err != nil {
		return fmt.Errorf("install net bridge: %w", err)
	}
	return nil
}

func (s *sandbox) Eval(source string) error {
	if s.cfg.EvalAsModule {
		transformed, exports, err := transformModule(source)
		if err != nil {
			return err
		}
		if _, err := s.vm.RunScript("function.mjs", transformed); err != nil {
			return unwrapException(err)
		}
		s.exports = exports
		return nil
	}
	if _, err := s.vm.RunScript("function.js", source); err != nil {
		return unwrapException(err)
	}
	return nil
}

func (s *sandbox) Call(ctx context.Context, functionName string, event map[string]any) (any, error) {
	s.ctx = ctx

	var entryVal goja.Value
	if s.exports != nil {
		local, ok := s.exports[functionName]
		if !ok {
			return nil, &executor.FunctionNotFoundError{LanguageID: "js", FunctionName: functionName}
		}
		entryVal = s.vm.GlobalObject().Get(local)
	} else {
		entryVal = s.vm.GlobalObject().Get(functionName)
	}

	entry, ok := goja.AssertFunction(entryVal)
	if !ok {
		return nil, &executor.FunctionNotFoundError{LanguageID: "js", FunctionName: functionName}
	}

	eventObj := s.vm.NewObject()
	for k, v := range event {
		eventObj.Set(k, v)
	}
	if s.cfg.Platform != nil {
		eventObj.Set("platform", s.platformObject())
	}

	result, err := entry(goja.Undefined(), eventObj)
	if err != nil {
		return nil, unwrapException(err)
	}

	settled, err := s.await(ctx, result)
	if err != nil {
		return nil, err
	}
	return marshal(settled), nil
}

// await settles a thenable by attaching callbacks and pumping the engine's
// job queue with a no-op eval between 1 ms polls, so reactions queued by
// resolve run even though there is no global event loop.
func (s *sandbox) await(ctx context.Context, v goja.Value) (goja.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return v, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return v, nil
	}

	var (
		done     bool
		resolved goja.Value
		rejected goja.Value
	)
	onFulfilled := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		resolved = call.Argument(0)
		done = true
		return goja.Undefined()
	})
	onRejected := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		rejected = call.Argument(0)
		done = true
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		return nil, unwrapException(err)
	}

	for !done {
		if _, err := s.vm.RunString("void 0"); err != nil {
			return nil, unwrapException(err)
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	if rejected != nil {
		if exported, ok := rejected.Export().(error); ok {
			return nil, exported
		}
		return nil, fmt.Errorf("promise rejected: %s", rejected.String())
	}
	return resolved, nil
}

func (s *sandbox) platformObject() *goja.Object {
	platform := s.vm.NewObject()
	if kv := s.cfg.Platform.KV; kv != nil {
		kvObj := s.vm.NewObject()
		kvObj.Set("put", func(key, value string) { kv.Put(key, value) })
		kvObj.Set("get", func(key string) any { return kv.Get(key) })
		kvObj.Set("delete", func(key string) { kv.Delete(key) })
		kvObj.Set("keys", func() []string { return kv.Keys() })
		platform.Set("kv", kvObj)
	}
	if sql := s.cfg.Platform.SQL; sql != nil {
		sqlObj := s.vm.NewObject()
		sqlObj.Set("query", func(q string) any {
			_, err := sql.Query(q)
			panic(s.vm.NewGoError(err))
		})
		platform.Set("sql", sqlObj)
	}
	return platform
}

func (s *sandbox) Interrupt(err error) {
	s.vm.Interrupt(err)
}

func (s *sandbox) Close() error {
	s.vm.ClearInterrupt()
	return nil
}

// unwrapException surfaces the Go error carried by a guest exception, so
// errors like ModuleNotFoundError keep their type across the boundary.
func unwrapException(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			if underlying, ok := v.Export().(error); ok {
				return underlying
			}
		}
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if underlying, ok := ie.Value().(error); ok {
			return underlying
		}
	}
	return err
}

// marshal copies a guest value into host-native data eagerly so the result
// outlives the sandbox: null and undefined become nil, primitives map
// directly, arrays become []any, objects become map[string]any, and anything
// else degrades to its string form.
func marshal(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return normalize(v.Export())
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}
