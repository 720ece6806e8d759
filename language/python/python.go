// Package python provides the Python language adapter, backed by the
// gpython interpreter.
package python

import (
	"context"
	"fmt"

	"github.com/go-python/gpython/py"
	_ "github.com/go-python/gpython/stdlib"

	"github.com/geoffsee/polyfaas/executor"
	"github.com/geoffsee/polyfaas/hostfunc"
)

// Python implements the executor.Language interface.
type Python struct{}

// New returns a Python language adapter.
func New() *Python {
	return &Python{}
}

// ID returns "python".
func (p *Python) ID() string {
	return "python"
}

func (p *Python) NewSandbox(cfg executor.SandboxConfig) (executor.Sandbox, error) {
	pyCtx := py.NewContext(py.DefaultContextOpts())
	sb := &sandbox{pyCtx: pyCtx, cfg: cfg}

	// Dependencies become importable modules before the main source runs,
	// so `import name` resolves exactly like a preinstalled package.
	for name, src := range cfg.Dependencies {
		impl := &py.ModuleImpl{
			Info:    py.ModuleInfo{Name: name},
			CodeSrc: src,
		}
		if _, err := pyCtx.ModuleInit(impl); err != nil {
			return nil, fmt.Errorf("load dependency %q: %w", name, err)
		}
	}

	main, err := pyCtx.ModuleInit(&py.ModuleImpl{Info: py.ModuleInfo{Name: "__main__"}})
	if err != nil {
		return nil, fmt.Errorf("create main module: %w", err)
	}
	sb.main = main

	if cfg.Bindings != nil {
		if fn, ok := cfg.Bindings.Get("net_http"); ok {
			netMod, err := sb.installNet(fn)
			if err != nil {
				return nil, err
			}
			main.Globals["net"] = netMod
		}
	}
	return sb, nil
}

type sandbox struct {
	pyCtx py.Context
	cfg   executor.SandboxConfig
	main  *py.Module
	ctx   context.Context
}

func (s *sandbox) installNet(fn hostfunc.Func) (*py.Module, error) {
	asString := func(o py.Object, what string) (string, error) {
		str, ok := o.(py.String)
		if !ok {
			return "", py.ExceptionNewf(py.TypeError, "net: %s must be a string", what)
		}
		return string(str), nil
	}
	doRequest := func(method, url string, body py.Object, headers py.Object) (py.Object, error) {
		req := map[string]any{"method": method, "url": url}
		if bodyStr, ok := body.(py.String); ok {
			req["body"] = string(bodyStr)
		}
		if headerMap, ok := fromPy(headers).(map[string]any); ok {
			req["headers"] = headerMap
		}

		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, py.ExceptionNewf(py.RuntimeError, "net: %s", err.Error())
		}
		return toPy(resp), nil
	}
	arg := func(args py.Tuple, i int) py.Object {
		if i < len(args) {
			return args[i]
		}
		return py.None
	}

	return s.pyCtx.ModuleInit(&py.ModuleImpl{
		Info: py.ModuleInfo{Name: "net", Doc: "host-mediated HTTP client"},
		Methods: []*py.Method{
			py.MustNewMethod("http", func(self py.Object, args py.Tuple) (py.Object, error) {
				if len(args) < 2 {
					return nil, py.ExceptionNewf(py.TypeError, "net.http: method and url required")
				}
				method, err := asString(args[0], "method")
				if err != nil {
					return nil, err
				}
				url, err := asString(args[1], "url")
				if err != nil {
					return nil, err
				}
				return doRequest(method, url, arg(args, 2), arg(args, 3))
			}, 0, "http(method, url, body=None, headers=None)"),
			py.MustNewMethod("get", func(self py.Object, args py.Tuple) (py.Object, error) {
				if len(args) < 1 {
					return nil, py.ExceptionNewf(py.TypeError, "net.get: url required")
				}
				url, err := asString(args[0], "url")
				if err != nil {
					return nil, err
				}
				return doRequest("GET", url, py.None, arg(args, 1))
			}, 0, "get(url, headers=None)"),
			py.MustNewMethod("post", func(self py.Object, args py.Tuple) (py.Object, error) {
				if len(args) < 1 {
					return nil, py.ExceptionNewf(py.TypeError, "net.post: url required")
				}
				url, err := asString(args[0], "url")
				if err != nil {
					return nil, err
				}
				return doRequest("POST", url, arg(args, 1), arg(args, 2))
			}, 0, "post(url, body=None, headers=None)"),
		},
	})
}

func (s *sandbox) Eval(source string) error {
	if _, err := py.RunSrc(s.pyCtx, source, "function.py", s.main); err != nil {
		return fmt.Errorf("python evaluation: %w", err)
	}
	return nil
}

func (s *sandbox) Call(ctx context.Context, functionName string, event map[string]any) (any, error) {
	s.ctx = ctx

	entry, ok := s.main.Globals[functionName]
	if !ok {
		return nil, &executor.FunctionNotFoundError{LanguageID: "python", FunctionName: functionName}
	}
	if _, callable := entry.(py.I__call__); !callable {
		return nil, &executor.FunctionNotFoundError{LanguageID: "python", FunctionName: functionName}
	}

	// The trampoline bakes the event into generated source, so the guest
	// receives plain Python data and no host references.
	trampoline := fmt.Sprintf("def __faas_invoke__():\n    return %s(%s)\n",
		functionName, executor.PythonLiteral(event))
	if _, err := py.RunSrc(s.pyCtx, trampoline, "trampoline.py", s.main); err != nil {
		return nil, fmt.Errorf("install trampoline: %w", err)
	}

	fn, ok := s.main.Globals["__faas_invoke__"]
	if !ok {
		return nil, &executor.FunctionNotFoundError{LanguageID: "python", FunctionName: functionName}
	}
	result, err := py.Call(fn, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("python invocation: %w", err)
	}
	return fromPy(result), nil
}

func (s *sandbox) Interrupt(err error) {
	// gpython has no cross-goroutine preemption; the call runs to its next
	// natural exit and the sandbox is discarded.
}

func (s *sandbox) Close() error {
	s.pyCtx.Close()
	return nil
}

// fromPy eagerly converts a Python value into host data.
func fromPy(o py.Object) any {
	switch v := o.(type) {
	case py.NoneType:
		return nil
	case py.Bool:
		return bool(v)
	case py.Int:
		return int64(v)
	case py.Float:
		return float64(v)
	case py.String:
		return string(v)
	case py.Bytes:
		return string(v)
	case py.Tuple:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = fromPy(item)
		}
		return out
	case *py.List:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = fromPy(item)
		}
		return out
	case py.StringDict:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = fromPy(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", o)
	}
}

// toPy converts host data into Python values for binding results.
func toPy(v any) py.Object {
	switch x := v.(type) {
	case nil:
		return py.None
	case bool:
		if x {
			return py.True
		}
		return py.False
	case int:
		return py.Int(x)
	case int64:
		return py.Int(x)
	case float64:
		return py.Float(x)
	case string:
		return py.String(x)
	case []any:
		items := make(py.Tuple, len(x))
		for i, item := range x {
			items[i] = toPy(item)
		}
		return items
	case map[string]any:
		d := py.NewStringDict()
		for key, item := range x {
			d[key] = toPy(item)
		}
		return d
	default:
		return py.String(fmt.Sprint(x))
	}
}
