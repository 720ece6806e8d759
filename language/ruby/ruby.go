// Package ruby provides the Ruby language adapter, backed by the embedded
// mruby interpreter.
package ruby

import (
	"context"
	"fmt"
	"regexp"

	mruby "github.com/mitchellh/go-mruby"

	"github.com/geoffsee/polyfaas/executor"
	"github.com/geoffsee/polyfaas/hostfunc"
)

// Ruby implements the executor.Language interface.
type Ruby struct{}

// New returns a Ruby language adapter.
func New() *Ruby {
	return &Ruby{}
}

// ID returns "ruby".
func (r *Ruby) ID() string {
	return "ruby"
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*[?!]?$`)

const netShim = `
class FaasNet
  def http(method, url, body = nil, headers = nil)
    __faas_net_http(method.to_s, url.to_s, body.nil? ? '' : body.to_s, headers.nil? ? {} : headers)
  end
  def get(url, headers = nil)
    http('GET', url, nil, headers)
  end
  def post(url, body = nil, headers = nil)
    http('POST', url, body, headers)
  end
end
$net = FaasNet.new
def net
  $net
end
`

func (r *Ruby) NewSandbox(cfg executor.SandboxConfig) (executor.Sandbox, error) {
	mrb := mruby.NewMrb()
	sb := &sandbox{mrb: mrb, cfg: cfg}

	if cfg.Bindings != nil {
		if fn, ok := cfg.Bindings.Get("net_http"); ok {
			if err := sb.installNet(fn); err != nil {
				mrb.Close()
				return nil, err
			}
		}
	}
	return sb, nil
}

type sandbox struct {
	mrb *mruby.Mrb
	cfg executor.SandboxConfig
	ctx context.Context
}

func (s *sandbox) installNet(fn hostfunc.Func) error {
	object := s.mrb.Class("Object", nil)
	object.DefineMethod("__faas_net_http", func(m *mruby.Mrb, self *mruby.MrbValue) (mruby.Value, mruby.Value) {
		args := m.GetArgs()
		if len(args) < 4 {
			return nil, s.exception("net: method, url, body, headers required")
		}
		req := map[string]any{
			"method": args[0].String(),
			"url":    args[1].String(),
			"body":   args[2].String(),
		}
		if headers, ok := fromMrb(args[3]).(map[string]any); ok {
			req["headers"] = headers
		}

		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, s.exception("net: " + err.Error())
		}

		// Responses travel back as a generated literal, the same one-way
		// data discipline the trampoline uses for events.
		value, loadErr := m.LoadString(executor.RubyLiteral(resp))
		if loadErr != nil {
			return nil, s.exception("net: encode response: " + loadErr.Error())
		}
		return value, nil
	}, mruby.ArgsReq(4))

	if _, err := s.mrb.LoadString(netShim); err != nil {
		return fmt.Errorf("install net shim: %w", err)
	}
	return nil
}

func (s *sandbox) exception(msg string) mruby.Value {
	value, err := s.mrb.LoadString("RuntimeError.new(" + executor.RubyLiteral(msg) + ")")
	if err != nil {
		return nil
	}
	return value
}

func (s *sandbox) Eval(source string) error {
	if _, err := s.mrb.LoadString(source); err != nil {
		return fmt.Errorf("ruby evaluation: %w", err)
	}
	return nil
}

func (s *sandbox) Call(ctx context.Context, functionName string, event map[string]any) (any, error) {
	s.ctx = ctx

	if !identRe.MatchString(functionName) {
		return nil, &executor.FunctionNotFoundError{LanguageID: "ruby", FunctionName: functionName}
	}
	defined, err := s.mrb.LoadString(fmt.Sprintf("respond_to?(:%s, true)", functionName))
	if err != nil || defined.Type() != mruby.TypeTrue {
		return nil, &executor.FunctionNotFoundError{LanguageID: "ruby", FunctionName: functionName}
	}

	trampoline := fmt.Sprintf("def __faas_invoke__\n  %s(%s)\nend",
		functionName, executor.RubyLiteral(event))
	if _, err := s.mrb.LoadString(trampoline); err != nil {
		return nil, fmt.Errorf("install trampoline: %w", err)
	}

	result, err := s.mrb.LoadString("__faas_invoke__")
	if err != nil {
		return nil, fmt.Errorf("ruby invocation: %w", err)
	}
	return fromMrb(result), nil
}

func (s *sandbox) Interrupt(err error) {
	// mruby offers no safe cross-thread preemption; the call runs to its
	// next natural exit and the sandbox is discarded.
}

func (s *sandbox) Close() error {
	s.mrb.Close()
	return nil
}

// fromMrb eagerly converts a Ruby value into host data so the result
// survives interpreter teardown.
func fromMrb(v *mruby.MrbValue) any {
	if v == nil {
		return nil
	}
	switch v.Type() {
	case mruby.TypeNil:
		return nil
	case mruby.TypeFalse:
		return false
	case mruby.TypeTrue:
		return true
	case mruby.TypeFixnum:
		return int64(v.Fixnum())
	case mruby.TypeFloat:
		return v.Float()
	case mruby.TypeString, mruby.TypeSymbol:
		return v.String()
	case mruby.TypeArray:
		arr := v.Array()
		out := make([]any, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			item, err := arr.Get(i)
			if err != nil {
				continue
			}
			out[i] = fromMrb(item)
		}
		return out
	case mruby.TypeHash:
		hash := v.Hash()
		keysVal, err := hash.Keys()
		if err != nil {
			return v.String()
		}
		keys := keysVal.Array()
		out := make(map[string]any, keys.Len())
		for i := 0; i < keys.Len(); i++ {
			key, err := keys.Get(i)
			if err != nil {
				continue
			}
			val, err := hash.Get(key)
			if err != nil {
				continue
			}
			out[key.String()] = fromMrb(val)
		}
		return out
	default:
		return v.String()
	}
}
