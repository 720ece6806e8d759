package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/geoffsee/polyfaas/hostfunc"
	"golang.org/x/sync/semaphore"
)

// Request describes one invocation. TimeoutMillis of zero or below disables
// the deadline.
type Request struct {
	LanguageID     string
	SourceCode     string
	FunctionName   string
	Event          map[string]any
	Files          []File
	Dependencies   map[string]string
	JSEvalAsModule bool
	TimeoutMillis  int64
	EnableNetwork  bool
	Platform       *hostfunc.Platform
}

// Engine dispatches invocations onto a bounded worker pool. Invocations are
// bursty and short, so the pool keeps no resident workers: a submit either
// hands off to a free slot or waits until one opens, up to the request
// deadline, and parallelism is capped at PoolSize.
type Engine struct {
	langs map[string]Language
	sem   *semaphore.Weighted
	log   *slog.Logger
	proxy *hostfunc.NetProxy
}

// PoolSize returns the engine concurrency cap: max(CPU count, 2).
func PoolSize() int64 {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		n = 2
	}
	return int64(n)
}

// NewEngine builds an engine over the given language adapters. The proxy may
// be nil when no invocation will enable networking.
func NewEngine(proxy *hostfunc.NetProxy, log *slog.Logger, langs ...Language) *Engine {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[string]Language, len(langs))
	for _, l := range langs {
		m[l.ID()] = l
	}
	return &Engine{
		langs: m,
		sem:   semaphore.NewWeighted(PoolSize()),
		log:   log,
		proxy: proxy,
	}
}

// Supports reports whether a language tag is recognized.
func (e *Engine) Supports(languageID string) bool {
	_, ok := e.langs[languageID]
	return ok
}

// Languages lists the registered language tags.
func (e *Engine) Languages() []string {
	out := make([]string, 0, len(e.langs))
	for id := range e.langs {
		out = append(out, id)
	}
	return out
}

type invokeOutcome struct {
	result any
	err    error
}

// sandboxSlot hands the live sandbox to the waiter so a timeout can
// interrupt it.
type sandboxSlot struct {
	mu sync.Mutex
	sb Sandbox
}

func (s *sandboxSlot) set(sb Sandbox) {
	s.mu.Lock()
	s.sb = sb
	s.mu.Unlock()
}

func (s *sandboxSlot) interrupt(err error) {
	s.mu.Lock()
	sb := s.sb
	s.mu.Unlock()
	if sb != nil {
		sb.Interrupt(err)
	}
}

// Invoke runs one request to completion or deadline. On timeout the sandbox
// is interrupted and a *TimeoutError is returned; on caller cancellation the
// context error propagates. Task failures bubble up unwrapped.
func (e *Engine) Invoke(ctx context.Context, req *Request) (any, error) {
	lang, ok := e.langs[req.LanguageID]
	if !ok {
		return nil, ErrUnknownLanguage
	}

	deadline := req.TimeoutMillis > 0
	if deadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		if deadline && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Millis: req.TimeoutMillis}
		}
		return nil, err
	}

	slot := &sandboxSlot{}
	done := make(chan invokeOutcome, 1)
	go func() {
		defer e.sem.Release(1)
		result, err := e.doInvoke(ctx, lang, req, slot)
		done <- invokeOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		timeoutErr := &TimeoutError{Millis: req.TimeoutMillis}
		slot.interrupt(timeoutErr)
		if deadline && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutErr
		}
		return nil, ctx.Err()
	}
}

// doInvoke runs the full per-call sequence: fresh sandbox, file staging,
// binding installation, source evaluation, entry call, marshalling. The
// staged temp directory is removed on every exit path.
func (e *Engine) doInvoke(ctx context.Context, lang Language, req *Request, slot *sandboxSlot) (any, error) {
	event := make(map[string]any, len(req.Event)+1)
	for k, v := range req.Event {
		event[k] = v
	}

	if len(req.Files) > 0 {
		dir, meta, err := stageFiles(req.Files)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				e.log.Warn("staged directory not removed", "dir", dir, "error", rmErr)
			}
		}()
		event["files"] = meta
	}

	bindings := hostfunc.NewRegistry()
	if req.EnableNetwork && e.proxy != nil {
		e.proxy.Bind(bindings)
	}

	sandbox, err := lang.NewSandbox(SandboxConfig{
		EvalAsModule: req.JSEvalAsModule && req.LanguageID == "js",
		Dependencies: req.Dependencies,
		Bindings:     bindings,
		Platform:     req.Platform,
	})
	if err != nil {
		return nil, err
	}
	slot.set(sandbox)
	defer func() {
		slot.set(nil)
		sandbox.Close()
	}()

	if err := sandbox.Eval(req.SourceCode); err != nil {
		return nil, err
	}
	return sandbox.Call(ctx, req.FunctionName, event)
}
