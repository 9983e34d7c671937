package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/logging"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = time.Second

// Runtime is a sandboxed Lua state shared by the scripts compiled in it.
// gopher-lua states are not goroutine-safe, so calls are serialized.
type Runtime struct {
	log     *logging.Logger
	timeout time.Duration

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger that also receives print output.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runtime) {
		r.log = l.WithComponent("script")
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRuntime creates a sandboxed Lua state.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		log:     logging.Nop(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(r.L)
	r.sandbox()
	return r
}

// openSafeLibraries opens the libraries that cannot reach outside the
// state. io, os, debug and package stay closed.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

func (r *Runtime) sandbox() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage"} {
		r.L.SetGlobal(name, lua.LNil)
	}
	r.L.SetGlobal("print", r.L.NewFunction(r.print))
}

// print sends its arguments, tab separated, to the log.
func (r *Runtime) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	r.log.Info("script output", zap.String("text", strings.Join(parts, "\t")))
	return 0
}

// compile loads src as a function. Expressions are tried first so that
// conditions can be written without "return".
func (r *Runtime) compile(name, src string, expression bool) (*lua.LFunction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	if expression {
		if fn, err := r.L.Load(strings.NewReader("return "+src), name); err == nil {
			return fn, nil
		}
	}
	fn, err := r.L.Load(strings.NewReader(src), name)
	if err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	return fn, nil
}

// call runs fn with the given globals bound and returns its first result.
func (r *Runtime) call(name string, fn *lua.LFunction, globals map[string]any) (lua.LValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return lua.LNil, ErrClosed
	}

	for k, v := range globals {
		r.L.SetGlobal(k, toLua(r.L, v))
	}
	defer func() {
		for k := range globals {
			r.L.SetGlobal(k, lua.LNil)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	top := r.L.GetTop()
	err := r.protect(func() error {
		r.L.Push(fn)
		return r.L.PCall(0, 1, nil)
	})
	if err != nil {
		r.L.SetTop(top)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return lua.LNil, &RuntimeError{Name: name, Err: ErrTimeout}
		}
		return lua.LNil, &RuntimeError{Name: name, Err: err}
	}
	ret := r.L.Get(-1)
	r.L.SetTop(top)
	return ret, nil
}

func (r *Runtime) protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lua panic: %v", p)
		}
	}()
	return fn()
}

// Close releases the Lua state. Scripts compiled in it stop working.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.L.Close()
	return nil
}

// toLua converts the plain values used for bindings.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case []string:
		t := L.CreateTable(len(v), 0)
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for k, val := range v {
			t.RawSetString(k, toLua(L, val))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}
