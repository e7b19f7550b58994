// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package lua

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/multierr"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/internal/extension/capability"
)

// Global names an entry chunk may define.
const (
	activateHook     = "activate"
	postActivateHook = "post_activate"
	exportsTable     = "exports"
)

// Compile-time interface checks.
var (
	_ extension.Runtime  = (*Runtime)(nil)
	_ extension.Instance = (*instance)(nil)
)

// Runtime instantiates Lua extensions.
type Runtime struct {
	factory  *StateFactory
	enforcer *capability.Enforcer
	grants   map[string][]string
	logger   *slog.Logger

	mu        sync.Mutex
	instances []*instance
	closed    bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithEnforcer sets the capability enforcer shared by all instances.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(r *Runtime) {
		r.enforcer = e
	}
}

// WithGrants adds capability grants per extension id on top of the
// capabilities each manifest declares.
func WithGrants(grants map[string][]string) Option {
	return func(r *Runtime) {
		for id, caps := range grants {
			key := extension.Key(id)
			r.grants[key] = append(r.grants[key], caps...)
		}
	}
}

// WithLogger sets the logger used before an extension has an env.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Lua runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factory: NewStateFactory(),
		grants:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.enforcer == nil {
		r.enforcer = capability.NewEnforcer()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Enforcer returns the runtime's capability enforcer.
func (r *Runtime) Enforcer() *capability.Enforcer {
	return r.enforcer
}

// Instantiate loads desc's entry chunk from its own location into a fresh
// state and runs it. The chunk defines the lifecycle hooks and exports.
func (r *Runtime) Instantiate(ctx context.Context, desc *extension.Descriptor, scope *extension.Scope) (extension.Instance, error) {
	errb := oops.In("lua").With("extension", desc.ID).With("entry", desc.Entry)

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errb.New("runtime is closed")
	}

	unit, ok := scope.Own(desc.Entry)
	if !ok || unit.Data == nil {
		return nil, errb.Errorf("entry %q not found in %s", desc.Entry, desc.DisplayName())
	}

	if err := r.enforcer.SetGrants(desc.ID, desc.Capabilities); err != nil {
		return nil, errb.Hint("invalid capability").Wrap(err)
	}
	if extra := r.grants[desc.Key()]; len(extra) > 0 {
		if err := r.enforcer.AddGrants(desc.ID, extra); err != nil {
			return nil, errb.Hint("invalid configured grant").Wrap(err)
		}
	}

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Hint("failed to create state").Wrap(err)
	}

	inst := &instance{
		runtime: r,
		desc:    desc,
		scope:   scope,
		L:       L,
		modules: make(map[string]lua.LValue),
		exports: mapset.NewThreadUnsafeSet[string](),
	}
	inst.register()

	fn, err := L.Load(bytes.NewReader(unit.Data), chunkName(desc.ID, unit))
	if err != nil {
		L.Close()
		return nil, errb.Hint("syntax error").Wrap(err)
	}

	err = inst.locked(ctx, func() error {
		L.Push(fn)
		return L.PCall(0, 0, nil)
	})
	if err != nil {
		inst.close()
		return nil, errb.Hint("entry chunk failed").Wrap(err)
	}

	r.mu.Lock()
	r.instances = append(r.instances, inst)
	r.mu.Unlock()
	return inst, nil
}

// Close releases every state created by the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	instances := r.instances
	r.instances = nil
	r.mu.Unlock()

	var errs error
	for _, inst := range instances {
		errs = multierr.Append(errs, inst.Close(ctx))
	}
	return errs
}

func chunkName(id string, u extension.Unit) string {
	return "@" + id + "/" + u.Name
}

// heldKey carries the chain of instances whose lock the current call path
// already holds, so an extension that calls back into one of its callers
// re-enters that caller's state instead of deadlocking on it.
type heldKey struct{}

type held struct {
	inst *instance
	next *held
}

func holds(ctx context.Context, inst *instance) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.next {
		if h.inst == inst {
			return true
		}
	}
	return false
}

type instance struct {
	runtime *Runtime
	desc    *extension.Descriptor
	scope   *extension.Scope
	env     atomic.Pointer[extension.Env]

	// mu serialises use of L.
	mu      sync.Mutex
	L       *lua.LState
	modules map[string]lua.LValue
	closed  bool

	exportsMu sync.RWMutex
	exports   mapset.Set[string]
}

// locked runs fn with the instance's state bound to ctx. The instance lock is
// taken unless ctx shows the caller already holds it.
func (i *instance) locked(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reentrant := holds(ctx, i)
	if !reentrant {
		i.mu.Lock()
		defer i.mu.Unlock()
	}
	if i.closed {
		return oops.In("lua").With("extension", i.desc.ID).New("extension state is closed")
	}

	prev, _ := ctx.Value(heldKey{}).(*held)
	ctx = context.WithValue(ctx, heldKey{}, &held{inst: i, next: prev})

	outer := i.L.Context()
	i.L.SetContext(ctx)
	defer func() {
		if outer != nil {
			i.L.SetContext(outer)
		} else {
			i.L.RemoveContext()
		}
		if !reentrant {
			i.refreshExports()
		}
	}()
	return fn()
}

// refreshExports snapshots the names of exported functions. Callers hold mu.
func (i *instance) refreshExports() {
	names := mapset.NewThreadUnsafeSet[string]()
	if t, ok := i.L.GetGlobal(exportsTable).(*lua.LTable); ok {
		names.Append(functionKeys(t)...)
	}
	i.exportsMu.Lock()
	i.exports = names
	i.exportsMu.Unlock()
}

// Activate runs the activate() hook. Raising an error or returning false
// fails activation; a second return value is used as the reason.
func (i *instance) Activate(ctx context.Context, env *extension.Env) error {
	i.env.Store(env)
	return i.callHook(ctx, activateHook, true)
}

// PostActivate runs post_activate() when the chunk defines it.
func (i *instance) PostActivate(ctx context.Context, env *extension.Env) error {
	i.env.Store(env)
	return i.callHook(ctx, postActivateHook, false)
}

func (i *instance) callHook(ctx context.Context, name string, required bool) error {
	errb := oops.In("lua").With("extension", i.desc.ID).With("hook", name)
	return i.locked(ctx, func() error {
		fn := i.L.GetGlobal(name)
		if fn.Type() != lua.LTFunction {
			if required {
				return errb.Errorf("%s does not define %s()", i.desc.ID, name)
			}
			return nil
		}
		if err := i.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}); err != nil {
			return errb.Wrap(err)
		}
		ok, reason := i.L.Get(-2), i.L.Get(-1)
		i.L.Pop(2)
		if ok == lua.LFalse {
			if reason != lua.LNil {
				return errb.Errorf("%s() returned false: %s", name, reason.String())
			}
			return errb.Errorf("%s() returned false", name)
		}
		return nil
	})
}

// Operation returns the function stored under name in the exports table.
func (i *instance) Operation(name string) (extension.Operation, bool) {
	i.exportsMu.RLock()
	ok := i.exports.Contains(name)
	i.exportsMu.RUnlock()
	if !ok {
		return nil, false
	}

	return func(ctx context.Context, args ...any) (any, error) {
		var result any
		err := i.locked(ctx, func() error {
			t, ok := i.L.GetGlobal(exportsTable).(*lua.LTable)
			if !ok {
				return oops.In("lua").With("extension", i.desc.ID).Errorf("%s no longer has an exports table", i.desc.ID)
			}
			fn := t.RawGetString(name)
			if fn.Type() != lua.LTFunction {
				return oops.In("lua").With("extension", i.desc.ID).Errorf("%s no longer exports %q", i.desc.ID, name)
			}
			largs := make([]lua.LValue, len(args))
			for n, a := range args {
				largs[n] = toLua(i.L, a)
			}
			if err := i.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
				return oops.In("lua").With("extension", i.desc.ID).With("operation", name).Wrap(err)
			}
			result = fromLua(i.L.Get(-1))
			i.L.Pop(1)
			return nil
		})
		return result, err
	}, true
}

// Close closes the instance's state. It is safe to call more than once.
func (i *instance) Close(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.close()
	return nil
}

func (i *instance) close() {
	if i.closed {
		return
	}
	i.closed = true
	i.L.Close()
}

func (i *instance) logger() *slog.Logger {
	if env := i.env.Load(); env != nil && env.Logger != nil {
		return env.Logger
	}
	return i.runtime.logger.With("extension", i.desc.ID)
}
