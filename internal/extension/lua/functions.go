// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"bytes"
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/internal/extension/capability"
	"github.com/shelfhost/shelf/pkg/errutil"
)

// Capabilities checked by host functions.
const (
	CapabilityTab        = "ui.tab"
	CapabilityStylesheet = "ui.stylesheet"
)

// ModuleName is the global table holding host functions.
const ModuleName = "shell"

// loadingSentinel marks a module whose chunk is still running.
var loadingSentinel = lua.LString("\x00loading")

// register installs the shell module and require into the instance's state.
func (i *instance) register() {
	L := i.L
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(i.logFn))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, "is_enabled", L.NewFunction(i.withEnv("is_enabled", i.isEnabledFn)))
	L.SetField(mod, "asset", L.NewFunction(i.assetFn))
	L.SetField(mod, "create_tab", L.NewFunction(i.wrap(CapabilityTab, i.withEnv("create_tab", i.createTabFn))))
	L.SetField(mod, "load_stylesheet", L.NewFunction(i.wrap(CapabilityStylesheet, i.withEnv("load_stylesheet", i.loadStylesheetFn))))
	L.SetField(mod, "invoke", L.NewFunction(i.withEnv("invoke", i.invokeFn)))

	L.SetGlobal(ModuleName, mod)
	L.SetGlobal("require", L.NewFunction(i.requireFn))
}

func (i *instance) wrap(capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !i.runtime.enforcer.Check(i.desc.ID, capName) {
			L.RaiseError("capability denied: %s requires %s", i.desc.ID, capName)
			return 0
		}
		return fn(L)
	}
}

// withEnv guards functions that need the extension's env, which exists from
// activate() on. Top-level chunk code runs before that.
func (i *instance) withEnv(name string, fn func(L *lua.LState, env *extension.Env) int) lua.LGFunction {
	return func(L *lua.LState) int {
		env := i.env.Load()
		if env == nil {
			L.RaiseError("%s.%s is not available before activate()", ModuleName, name)
			return 0
		}
		return fn(L, env)
	}
}

func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (i *instance) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	logger := i.logger()
	switch level {
	case "debug":
		logger.Debug(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
	return 0
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (i *instance) isEnabledFn(L *lua.LState, env *extension.Env) int {
	L.Push(lua.LBool(env.IsEnabled(L.CheckString(1))))
	return 1
}

// assetFn returns the contents of an asset resolved through the scope chain,
// or nil.
func (i *instance) assetFn(L *lua.LState) int {
	data, ok := i.scope.Asset(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(string(data)))
	return 1
}

func (i *instance) createTabFn(L *lua.LState, env *extension.Env) int {
	title := L.CheckString(1)
	icon := L.OptString(2, "")
	view := L.OptString(3, "")
	if err := env.CreateTab(stateContext(L), title, icon, view); err != nil {
		L.RaiseError("create_tab: %s", err.Error())
	}
	return 0
}

func (i *instance) loadStylesheetFn(L *lua.LState, env *extension.Env) int {
	if err := env.LoadStylesheet(stateContext(L), L.CheckString(1)); err != nil {
		L.RaiseError("load_stylesheet: %s", err.Error())
	}
	return 0
}

// invokeFn is shell.invoke(target, op, ...). It returns value, true when the
// target is enabled and the call succeeded, nil, false when the target is not
// enabled, and raises on integration failure.
func (i *instance) invokeFn(L *lua.LState, env *extension.Env) int {
	target := L.CheckString(1)
	op := L.CheckString(2)
	if !i.runtime.enforcer.Check(i.desc.ID, capability.LinkCapability(target)) {
		L.RaiseError("capability denied: %s requires %s", i.desc.ID, capability.LinkCapability(target))
		return 0
	}

	args := make([]any, 0, L.GetTop()-2)
	for n := 3; n <= L.GetTop(); n++ {
		args = append(args, fromLua(L.Get(n)))
	}

	result, ok, err := env.Invoke(stateContext(L), target, op, args...)
	if err != nil {
		L.RaiseError("invoke %s.%s: %s", target, op, err.Error())
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		L.Push(lua.LFalse)
		return 2
	}
	L.Push(toLua(L, result))
	L.Push(lua.LTrue)
	return 2
}

// requireFn resolves name.lua through the extension's scope: own location,
// then dependencies, then the base environment. Dots in name are path
// separators. Modules are cached per state.
func (i *instance) requireFn(L *lua.LState) int {
	name := L.CheckString(1)
	if v, ok := i.modules[name]; ok {
		if v == loadingSentinel {
			L.RaiseError("require %q: circular require", name)
			return 0
		}
		L.Push(v)
		return 1
	}

	unitName := strings.ReplaceAll(name, ".", "/") + ".lua"
	unit, ok := i.scope.Resolve(unitName)
	if !ok || unit.Data == nil {
		L.RaiseError("module %q not found in scope of %s", name, i.desc.ID)
		return 0
	}

	fn, err := L.Load(bytes.NewReader(unit.Data), "@"+unit.Origin+"/"+unit.Name)
	if err != nil {
		errutil.LogWarn(i.logger(), "lua module failed to compile", err)
		L.RaiseError("require %q: %s", name, err.Error())
		return 0
	}

	i.modules[name] = loadingSentinel
	L.Push(fn)
	L.Push(lua.LString(name))
	if err := L.PCall(1, 1, nil); err != nil {
		delete(i.modules, name)
		L.RaiseError("require %q: %s", name, err.Error())
		return 0
	}
	v := L.Get(-1)
	L.Pop(1)
	if v == lua.LNil {
		v = lua.LTrue
	}
	i.modules[name] = v
	L.Push(v)
	return 1
}
