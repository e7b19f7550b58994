// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Tab is a UI tab contributed by an extension.
type Tab struct {
	Owner    string
	Title    string
	IconName string
	Icon     []byte
	View     string
}

// Stylesheet is a stylesheet contributed by an extension.
type Stylesheet struct {
	Owner string
	Name  string
	CSS   []byte
}

// UI is the part of the UI host extensions may touch.
type UI interface {
	CreateTab(ctx context.Context, tab Tab) error
	LoadStylesheet(ctx context.Context, sheet Stylesheet) error
}

// Env is what an extension receives in its lifecycle hooks.
type Env struct {
	Descriptor *Descriptor
	Scope      *Scope
	Linker     *Linker
	Logger     *slog.Logger
	ui         UI
}

// ID returns the id of the extension the env belongs to.
func (e *Env) ID() string {
	return e.Descriptor.ID
}

// CreateTab adds a tab, resolving iconName through the extension's scope.
// An unresolvable icon is not an error; the tab is created without one.
func (e *Env) CreateTab(ctx context.Context, title, iconName, view string) error {
	tab := Tab{Owner: e.Descriptor.ID, Title: title, IconName: iconName, View: view}
	if iconName != "" {
		if icon, ok := e.Scope.Asset(iconName); ok {
			tab.Icon = icon
		} else {
			e.Logger.Debug("icon not found", "icon", iconName)
		}
	}
	if e.ui == nil {
		return nil
	}
	return e.ui.CreateTab(ctx, tab)
}

// LoadStylesheet resolves name through the extension's scope and hands it to
// the UI host.
func (e *Env) LoadStylesheet(ctx context.Context, name string) error {
	css, ok := e.Scope.Asset(name)
	if !ok {
		return oops.In("extension").
			With("extension", e.Descriptor.ID).
			With("stylesheet", name).
			Errorf("stylesheet %q not found", name)
	}
	if e.ui == nil {
		return nil
	}
	return e.ui.LoadStylesheet(ctx, Stylesheet{Owner: e.Descriptor.ID, Name: name, CSS: css})
}

// Invoke calls op on target through the Linker. See Linker.Invoke.
func (e *Env) Invoke(ctx context.Context, target, op string, args ...any) (any, bool, error) {
	return e.Linker.Invoke(ctx, target, op, args...)
}

// IsEnabled reports whether another extension is enabled.
func (e *Env) IsEnabled(id string) bool {
	return e.Linker.Available(id)
}
