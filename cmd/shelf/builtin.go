// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"context"
	"fmt"

	"github.com/shelfhost/shelf/internal/environment"
	"github.com/shelfhost/shelf/internal/extension"
)

// AboutID is the id of the built-in about extension.
const AboutID = "about"

// builtins returns the catalog of extensions compiled into the binary.
func builtins() *extension.Catalog {
	c := extension.NewCatalog()
	c.Register(extension.NativeSpec{
		ID:      AboutID,
		Version: "1.0.0",
		Title:   "About Shelf",
		Factory: newAbout,
	})
	return c
}

func newAbout() (extension.Instance, error) {
	var shellVersion string
	return &extension.Funcs{
		OnActivate: func(ctx context.Context, env *extension.Env) error {
			if u, ok := env.Scope.Resolve(environment.VersionSymbol); ok {
				shellVersion = fmt.Sprint(u.Value)
			}
			return env.CreateTab(ctx, "About", environment.DefaultIcon, "about")
		},
		OnPostActivate: func(ctx context.Context, env *extension.Env) error {
			return env.LoadStylesheet(ctx, environment.BaseStylesheet)
		},
		Operations: map[string]extension.Operation{
			"version": func(context.Context, ...any) (any, error) {
				return shellVersion, nil
			},
		},
	}, nil
}
