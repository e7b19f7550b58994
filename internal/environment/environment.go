// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package environment provides the base environment every extension scope
// falls back to: shared Lua modules, default icons and the base stylesheet,
// plus Go symbols published by the shell.
package environment

import (
	"embed"
	"io/fs"

	"github.com/samber/oops"

	"github.com/shelfhost/shelf/internal/extension"
)

//go:embed files
var filesFS embed.FS

// Names of units every base environment provides.
const (
	DefaultIcon         = "icons/default.svg"
	BaseStylesheet      = "css/base.css"
	TablesModule        = "shell/tables.lua"
	VersionSymbol       = "shell.version"
	ExtensionsDirSymbol = "shell.extensions_dir"
)

// Options configures the base environment.
type Options struct {
	// OverrideDir, when set, is searched before the embedded files so
	// deployments can restyle the shell or patch shared modules.
	OverrideDir string
	// Version is published as the shell.version symbol.
	Version string
	// ExtensionsDir is published as the shell.extensions_dir symbol.
	ExtensionsDir string
}

// New builds the base environment location.
func New(opts Options) (extension.Location, error) {
	sub, err := fs.Sub(filesFS, "files")
	if err != nil {
		return nil, oops.In("environment").Wrapf(err, "open embedded base files")
	}

	chain := extension.Chain{}
	if opts.OverrideDir != "" {
		chain = append(chain, extension.NewDirLocation(opts.OverrideDir))
	}
	chain = append(chain,
		extension.NewFSLocation(sub, "base"),
		extension.NewSymbolLocation("shell", map[string]any{
			VersionSymbol:       opts.Version,
			ExtensionsDirSymbol: opts.ExtensionsDir,
		}),
	)
	return chain, nil
}

// Files lists the embedded unit names, sorted.
func Files() ([]string, error) {
	var names []string
	err := fs.WalkDir(filesFS, "files", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, p[len("files/"):])
		}
		return nil
	})
	if err != nil {
		return nil, oops.In("environment").Wrapf(err, "list embedded base files")
	}
	return names, nil
}
