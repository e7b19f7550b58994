// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Unit is one resolvable code unit or asset.
type Unit struct {
	// Name is the slash-separated name the unit was resolved by.
	Name string
	// Origin names the location that produced the unit.
	Origin string
	// Data holds file contents for filesystem units.
	Data []byte
	// Value holds the Go value for symbol units.
	Value any
	// Path is the on-disk path, when the unit lives in a real directory.
	Path string
}

// Location is a single source of code units. Lookup misses are not errors.
type Location interface {
	Lookup(name string) (Unit, bool)
	// Stat is Lookup without reading file contents: Data stays nil.
	Stat(name string) (Unit, bool)
	String() string
}

// cleanName normalises a unit name and rejects names escaping the location.
func cleanName(name string) (string, bool) {
	name = path.Clean(strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/"))
	if name == "." || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

// FSLocation serves units from a filesystem.
type FSLocation struct {
	fsys   fs.FS
	origin string
	// root is the on-disk directory behind fsys, or "" for virtual filesystems.
	root string
}

// NewFSLocation creates a location over fsys. origin labels units for
// diagnostics.
func NewFSLocation(fsys fs.FS, origin string) *FSLocation {
	return &FSLocation{fsys: fsys, origin: origin}
}

// NewDirLocation creates a location over an on-disk directory. Units carry
// their absolute path.
func NewDirLocation(dir string) *FSLocation {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &FSLocation{fsys: os.DirFS(abs), origin: abs, root: abs}
}

// Lookup reads name from the filesystem.
func (l *FSLocation) Lookup(name string) (Unit, bool) {
	clean, ok := cleanName(name)
	if !ok {
		return Unit{}, false
	}
	data, err := fs.ReadFile(l.fsys, clean)
	if err != nil {
		return Unit{}, false
	}
	u := l.unit(clean)
	u.Data = data
	return u, true
}

// Stat reports whether name is a regular file without reading it.
func (l *FSLocation) Stat(name string) (Unit, bool) {
	clean, ok := cleanName(name)
	if !ok {
		return Unit{}, false
	}
	info, err := fs.Stat(l.fsys, clean)
	if err != nil || info.IsDir() {
		return Unit{}, false
	}
	return l.unit(clean), true
}

func (l *FSLocation) unit(clean string) Unit {
	u := Unit{Name: clean, Origin: l.origin}
	if l.root != "" {
		u.Path = filepath.Join(l.root, filepath.FromSlash(clean))
	}
	return u
}

func (l *FSLocation) String() string {
	return l.origin
}

// SymbolLocation serves Go values by name.
type SymbolLocation struct {
	origin  string
	symbols map[string]any
}

// NewSymbolLocation creates a location over a copy of symbols.
func NewSymbolLocation(origin string, symbols map[string]any) *SymbolLocation {
	copied := make(map[string]any, len(symbols))
	for k, v := range symbols {
		copied[k] = v
	}
	return &SymbolLocation{origin: origin, symbols: copied}
}

// Lookup returns the symbol registered under name.
func (l *SymbolLocation) Lookup(name string) (Unit, bool) {
	v, ok := l.symbols[name]
	if !ok {
		return Unit{}, false
	}
	return Unit{Name: name, Origin: l.origin, Value: v}, true
}

// Stat is Lookup: symbols carry no contents to skip.
func (l *SymbolLocation) Stat(name string) (Unit, bool) {
	return l.Lookup(name)
}

func (l *SymbolLocation) String() string {
	return l.origin
}

// Chain tries each location in order.
type Chain []Location

// Lookup returns the first hit.
func (c Chain) Lookup(name string) (Unit, bool) {
	for _, loc := range c {
		if loc == nil {
			continue
		}
		if u, ok := loc.Lookup(name); ok {
			return u, true
		}
	}
	return Unit{}, false
}

// Stat returns the first hit without reading contents.
func (c Chain) Stat(name string) (Unit, bool) {
	for _, loc := range c {
		if loc == nil {
			continue
		}
		if u, ok := loc.Stat(name); ok {
			return u, true
		}
	}
	return Unit{}, false
}

func (c Chain) String() string {
	parts := make([]string, 0, len(c))
	for _, loc := range c {
		if loc != nil {
			parts = append(parts, loc.String())
		}
	}
	return strings.Join(parts, " -> ")
}
