// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Factory builds a native extension instance.
type Factory func() (Instance, error)

// NativeEntry is the entry symbol under which a native extension's Factory is
// stored in its location.
const NativeEntry = "factory"

// NativeSpec describes an extension implemented in Go and compiled into the
// shell binary.
type NativeSpec struct {
	ID           string
	Version      string
	Title        string
	Requires     []string
	Soft         []string
	Capabilities []string
	Factory      Factory
	// Symbols are extra named values other extensions may resolve through
	// scopes delegating to this one.
	Symbols map[string]any
}

// Catalog holds native extensions registered at startup. It is the
// build-time counterpart of a directory of manifests.
type Catalog struct {
	mu    sync.Mutex
	specs []NativeSpec
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Register adds a native extension. Validation happens at discovery so a bad
// registration is reported like any other invalid candidate.
func (c *Catalog) Register(spec NativeSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs = append(c.specs, spec)
}

// Name implements Source.
func (c *Catalog) Name() string {
	return "catalog"
}

// Candidates implements Source.
func (c *Catalog) Candidates(_ context.Context) ([]*Descriptor, []error, error) {
	c.mu.Lock()
	specs := append([]NativeSpec(nil), c.specs...)
	c.mu.Unlock()

	var (
		descs   []*Descriptor
		invalid []error
	)
	for _, spec := range specs {
		d, err := spec.descriptor()
		if err != nil {
			invalid = append(invalid, descriptorError("catalog").
				With("extension", spec.ID).
				Wrapf(err, "invalid native extension %q", spec.ID))
			continue
		}
		descs = append(descs, d)
	}
	return descs, invalid, nil
}

func (spec NativeSpec) descriptor() (*Descriptor, error) {
	if err := ValidateID(spec.ID); err != nil {
		return nil, err
	}
	if spec.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	d := &Descriptor{
		ID:           spec.ID,
		Title:        spec.Title,
		Kind:         KindNative,
		Soft:         append([]string(nil), spec.Soft...),
		Capabilities: append([]string(nil), spec.Capabilities...),
		Entry:        NativeEntry,
	}
	if spec.Version != "" {
		v, err := semver.NewVersion(spec.Version)
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", spec.Version, err)
		}
		d.Version = v
	}
	for _, raw := range spec.Requires {
		dep, err := ParseDependency(raw)
		if err != nil {
			return nil, err
		}
		d.Requires = append(d.Requires, dep)
	}

	symbols := make(map[string]any, len(spec.Symbols)+1)
	for k, v := range spec.Symbols {
		symbols[k] = v
	}
	symbols[NativeEntry] = spec.Factory
	d.Location = NewSymbolLocation("native:"+spec.ID, symbols)
	return d, nil
}

// NativeRuntime instantiates native extensions by resolving their Factory
// through the extension's scope.
type NativeRuntime struct{}

// Instantiate implements Runtime.
func (NativeRuntime) Instantiate(_ context.Context, desc *Descriptor, scope *Scope) (Instance, error) {
	unit, ok := scope.Own(desc.Entry)
	if !ok {
		return nil, fmt.Errorf("entry point %q not found in %s", desc.Entry, desc.ID)
	}
	factory, ok := unit.Value.(Factory)
	if !ok {
		return nil, fmt.Errorf("entry point %q of %s is %T, not a Factory", desc.Entry, desc.ID, unit.Value)
	}
	inst, err := factory()
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("factory of %s returned no instance", desc.ID)
	}
	return inst, nil
}

// Funcs adapts plain functions to Instance. Nil hooks succeed.
type Funcs struct {
	OnActivate     func(ctx context.Context, env *Env) error
	OnPostActivate func(ctx context.Context, env *Env) error
	Operations     map[string]Operation
}

// Activate implements Instance.
func (f *Funcs) Activate(ctx context.Context, env *Env) error {
	if f.OnActivate == nil {
		return nil
	}
	return f.OnActivate(ctx, env)
}

// PostActivate implements Instance.
func (f *Funcs) PostActivate(ctx context.Context, env *Env) error {
	if f.OnPostActivate == nil {
		return nil
	}
	return f.OnPostActivate(ctx, env)
}

// Operation implements Instance.
func (f *Funcs) Operation(name string) (Operation, bool) {
	op, ok := f.Operations[name]
	return op, ok && op != nil
}
