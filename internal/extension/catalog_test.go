// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Candidates(t *testing.T) {
	c := NewCatalog()
	factory := func() (Instance, error) { return &Funcs{}, nil }
	c.Register(NativeSpec{
		ID:       "loans",
		Version:  "1.2.0",
		Requires: []string{"books >= 1"},
		Soft:     []string{"reports"},
		Symbols:  map[string]any{"loans.policy": "two-weeks"},
		Factory:  factory,
	})
	c.Register(NativeSpec{ID: "no-factory"})
	c.Register(NativeSpec{ID: "bad id!", Factory: factory})
	c.Register(NativeSpec{ID: "bad-version", Version: "one", Factory: factory})

	descs, invalid, err := c.Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "catalog", c.Name())

	require.Len(t, descs, 1)
	d := descs[0]
	assert.Equal(t, KindNative, d.Kind)
	assert.Equal(t, "1.2.0", d.VersionString())
	assert.Equal(t, []string{"books"}, d.RequiredIDs())
	assert.Equal(t, NativeEntry, d.Entry)

	u, ok := d.Location.Lookup("loans.policy")
	require.True(t, ok)
	assert.Equal(t, "two-weeks", u.Value)

	require.Len(t, invalid, 3)
	for _, e := range invalid {
		assert.True(t, IsCode(e, CodeDescriptorInvalid))
	}
}

func TestNativeRuntime_Instantiate(t *testing.T) {
	want := &Funcs{}
	c := NewCatalog()
	c.Register(NativeSpec{ID: "ok", Factory: func() (Instance, error) { return want, nil }})
	c.Register(NativeSpec{ID: "fails", Factory: func() (Instance, error) { return nil, errors.New("boom") }})
	c.Register(NativeSpec{ID: "empty", Factory: func() (Instance, error) { return nil, nil }})
	descs, _, err := c.Candidates(context.Background())
	require.NoError(t, err)

	byID := map[string]*Descriptor{}
	for _, d := range descs {
		byID[d.ID] = d
	}
	rt := NativeRuntime{}
	scopeOf := func(d *Descriptor) *Scope { return NewScope(d.ID, d.Location, nil, nil) }

	inst, err := rt.Instantiate(context.Background(), byID["ok"], scopeOf(byID["ok"]))
	require.NoError(t, err)
	assert.Same(t, want, inst)

	_, err = rt.Instantiate(context.Background(), byID["fails"], scopeOf(byID["fails"]))
	require.EqualError(t, err, "boom")

	_, err = rt.Instantiate(context.Background(), byID["empty"], scopeOf(byID["empty"]))
	require.Error(t, err)

	// The entry must be the extension's own; base symbols do not count.
	base := NewSymbolLocation("base", map[string]any{NativeEntry: Factory(func() (Instance, error) { return want, nil })})
	_, err = rt.Instantiate(context.Background(), &Descriptor{ID: "ghost", Entry: NativeEntry}, NewScope("ghost", nil, nil, base))
	require.Error(t, err)

	wrongType := NewSymbolLocation("x", map[string]any{NativeEntry: "not a factory"})
	_, err = rt.Instantiate(context.Background(), &Descriptor{ID: "x", Entry: NativeEntry}, NewScope("x", wrongType, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a Factory")
}

func TestFuncs(t *testing.T) {
	var f Funcs
	require.NoError(t, f.Activate(context.Background(), nil))
	require.NoError(t, f.PostActivate(context.Background(), nil))
	_, ok := f.Operation("missing")
	assert.False(t, ok)

	f.Operations = map[string]Operation{"nil": nil}
	_, ok = f.Operation("nil")
	assert.False(t, ok)
}
