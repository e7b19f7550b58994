// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"context"
	"os"
	"testing"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/pkg/extsdk"
)

func TestFee(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{days: -1, want: 0},
		{days: 0, want: 0},
		{days: 3, want: 0},
		{days: 4, want: 25},
		{days: 10, want: 175},
		{days: 365, want: 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fee(tt.days), "fee(%d)", tt.days)
	}
}

func TestManifestIsValid(t *testing.T) {
	data, err := os.ReadFile("extension.yaml")
	require.NoError(t, err)
	require.NoError(t, extension.ValidateSchema(data))

	m, err := extension.ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, extension.KindBinary, m.Type)
}

func TestOverGRPC(t *testing.T) {
	client, server := hashiplug.TestPluginGRPCConn(t, false, map[string]hashiplug.Plugin{
		extsdk.PluginName: &extsdk.GRPCPlugin{Impl: newHandler()},
	})
	defer func() { _ = client.Close() }()
	defer server.Stop()

	raw, err := client.Dispense(extsdk.PluginName)
	require.NoError(t, err)
	ext, ok := raw.(extsdk.Extension)
	require.True(t, ok)

	ctx := context.Background()
	require.Error(t, ext.Activate(ctx, extsdk.Info{}))
	require.NoError(t, ext.Activate(ctx, extsdk.Info{ID: "overdue-notices"}))

	ops, err := ext.Operations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fee", "notice"}, ops)

	got, err := ext.Call(ctx, "fee", []any{10})
	require.NoError(t, err)
	assert.Equal(t, 175, got)

	got, err = ext.Call(ctx, "notice", []any{"Dune", 5})
	require.NoError(t, err)
	notice, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `"Dune" is 5 days overdue. Fee: $0.50`, notice["text"])
	assert.Equal(t, 50, notice["fee"])

	_, err = ext.Call(ctx, "fee", []any{"ten"})
	require.Error(t, err)

	_, err = ext.Call(ctx, "refund", nil)
	require.ErrorIs(t, err, extsdk.ErrUnknownOperation)
}
