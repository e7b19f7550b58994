// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package goplugin

import (
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/shelfhost/shelf/pkg/extsdk"
)

// HandshakeConfig is imported from extsdk so the shell and extensions use
// identical configuration.
var HandshakeConfig = extsdk.HandshakeConfig

// PluginMap is the map of plugins the shell can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	extsdk.PluginName: &extsdk.GRPCPlugin{},
}
