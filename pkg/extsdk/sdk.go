// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package extsdk provides the SDK for building Shelf binary extensions.
//
// Binary extensions run as separate processes and talk to the shell over
// gRPC using the HashiCorp go-plugin framework. An extension exports named
// operations other extensions reach through the shell's linker.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//		"github.com/shelfhost/shelf/pkg/extsdk"
//	)
//
//	func main() {
//		extsdk.Serve(&extsdk.ServeConfig{
//			Extension: &extsdk.Handler{
//				Ops: map[string]extsdk.OpFunc{
//					"overdue": func(ctx context.Context, args []any) (any, error) {
//						return []any{}, nil
//					},
//				},
//			},
//		})
//	}
package extsdk

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
)

// PluginName is the name the extension is dispensed under.
const PluginName = "extension"

// HandshakeConfig is the go-plugin handshake configuration.
// Both the shell and extensions must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SHELF_EXTENSION",
	MagicCookieValue: "shelf-extension-v1",
}

// Info identifies the extension being activated, as the shell sees it.
type Info struct {
	ID      string
	Version string
	Title   string
}

// Extension is the interface binary extensions implement.
//
// Arguments and results are plain data: nil, bool, numbers, strings,
// []any and map[string]any. Integral numbers arrive as int.
type Extension interface {
	// Activate is the primary lifecycle hook. An error keeps the extension
	// disabled.
	Activate(ctx context.Context, info Info) error
	// PostActivate runs after the extension is enabled.
	PostActivate(ctx context.Context, info Info) error
	// Operations lists the operation names Call accepts.
	Operations(ctx context.Context) ([]string, error)
	// Call runs an exported operation.
	Call(ctx context.Context, op string, args []any) (any, error)
}

// OpFunc is one exported operation.
type OpFunc func(ctx context.Context, args []any) (any, error)

// Handler adapts plain functions to Extension. Nil hooks succeed.
type Handler struct {
	OnActivate     func(ctx context.Context, info Info) error
	OnPostActivate func(ctx context.Context, info Info) error
	Ops            map[string]OpFunc

	mu sync.RWMutex
}

// Activate implements Extension.
func (h *Handler) Activate(ctx context.Context, info Info) error {
	if h.OnActivate == nil {
		return nil
	}
	return h.OnActivate(ctx, info)
}

// PostActivate implements Extension.
func (h *Handler) PostActivate(ctx context.Context, info Info) error {
	if h.OnPostActivate == nil {
		return nil
	}
	return h.OnPostActivate(ctx, info)
}

// Export adds an operation. Operations may be added from the hooks.
func (h *Handler) Export(name string, fn OpFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Ops == nil {
		h.Ops = make(map[string]OpFunc)
	}
	h.Ops[name] = fn
}

// Operations implements Extension.
func (h *Handler) Operations(_ context.Context) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.Ops))
	for name, fn := range h.Ops {
		if fn != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Call implements Extension.
func (h *Handler) Call(ctx context.Context, op string, args []any) (any, error) {
	h.mu.RLock()
	fn := h.Ops[op]
	h.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	return fn(ctx, args)
}

// ServeConfig configures the extension server.
type ServeConfig struct {
	// Extension is the implementation. Required; Serve panics if nil.
	Extension Extension
	// Logger receives go-plugin diagnostics. Defaults to stderr at warn
	// level, which the shell forwards to its own log.
	Logger hclog.Logger
}

// Serve starts the extension server. Call it from main(); it blocks and
// never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("extsdk: config cannot be nil")
	}
	if config.Extension == nil {
		panic("extsdk: config.Extension cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "extension",
			Level:  hclog.Warn,
			Output: os.Stderr,
		})
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &GRPCPlugin{Impl: config.Extension},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
		Logger:     logger,
	})
}
