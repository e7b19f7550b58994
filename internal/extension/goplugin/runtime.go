// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package goplugin runs binary extensions as separate processes using
// HashiCorp's go-plugin system over gRPC.
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"go.uber.org/multierr"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/pkg/extsdk"
)

// DefaultCallTimeout bounds a single hook or operation call.
const DefaultCallTimeout = 5 * time.Second

// Sentinel errors for programmatic error checking.
var (
	// ErrRuntimeClosed is returned when instantiating on a closed runtime.
	ErrRuntimeClosed = errors.New("runtime is closed")
	// ErrNotExecutable is returned when the entry does not resolve to a file
	// on disk.
	ErrNotExecutable = errors.New("entry is not an executable file")
)

// Compile-time interface checks.
var (
	_ extension.Runtime  = (*Runtime)(nil)
	_ extension.Instance = (*instance)(nil)
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the extension process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	Logger hclog.Logger
}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved through the extension's own location
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           f.Logger,
	})
}

// Runtime instantiates binary extensions.
type Runtime struct {
	clientFactory ClientFactory
	timeout       time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	instances []*instance
	closed    bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the process launcher (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(r *Runtime) {
		r.clientFactory = f
	}
}

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a binary extension runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.clientFactory == nil {
		r.clientFactory = &DefaultClientFactory{
			Logger: hclog.New(&hclog.LoggerOptions{
				Name:   "extension",
				Level:  hclog.Warn,
				Output: os.Stderr,
			}),
		}
	}
	return r
}

// Instantiate starts the executable named by desc's entry and connects to it.
func (r *Runtime) Instantiate(ctx context.Context, desc *extension.Descriptor, scope *extension.Scope) (extension.Instance, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRuntimeClosed
	}

	unit, ok := scope.Locate(desc.Entry)
	if !ok {
		return nil, fmt.Errorf("extension executable not found: %s in %s", desc.Entry, desc.ID)
	}
	if unit.Path == "" {
		return nil, fmt.Errorf("%w: %s of %s", ErrNotExecutable, desc.Entry, desc.ID)
	}

	client := r.clientFactory.NewClient(unit.Path)

	protocol, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to extension %s: %w", desc.ID, err)
	}

	raw, err := protocol.Dispense(extsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense extension %s: %w", desc.ID, err)
	}

	ext, ok := raw.(extsdk.Extension)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("extension %s does not implement extsdk.Extension", desc.ID)
	}

	inst := &instance{
		runtime: r,
		desc:    desc,
		client:  client,
		ext:     ext,
		ops:     mapset.NewSet[string](),
	}

	r.mu.Lock()
	r.instances = append(r.instances, inst)
	r.mu.Unlock()
	return inst, nil
}

// Close kills every extension process still running.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	instances := r.instances
	r.instances = nil
	r.mu.Unlock()

	var errs error
	for _, inst := range instances {
		errs = multierr.Append(errs, inst.Close(ctx))
	}
	return errs
}

type instance struct {
	runtime *Runtime
	desc    *extension.Descriptor
	client  PluginClient
	ext     extsdk.Extension
	ops     mapset.Set[string]

	closeOnce sync.Once
}

func (i *instance) info() extsdk.Info {
	return extsdk.Info{ID: i.desc.ID, Version: i.desc.VersionString(), Title: i.desc.Title}
}

func (i *instance) Activate(ctx context.Context, _ *extension.Env) error {
	callCtx, cancel := context.WithTimeout(ctx, i.runtime.timeout)
	defer cancel()
	if err := i.ext.Activate(callCtx, i.info()); err != nil {
		return fmt.Errorf("extension %s Activate failed: %w", i.desc.ID, err)
	}
	return i.refreshOperations(ctx)
}

func (i *instance) PostActivate(ctx context.Context, _ *extension.Env) error {
	callCtx, cancel := context.WithTimeout(ctx, i.runtime.timeout)
	defer cancel()
	if err := i.ext.PostActivate(callCtx, i.info()); err != nil {
		return fmt.Errorf("extension %s PostActivate failed: %w", i.desc.ID, err)
	}
	return i.refreshOperations(ctx)
}

// refreshOperations caches the exported operation names so Operation can
// answer without a round trip.
func (i *instance) refreshOperations(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, i.runtime.timeout)
	defer cancel()
	names, err := i.ext.Operations(callCtx)
	if err != nil {
		return fmt.Errorf("extension %s Operations failed: %w", i.desc.ID, err)
	}
	i.ops.Clear()
	i.ops.Append(names...)
	return nil
}

func (i *instance) Operation(name string) (extension.Operation, bool) {
	if !i.ops.Contains(name) {
		return nil, false
	}
	return func(ctx context.Context, args ...any) (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, i.runtime.timeout)
		defer cancel()
		result, err := i.ext.Call(callCtx, name, args)
		if err != nil {
			return nil, fmt.Errorf("extension %s %s failed: %w", i.desc.ID, name, err)
		}
		return result, nil
	}, true
}

// Close kills the extension process. It is safe to call more than once.
func (i *instance) Close(_ context.Context) error {
	i.closeOnce.Do(func() {
		i.runtime.logger.Debug("stopping extension process", "extension", i.desc.ID)
		i.client.Kill()
	})
	return nil
}
