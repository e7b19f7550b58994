// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shelfhost/shelf/internal/config"
	"github.com/shelfhost/shelf/internal/environment"
	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/internal/extension/goplugin"
	"github.com/shelfhost/shelf/internal/extension/lua"
	"github.com/shelfhost/shelf/internal/logging"
	"github.com/shelfhost/shelf/internal/shell"
)

// app wires the extension host to the shell UI.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	host    *extension.Host
	shell   *shell.Shell
	catalog *extension.Catalog
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "shelf",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Writer:  cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

// newApp builds the host with every runtime registered. reg may be nil.
func newApp(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	base, err := environment.New(environment.Options{
		OverrideDir:   cfg.BaseDir,
		Version:       version,
		ExtensionsDir: cfg.ExtensionsDir,
	})
	if err != nil {
		return nil, oops.In("shelf").Wrapf(err, "build base environment")
	}

	ui := shell.New(logger)
	opts := []extension.HostOption{
		extension.WithRuntime(extension.KindLua, lua.NewRuntime(
			lua.WithGrants(cfg.Grants),
			lua.WithLogger(logger),
		)),
		extension.WithRuntime(extension.KindBinary, goplugin.NewRuntime(
			goplugin.WithLogger(logger),
		)),
		extension.WithBase(base),
		extension.WithUI(ui),
		extension.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, extension.WithMetrics(extension.NewMetrics(reg)))
	}

	host := extension.NewHost(opts...)
	ui.Bind(host)

	return &app{
		cfg:     cfg,
		logger:  logger,
		host:    host,
		shell:   ui,
		catalog: builtins(),
	}, nil
}

// sources returns the discovery sources: the extensions directory, then the
// built-in catalog.
func (a *app) sources() []extension.Source {
	return []extension.Source{
		extension.DirSource{Dir: a.cfg.ExtensionsDir},
		a.catalog,
	}
}

func (a *app) load(ctx context.Context) (*extension.Report, error) {
	return a.host.Load(ctx, a.sources()...)
}
