// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shelfhost/shelf/internal/observability"
	"github.com/shelfhost/shelf/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// ObservabilityServer is the metrics and health endpoint.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// Signals delivers shutdown signals.
	// Default: SIGINT and SIGTERM via signal.Notify
	Signals <-chan os.Signal
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return newRunCmd(nil)
}

func newRunCmd(deps *RunDeps) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load extensions and start the shell",
		Long: `Discover extensions, activate them in dependency order and
present the resulting shell. Runs until interrupted unless --once is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShellWithDeps(cmd.Context(), cmd, once, deps)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "render the shell and exit instead of waiting for a signal")

	return cmd
}

// runShellWithDeps starts the shell with injectable dependencies.
// If deps is nil, default implementations are used.
func runShellWithDeps(ctx context.Context, cmd *cobra.Command, once bool, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	newObsServer := deps.ObservabilityServerFactory
	if newObsServer == nil {
		newObsServer = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			srv := observability.NewServer(addr, ready)
			srv.SetLogger(logger)
			return srv
		}
	}

	logger.Info("starting shell",
		"extensions_dir", cfg.ExtensionsDir,
		"log_format", cfg.LogFormat,
	)

	var (
		ready     atomic.Bool
		obsServer ObservabilityServer
		reg       prometheus.Registerer
	)
	if cfg.MetricsAddr != "" {
		obsServer = newObsServer(cfg.MetricsAddr, ready.Load)
		reg = obsServer.Registry()
	}

	a, err := newApp(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.host.Close(closeCtx); err != nil {
			errutil.LogWarn(logger, "error releasing extensions", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.In("shelf").With("addr", cfg.MetricsAddr).Wrapf(err, "failed to start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	report, err := a.load(ctx)
	if err != nil {
		return oops.In("shelf").Wrapf(err, "load extensions")
	}
	ready.Store(true)

	if err := a.shell.Render(cmd.OutOrStdout()); err != nil {
		return oops.In("shelf").Wrapf(err, "render shell")
	}
	logger.Info("shell ready",
		"run_id", report.RunID,
		"enabled", len(report.Enabled),
	)

	if once {
		return nil
	}

	sigChan := deps.Signals
	if sigChan == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigChan = ch
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	return nil
}

// monitorServerErrors cancels the context when a server reports an error.
// It returns once errCh yields or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
