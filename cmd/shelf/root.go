// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/shelfhost/shelf/internal/config"
)

// NewRootCmd creates the root command for the Shelf CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(runDeps *RunDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelf",
		Short: "Shelf - an extensible library management shell",
		Long: `Shelf is a library management shell whose features are all
extensions: Lua scripts, external binaries or built-in Go code, activated
in dependency order and linked to each other at run time.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCmd(runDeps))
	cmd.AddCommand(NewExtensionsCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
