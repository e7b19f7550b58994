// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shelfhost/shelf/internal/extension"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the extension.yaml JSON Schema",
		Long: `Generates the JSON Schema of extension manifests. With --out the
schema is written to a file, otherwise it is printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := extension.GenerateSchema()
			if err != nil {
				return oops.In("shelf").Wrapf(err, "generate schema")
			}
			if out == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return oops.In("shelf").With("path", out).Wrapf(err, "create directory")
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return oops.In("shelf").With("path", out).Wrapf(err, "write schema")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to this file")

	return cmd
}
