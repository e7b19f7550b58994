// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/pkg/errutil"
)

// ExtensionStatus describes one discovered extension without activating it.
type ExtensionStatus struct {
	ID       string   `json:"id"`
	Version  string   `json:"version,omitempty"`
	Kind     string   `json:"kind"`
	Position int      `json:"position,omitempty"`
	Requires []string `json:"requires,omitempty"`
	Soft     []string `json:"soft_requires,omitempty"`
	Rejected string   `json:"rejected,omitempty"`
	Origin   string   `json:"origin,omitempty"`
}

// NewExtensionsCmd creates the extensions subcommand and its children.
func NewExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Inspect installed extensions without activating them",
	}
	cmd.AddCommand(newExtensionsListCmd())
	cmd.AddCommand(newExtensionsCheckCmd())
	return cmd
}

func newExtensionsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered extensions in activation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, _, err := dryRun(cmd)
			if err != nil {
				return err
			}
			if jsonOutput {
				out, err := json.MarshalIndent(statuses, "", "  ")
				if err != nil {
					return oops.In("shelf").Wrapf(err, "failed to format JSON")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), formatStatusTable(statuses))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func newExtensionsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate manifests and dependencies without starting the shell",
		Long: `Discovers every extension, validates its manifest and resolves the
dependency graph. Nothing is activated. Exits with code 0 when every
extension would be considered for activation, non-zero otherwise.

Useful in CI pipelines that package extensions:
  shelf extensions check --extensions-dir ./extensions`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, invalid, err := dryRun(cmd)
			if err != nil {
				return err
			}

			var rejected int
			for _, s := range statuses {
				if s.Rejected != "" {
					rejected++
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rejected %s: %s\n", s.ID, s.Rejected)
				}
			}
			for _, e := range invalid {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "invalid: %s\n", e.Error())
			}

			if rejected > 0 || len(invalid) > 0 {
				return oops.In("shelf").
					With("rejected", rejected).
					With("invalid", len(invalid)).
					Errorf("check failed: %d rejected, %d invalid", rejected, len(invalid))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d extensions ok\n", len(statuses))
			return nil
		},
	}
}

// dryRun discovers and resolves extensions. Discovery errors of a whole
// source are logged, as during a real run.
func dryRun(cmd *cobra.Command) ([]ExtensionStatus, []error, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}

	disc, err := extension.Discover(cmd.Context(), a.sources()...)
	if err != nil {
		errutil.LogWarn(logger, "extension source unreadable", err)
	}
	for _, name := range disc.Missing {
		logger.Warn("extension source not found", "source", name)
	}

	res := extension.Resolve(disc.Descriptors)
	statuses := make([]ExtensionStatus, 0, len(res.Order)+len(res.Rejected))
	for i, d := range res.Order {
		s := statusOf(d)
		s.Position = i + 1
		statuses = append(statuses, s)
	}
	for _, rej := range res.Rejected {
		s := statusOf(rej.Descriptor)
		s.Rejected = rej.Reason()
		statuses = append(statuses, s)
	}
	return statuses, disc.Invalid, nil
}

func statusOf(d *extension.Descriptor) ExtensionStatus {
	requires := make([]string, len(d.Requires))
	for i, dep := range d.Requires {
		requires[i] = dep.String()
	}
	return ExtensionStatus{
		ID:       d.ID,
		Version:  d.VersionString(),
		Kind:     string(d.Kind),
		Requires: requires,
		Soft:     d.Soft,
		Origin:   d.Dir,
	}
}

// formatStatusTable renders statuses as an aligned table.
func formatStatusTable(statuses []ExtensionStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tID\tVERSION\tKIND\tREQUIRES\tSOFT\tSTATUS")
	for _, s := range statuses {
		pos, status := "-", "ok"
		if s.Position > 0 {
			pos = fmt.Sprint(s.Position)
		}
		if s.Rejected != "" {
			status = s.Rejected
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			pos, s.ID, orDash(s.Version), s.Kind,
			orDash(strings.Join(s.Requires, ", ")),
			orDash(strings.Join(s.Soft, ", ")),
			status)
	}
	_ = w.Flush()
	return buf.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
