// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package shell is the headless UI host. It records the tabs and
// stylesheets extensions contribute and renders a plain-text summary.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/shelfhost/shelf/internal/extension"
)

// NoFeatures is the summary shown when no extension is enabled.
const NoFeatures = "no features available"

// Compile-time interface check.
var _ extension.UI = (*Shell)(nil)

// Extensions is the part of the extension host the shell reads.
type Extensions interface {
	EnabledIDs() []string
	Scope(id string) (*extension.Scope, bool)
}

// Shell collects UI contributions. It is safe for concurrent use.
type Shell struct {
	logger *slog.Logger

	mu     sync.RWMutex
	exts   Extensions
	tabs   []extension.Tab
	sheets []extension.Stylesheet
}

// New creates a shell.
func New(logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{logger: logger}
}

// Bind attaches the extension host once it exists. The host is created
// with the shell as its UI, so binding happens afterwards.
func (s *Shell) Bind(exts Extensions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exts = exts
}

// CreateTab implements extension.UI.
func (s *Shell) CreateTab(_ context.Context, tab extension.Tab) error {
	if strings.TrimSpace(tab.Title) == "" {
		return oops.In("shell").With("extension", tab.Owner).New("tab title cannot be empty")
	}
	s.mu.Lock()
	s.tabs = append(s.tabs, tab)
	s.mu.Unlock()
	s.logger.Debug("tab created", "extension", tab.Owner, "title", tab.Title, "icon", tab.IconName)
	return nil
}

// LoadStylesheet implements extension.UI.
func (s *Shell) LoadStylesheet(_ context.Context, sheet extension.Stylesheet) error {
	s.mu.Lock()
	s.sheets = append(s.sheets, sheet)
	s.mu.Unlock()
	s.logger.Debug("stylesheet loaded", "extension", sheet.Owner, "name", sheet.Name, "bytes", len(sheet.CSS))
	return nil
}

// Tabs returns the tabs in creation order.
func (s *Shell) Tabs() []extension.Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]extension.Tab(nil), s.tabs...)
}

// Stylesheets returns the stylesheets in load order.
func (s *Shell) Stylesheets() []extension.Stylesheet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]extension.Stylesheet(nil), s.sheets...)
}

func (s *Shell) enabled() []string {
	s.mu.RLock()
	exts := s.exts
	s.mu.RUnlock()
	if exts == nil {
		return nil
	}
	return exts.EnabledIDs()
}

// Summary describes the available features, or NoFeatures when no
// extension is enabled.
func (s *Shell) Summary() string {
	ids := s.enabled()
	if len(ids) == 0 {
		return NoFeatures
	}
	return fmt.Sprintf("%d features available: %s", len(ids), strings.Join(ids, ", "))
}

// Icon resolves an icon through an enabled extension's scope: its own
// files, then its dependencies, then the base environment.
func (s *Shell) Icon(id, name string) ([]byte, bool) {
	s.mu.RLock()
	exts := s.exts
	s.mu.RUnlock()
	if exts == nil {
		return nil, false
	}
	scope, ok := exts.Scope(id)
	if !ok {
		return nil, false
	}
	return scope.Asset(name)
}

// Render writes the summary and the tab list.
func (s *Shell) Render(w io.Writer) error {
	var b strings.Builder
	b.WriteString(s.Summary())
	b.WriteByte('\n')
	for _, tab := range s.Tabs() {
		icon := "-"
		if len(tab.Icon) > 0 {
			icon = tab.IconName
		}
		fmt.Fprintf(&b, "  [%s] %s (icon: %s)\n", tab.Owner, tab.Title, icon)
	}
	if sheets := s.Stylesheets(); len(sheets) > 0 {
		fmt.Fprintf(&b, "  %d stylesheets loaded\n", len(sheets))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
