// Package capability grants extensions access to host functions.
//
// Grants are gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches a single segment: "ui.*" matches "ui.tab" but not "ui.tab.pinned"
//   - '**' matches any number of segments: "link.**" matches "link.reports.register"
//
// Capabilities checked by the Lua runtime:
//   - ui.tab         create a tab
//   - ui.stylesheet  load a stylesheet
//   - link.<id>      invoke operations of extension <id>
package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks extension capabilities at runtime. Extension ids are
// compared case-insensitively.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

func key(extension string) string {
	return strings.ToLower(strings.TrimSpace(extension))
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, 0, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("capability %d: empty capability pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		compiled = append(compiled, compiledGrant{pattern: pattern, glob: g})
	}
	return compiled, nil
}

// SetGrants replaces the grants of an extension. If any pattern is invalid
// nothing changes.
func (e *Enforcer) SetGrants(extension string, patterns []string) error {
	if key(extension) == "" {
		return errors.New("extension id cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[key(extension)] = compiled
	return nil
}

// AddGrants appends grants to an extension's existing ones.
func (e *Enforcer) AddGrants(extension string, patterns []string) error {
	if key(extension) == "" {
		return errors.New("extension id cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[key(extension)] = append(e.grants[key(extension)], compiled...)
	return nil
}

// RemoveGrants forgets an extension. Unknown extensions are ignored.
func (e *Enforcer) RemoveGrants(extension string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, key(extension))
}

// Grants returns the patterns granted to an extension, sorted.
func (e *Enforcer) Grants(extension string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	grants := e.grants[key(extension)]
	if len(grants) == 0 {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	sort.Strings(patterns)
	return patterns
}

// Check reports whether the extension holds capability. Unknown extensions
// and empty capabilities are denied.
func (e *Enforcer) Check(extension, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, grant := range e.grants[key(extension)] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// LinkCapability returns the capability needed to invoke operations of target.
func LinkCapability(target string) string {
	return "link." + key(target)
}
