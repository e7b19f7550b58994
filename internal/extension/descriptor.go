// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package extension discovers, orders and activates shell extensions.
//
// An extension is described by a Descriptor. Descriptors come from
// extension.yaml manifests on disk (DirSource) or from Go code registered in
// a Catalog. Resolve orders descriptors by their hard dependencies, and Host
// activates them one at a time, giving each an isolated Scope that delegates
// to the scopes of its already-enabled dependencies. Linker lets an enabled
// extension call into another one by id when that one happens to be enabled.
package extension

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Kind identifies the runtime that instantiates an extension.
type Kind string

// Extension kinds understood by the host.
const (
	KindLua    Kind = "lua"
	KindBinary Kind = "binary"
	KindNative Kind = "native"
)

// Key returns the comparison key for an extension id. Ids compare
// case-insensitively everywhere.
func Key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Dependency is a hard dependency on another extension, optionally pinned to
// a semver constraint.
type Dependency struct {
	ID         string
	Constraint *semver.Constraints
	constraint string
}

// ParseDependency parses "id", "id <constraint>" or "id@<constraint>".
func ParseDependency(s string) (Dependency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Dependency{}, oops.In("extension").Errorf("dependency is empty")
	}

	idx := strings.IndexAny(s, " \t@<>=~^!")
	if idx < 0 {
		return Dependency{ID: s}, nil
	}

	dep := Dependency{ID: s[:idx]}
	if dep.ID == "" {
		return Dependency{}, oops.In("extension").With("dependency", s).Errorf("dependency %q has no id", s)
	}

	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s[idx:]), "@"))
	if raw == "" {
		return dep, nil
	}
	c, err := semver.NewConstraint(raw)
	if err != nil {
		return Dependency{}, oops.In("extension").With("dependency", s).Wrapf(err, "invalid version constraint")
	}
	dep.Constraint = c
	dep.constraint = raw
	return dep, nil
}

// Satisfied reports whether version meets the dependency's constraint. A
// dependency without a constraint is satisfied by any version, including none.
func (d Dependency) Satisfied(version *semver.Version) bool {
	if d.Constraint == nil {
		return true
	}
	if version == nil {
		return false
	}
	return d.Constraint.Check(version)
}

// ConstraintString returns the constraint as written, or "".
func (d Dependency) ConstraintString() string {
	if d.constraint == "" && d.Constraint != nil {
		return d.Constraint.String()
	}
	return d.constraint
}

func (d Dependency) String() string {
	if c := d.ConstraintString(); c != "" {
		return d.ID + " " + c
	}
	return d.ID
}

// Descriptor is the inert description of one extension candidate.
type Descriptor struct {
	// ID is the extension identity. Compared with Key.
	ID      string
	Version *semver.Version
	Title   string
	Kind    Kind

	// Requires lists hard dependencies: each must be enabled before this
	// extension may activate.
	Requires []Dependency
	// Soft lists extensions this one integrates with when they are enabled.
	// Soft dependencies never affect ordering or rejection.
	Soft []string

	// Capabilities are glob grants for host functions (Lua runtime).
	Capabilities []string

	// Location holds the extension's own code units.
	Location Location
	// Entry names the activation target inside Location.
	Entry string
	// Dir is the directory the descriptor was discovered in, if any.
	Dir string
}

// Key returns the descriptor's comparison key.
func (d *Descriptor) Key() string {
	return Key(d.ID)
}

// VersionString returns the version or "" when unversioned.
func (d *Descriptor) VersionString() string {
	if d.Version == nil {
		return ""
	}
	return d.Version.String()
}

// DisplayName returns Title, falling back to ID.
func (d *Descriptor) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.ID
}

// RequiredIDs returns the ids of the hard dependencies in declaration order.
func (d *Descriptor) RequiredIDs() []string {
	ids := make([]string, len(d.Requires))
	for i, dep := range d.Requires {
		ids[i] = dep.ID
	}
	return ids
}
