// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/oops"
)

// Unmet describes one hard dependency that was not satisfied.
type Unmet struct {
	ID string
	// Constraint is the version constraint the loaded dependency failed.
	// Empty when the dependency never loaded.
	Constraint string
	// Found is the version of the loaded dependency, if it has one.
	Found string
}

func (u Unmet) String() string {
	if u.Constraint == "" {
		return u.ID
	}
	found := u.Found
	if found == "" {
		found = "unversioned"
	}
	return fmt.Sprintf("%s (requires %s, found %s)", u.ID, u.Constraint, found)
}

// Rejection records an extension excluded from the activation order.
type Rejection struct {
	Descriptor *Descriptor
	Missing    []Unmet
}

// ID returns the rejected extension's id.
func (r Rejection) ID() string {
	return r.Descriptor.ID
}

// Reason renders the rejection as "missing dependency: X, Y".
func (r Rejection) Reason() string {
	parts := make([]string, len(r.Missing))
	for i, m := range r.Missing {
		parts[i] = m.String()
	}
	return "missing dependency: " + strings.Join(parts, ", ")
}

// Err returns the rejection as an oops error coded CodeUnsatisfiedDependency.
func (r Rejection) Err() error {
	missing := make([]string, len(r.Missing))
	for i, m := range r.Missing {
		missing[i] = m.ID
	}
	return oops.In("extension").
		Code(CodeUnsatisfiedDependency).
		With("extension", r.Descriptor.ID).
		With("missing", missing).
		Errorf("%s", r.Reason())
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Order is the activation order: every descriptor follows all of its
	// hard dependencies.
	Order []*Descriptor
	// Rejected lists descriptors whose hard dependencies cannot all load,
	// in sorted id order.
	Rejected []Rejection
}

// IDs returns the ids of Order.
func (r Resolution) IDs() []string {
	ids := make([]string, len(r.Order))
	for i, d := range r.Order {
		ids[i] = d.ID
	}
	return ids
}

// Resolve orders descriptors so that each follows its hard dependencies.
//
// Descriptors are first sorted by id, case-insensitively, so the result does
// not depend on discovery order. The resolver then makes repeated passes over
// the pending list, moving every descriptor whose hard dependencies are all
// loaded into the order, until a pass makes no progress. Activation order is
// the order in which descriptors become eligible. Whatever remains pending is
// rejected with the dependencies that never loaded; members of a cycle end up
// here too, and so does anything depending on a rejected descriptor.
//
// Soft dependencies are ignored. Resolve does not log and does not mutate
// its input.
func Resolve(descs []*Descriptor) Resolution {
	pending := make([]*Descriptor, 0, len(descs))
	for _, d := range descs {
		if d != nil {
			pending = append(pending, d)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Key() < pending[j].Key()
	})

	loaded := mapset.NewThreadUnsafeSet[string]()
	versions := make(map[string]*Descriptor, len(pending))
	var res Resolution

	for progress := true; progress; {
		progress = false
		remaining := pending[:0]
		for _, d := range pending {
			if loaded.Contains(d.Key()) || len(unmet(d, loaded, versions)) > 0 {
				remaining = append(remaining, d)
				continue
			}
			res.Order = append(res.Order, d)
			loaded.Add(d.Key())
			versions[d.Key()] = d
			progress = true
		}
		pending = remaining
	}

	for _, d := range pending {
		missing := unmet(d, loaded, versions)
		if len(missing) == 0 {
			// Same key as an ordered descriptor. Discovery rejects
			// duplicates, so this only happens for hand-built input.
			missing = []Unmet{{ID: d.ID}}
		}
		res.Rejected = append(res.Rejected, Rejection{Descriptor: d, Missing: missing})
	}
	return res
}

func unmet(d *Descriptor, loaded mapset.Set[string], versions map[string]*Descriptor) []Unmet {
	var missing []Unmet
	for _, dep := range d.Requires {
		key := Key(dep.ID)
		if !loaded.Contains(key) {
			missing = append(missing, Unmet{ID: dep.ID})
			continue
		}
		if found := versions[key]; !dep.Satisfied(found.Version) {
			missing = append(missing, Unmet{
				ID:         dep.ID,
				Constraint: dep.ConstraintString(),
				Found:      found.VersionString(),
			})
		}
	}
	return missing
}
