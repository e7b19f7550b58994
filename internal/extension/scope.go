// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

// Scope is the code-loading boundary of one activated extension.
//
// Lookups try the extension's own location first, then each delegate in the
// order it was attached, then the base environment. Delegates are the scopes
// of dependencies that were already enabled when the scope was built, so the
// delegation graph follows activation order and cannot contain cycles.
//
// A Scope is immutable after NewScope returns and safe for concurrent use.
type Scope struct {
	id        string
	own       Location
	delegates []*Scope
	base      Location
}

// NewScope builds the scope for extension id. Nil delegates and any delegate
// belonging to id itself are dropped, as are repeated delegates.
func NewScope(id string, own Location, delegates []*Scope, base Location) *Scope {
	key := Key(id)
	kept := make([]*Scope, 0, len(delegates))
	seen := make(map[*Scope]struct{}, len(delegates))
	for _, d := range delegates {
		if d == nil || Key(d.id) == key {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		kept = append(kept, d)
	}
	return &Scope{id: id, own: own, delegates: kept, base: base}
}

// ID returns the id of the extension owning the scope.
func (s *Scope) ID() string {
	return s.id
}

// Resolve finds name along the delegation chain. The first hit wins.
func (s *Scope) Resolve(name string) (Unit, bool) {
	if u, ok := s.resolveLocal(name); ok {
		return u, true
	}
	if s.base != nil {
		return s.base.Lookup(name)
	}
	return Unit{}, false
}

// resolveLocal searches the own location and the delegates without touching
// the base environment. Each delegate searches its own chain the same way,
// so the shared base is consulted exactly once, last.
func (s *Scope) resolveLocal(name string) (Unit, bool) {
	if s.own != nil {
		if u, ok := s.own.Lookup(name); ok {
			return u, true
		}
	}
	for _, d := range s.delegates {
		if u, ok := d.resolveLocal(name); ok {
			return u, true
		}
	}
	return Unit{}, false
}

// Asset returns the bytes of a UI asset (icon, stylesheet) resolved through
// the same chain as code.
func (s *Scope) Asset(name string) ([]byte, bool) {
	u, ok := s.Resolve(name)
	if !ok || u.Data == nil {
		return nil, false
	}
	return u.Data, true
}

// Own resolves name in the extension's own location only.
func (s *Scope) Own(name string) (Unit, bool) {
	if s.own == nil {
		return Unit{}, false
	}
	return s.own.Lookup(name)
}

// Locate is Own without reading contents. Use it when only the presence or
// path of a unit matters, such as an executable entry point.
func (s *Scope) Locate(name string) (Unit, bool) {
	if s.own == nil {
		return Unit{}, false
	}
	return s.own.Stat(name)
}

// Delegates returns the ids of the delegate scopes in lookup order.
func (s *Scope) Delegates() []string {
	ids := make([]string, len(s.delegates))
	for i, d := range s.delegates {
		ids[i] = d.id
	}
	return ids
}
