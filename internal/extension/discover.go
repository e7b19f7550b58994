// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/oops"
	"go.uber.org/multierr"
)

// Source produces extension candidates.
//
// Candidates returns usable descriptors, per-candidate errors for entries
// that were skipped, and a non-nil error only when the source as a whole
// could not be read.
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]*Descriptor, []error, error)
}

// DirSource discovers extensions in the subdirectories of Dir. Each
// subdirectory holding an extension.yaml is one candidate.
type DirSource struct {
	Dir string
}

// Name implements Source.
func (s DirSource) Name() string {
	return s.Dir
}

// ErrSourceMissing reports a source whose root does not exist. Discover
// records such sources in Discovery.Missing instead of failing.
var ErrSourceMissing = errors.New("extension source does not exist")

// Candidates implements Source. A missing directory yields no candidates
// and an error wrapping ErrSourceMissing.
// Files at the top level and directories without a manifest are skipped
// silently; directories with an unreadable or invalid manifest are reported.
func (s DirSource) Candidates(_ context.Context) ([]*Descriptor, []error, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, oops.In("extension").
				With("dir", s.Dir).
				Wrapf(ErrSourceMissing, "extensions directory %s", s.Dir)
		}
		return nil, nil, oops.In("extension").
			Code(CodeDiscoveryUnreadable).
			With("dir", s.Dir).
			Wrapf(err, "failed to read extensions directory")
	}

	var (
		descs   []*Descriptor
		invalid []error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(s.Dir, entry.Name())
		manifestPath := filepath.Join(dir, ManifestFile)

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			invalid = append(invalid, descriptorError(dir).Wrapf(err, "unreadable manifest"))
			continue
		}

		d, err := loadManifest(data, dir)
		if err != nil {
			invalid = append(invalid, descriptorError(dir).Wrap(err))
			continue
		}
		descs = append(descs, d)
	}
	return descs, invalid, nil
}

func loadManifest(data []byte, dir string) (*Descriptor, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Errorf("manifest does not match schema: %s", FormatSchemaError(err))
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	d, err := m.Descriptor(dir)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Location.Stat(d.Entry); !ok {
		return nil, oops.With("entry", d.Entry).Errorf("entry %q not found in %s", d.Entry, dir)
	}
	return d, nil
}

// Discovery is the result of scanning all sources.
type Discovery struct {
	// Descriptors are the usable candidates, sorted by id.
	Descriptors []*Descriptor
	// Invalid holds one descriptor error per skipped candidate.
	Invalid []error
	// Missing names the sources whose root does not exist.
	Missing []string
}

// Discover collects candidates from every source and rejects every candidate
// whose id is shared with another one, wherever it came from. Sources that
// do not exist are listed in Discovery.Missing. The returned error joins the
// errors of sources that could not be read at all; the Discovery still holds
// whatever the other sources produced.
func Discover(ctx context.Context, sources ...Source) (*Discovery, error) {
	var (
		all     []*Descriptor
		origins = map[*Descriptor]string{}
		out     = &Discovery{}
		errs    error
	)
	for _, src := range sources {
		if src == nil {
			continue
		}
		descs, invalid, err := src.Candidates(ctx)
		switch {
		case errors.Is(err, ErrSourceMissing):
			out.Missing = append(out.Missing, src.Name())
		case err != nil:
			errs = multierr.Append(errs, err)
		}
		out.Invalid = append(out.Invalid, invalid...)
		for _, d := range descs {
			origins[d] = src.Name()
			all = append(all, d)
		}
	}

	byKey := make(map[string][]*Descriptor, len(all))
	for _, d := range all {
		byKey[d.Key()] = append(byKey[d.Key()], d)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		group := byKey[k]
		if len(group) == 1 {
			out.Descriptors = append(out.Descriptors, group[0])
			continue
		}
		where := make([]string, len(group))
		for i, d := range group {
			where[i] = candidateOrigin(d, origins[d])
		}
		for i, d := range group {
			out.Invalid = append(out.Invalid, oops.In("extension").
				Code(CodeDuplicateID).
				With("extension", d.ID).
				With("source", where[i]).
				With("conflicts", where).
				Errorf("duplicate extension id %q declared by %s", d.ID, strings.Join(where, ", ")))
		}
	}
	return out, errs
}

func candidateOrigin(d *Descriptor, source string) string {
	if d.Dir != "" {
		return d.Dir
	}
	return source + ":" + d.ID
}
