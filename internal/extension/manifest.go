package extension

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest file name looked up in each candidate directory.
const ManifestFile = "extension.yaml"

// Manifest represents an extension.yaml file.
type Manifest struct {
	ID           string        `yaml:"id"`
	Version      string        `yaml:"version"`
	Title        string        `yaml:"title,omitempty"`
	Type         Kind          `yaml:"type" jsonschema:"enum=lua,enum=binary"`
	Requires     []string      `yaml:"requires,omitempty"`
	SoftRequires []string      `yaml:"soft-requires,omitempty"`
	Capabilities []string      `yaml:"capabilities,omitempty"`
	Lua          *LuaConfig    `yaml:"lua,omitempty"`
	Binary       *BinaryConfig `yaml:"binary,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry"`
}

// BinaryConfig holds binary extension configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable"`
}

// maxIDLength is the maximum allowed length for extension ids.
const maxIDLength = 64

// idPattern validates extension ids: a letter, then letters, digits or
// hyphens, not ending with a hyphen. Case is preserved but ignored when
// comparing.
var idPattern = regexp.MustCompile(`^[A-Za-z]([A-Za-z0-9-]*[A-Za-z0-9])?$`)

// ValidateID checks an extension id.
func ValidateID(id string) error {
	if id == "" || !idPattern.MatchString(id) {
		return fmt.Errorf("id %q must start with a letter, contain only letters, digits, hyphens, and not end with a hyphen", id)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("id must be %d characters or less, got %d", maxIDLength, len(id))
	}
	return nil
}

// ParseManifest parses and validates an extension.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if err := ValidateID(m.ID); err != nil {
		return err
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	for _, raw := range m.Requires {
		dep, err := ParseDependency(raw)
		if err != nil {
			return fmt.Errorf("requires: %w", err)
		}
		if err := ValidateID(dep.ID); err != nil {
			return fmt.Errorf("requires: %w", err)
		}
		if Key(dep.ID) == Key(m.ID) {
			return fmt.Errorf("requires: extension cannot depend on itself")
		}
	}
	for _, soft := range m.SoftRequires {
		if err := ValidateID(soft); err != nil {
			return fmt.Errorf("soft-requires: %w", err)
		}
		if Key(soft) == Key(m.ID) {
			return fmt.Errorf("soft-requires: extension cannot depend on itself")
		}
	}

	switch m.Type {
	case KindLua:
		if m.Lua == nil {
			return fmt.Errorf("lua is required when type is lua")
		}
		if m.Lua.Entry == "" {
			return fmt.Errorf("lua.entry is required")
		}
	case KindBinary:
		if m.Binary == nil {
			return fmt.Errorf("binary is required when type is binary")
		}
		if m.Binary.Executable == "" {
			return fmt.Errorf("binary.executable is required")
		}
	default:
		return fmt.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}

// Entry returns the activation target named by the manifest, with ${os} and
// ${arch} expanded for binary extensions.
func (m *Manifest) Entry() string {
	switch m.Type {
	case KindLua:
		if m.Lua != nil {
			return m.Lua.Entry
		}
	case KindBinary:
		if m.Binary != nil {
			return strings.NewReplacer("${os}", runtime.GOOS, "${arch}", runtime.GOARCH).Replace(m.Binary.Executable)
		}
	}
	return ""
}

// Descriptor converts a validated manifest found in dir into a Descriptor
// whose own location is dir.
func (m *Manifest) Descriptor(dir string) (*Descriptor, error) {
	version, err := semver.StrictNewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", m.Version, err)
	}

	requires := make([]Dependency, 0, len(m.Requires))
	for _, raw := range m.Requires {
		dep, err := ParseDependency(raw)
		if err != nil {
			return nil, err
		}
		requires = append(requires, dep)
	}

	return &Descriptor{
		ID:           m.ID,
		Version:      version,
		Title:        m.Title,
		Kind:         m.Type,
		Requires:     requires,
		Soft:         append([]string(nil), m.SoftRequires...),
		Capabilities: append([]string(nil), m.Capabilities...),
		Location:     NewDirLocation(dir),
		Entry:        filepath.ToSlash(m.Entry()),
		Dir:          dir,
	}, nil
}
