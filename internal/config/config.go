// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package config loads shell configuration from a YAML file and command-line
// flags. Flags explicitly set on the command line win over the file.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/internal/extension/capability"
	"github.com/shelfhost/shelf/internal/logging"
	"github.com/shelfhost/shelf/internal/xdg"
)

// Flag names. They double as koanf keys.
const (
	FlagConfig        = "config"
	FlagExtensionsDir = "extensions-dir"
	FlagBaseDir       = "base-dir"
	FlagLogFormat     = "log-format"
	FlagLogLevel      = "log-level"
	FlagMetricsAddr   = "metrics-addr"
)

// Config is the shell configuration.
type Config struct {
	// ExtensionsDir is scanned for extension directories.
	ExtensionsDir string `koanf:"extensions-dir"`
	// BaseDir overrides files of the embedded base environment. Optional.
	BaseDir     string `koanf:"base-dir"`
	LogFormat   string `koanf:"log-format"`
	LogLevel    string `koanf:"log-level"`
	MetricsAddr string `koanf:"metrics-addr"`
	// Grants adds capability patterns per extension id on top of those the
	// extension's manifest requests.
	Grants map[string][]string `koanf:"grants"`
}

// Default returns the configuration used when neither file nor flags say
// otherwise.
func Default() Config {
	dir, err := xdg.ExtensionsDir()
	if err != nil {
		dir = "extensions"
	}
	return Config{
		ExtensionsDir: dir,
		LogFormat:     logging.FormatText,
		LogLevel:      "info",
	}
}

// RegisterFlags adds the configuration flags to fs, with defaults from
// Default.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String(FlagConfig, "", "configuration file (default $XDG_CONFIG_HOME/shelf/config.yaml)")
	fs.String(FlagExtensionsDir, def.ExtensionsDir, "directory scanned for extensions")
	fs.String(FlagBaseDir, def.BaseDir, "directory overriding files of the base environment")
	fs.String(FlagLogFormat, def.LogFormat, "log format (json, text)")
	fs.String(FlagLogLevel, def.LogLevel, "log level (debug, info, warn, error)")
	fs.String(FlagMetricsAddr, def.MetricsAddr, "observability server address, empty to disable")
}

// Load builds the configuration. The file named by the --config flag must
// exist; when the flag is unset the default path is read if present.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, explicit := configPath(flags)
	if path != "" && (explicit || exists(path)) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "read config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "read flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode config")
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func configPath(flags *pflag.FlagSet) (string, bool) {
	if flags != nil {
		if p, err := flags.GetString(FlagConfig); err == nil && p != "" {
			return p, true
		}
	}
	if p := os.Getenv("SHELF_CONFIG"); p != "" {
		return p, true
	}
	p, err := xdg.ConfigPath()
	if err != nil {
		return "", false
	}
	return p, false
}

// Validate checks the configuration for values the shell cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ExtensionsDir) == "" {
		errs = append(errs, errors.New("extensions-dir must not be empty"))
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatText:
	default:
		errs = append(errs, oops.Errorf("log-format must be %q or %q, got %q", logging.FormatJSON, logging.FormatText, c.LogFormat))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, oops.Errorf("log-level %q is not a level", c.LogLevel))
	}

	probe := capability.NewEnforcer()
	for id, patterns := range c.Grants {
		if err := extension.ValidateID(id); err != nil {
			errs = append(errs, oops.With("extension", id).Wrapf(err, "grants"))
			continue
		}
		if err := probe.SetGrants(id, patterns); err != nil {
			errs = append(errs, oops.With("extension", id).Wrapf(err, "grants for %s", id))
		}
	}

	if len(errs) > 0 {
		return oops.In("config").Wrapf(errors.Join(errs...), "invalid configuration")
	}
	return nil
}
