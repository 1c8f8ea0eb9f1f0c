// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads callscope configuration from embedded defaults and an
// optional callscope.yaml in the project root.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultConfigYAML []byte

// FileName is the project-level override file read from the project root.
const FileName = "callscope.yaml"

// MaxYAMLFileSize bounds the size of a config file.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full callscope configuration.
//
// Description:
//
//	Built from the embedded defaults, overlaid with <projectRoot>/callscope.yaml
//	when present. Slices in the override replace the default slice entirely.
//
// Thread Safety: Immutable after loading; safe for concurrent reads.
type Config struct {
	// ProjectRoot is the absolute project boundary. Empty disables the boundary.
	ProjectRoot string `yaml:"project_root"`

	// ModulePath is the Go module path of the project. Read from go.mod when empty.
	ModulePath string `yaml:"module_path"`

	Filter   FilterConfig   `yaml:"filter"`
	Resolver ResolverConfig `yaml:"resolver"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Graph    GraphConfig    `yaml:"graph"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
}

// FilterConfig holds the rule lists used by the filter policy.
type FilterConfig struct {
	// SyntheticMarkers identify generated or synthetic source locations.
	SyntheticMarkers []string `yaml:"synthetic_markers"`

	// RuntimePathPrefixes identify the Go installation. Only consulted when
	// no project boundary is configured. "$GOROOT" is expanded at policy build.
	RuntimePathPrefixes []string `yaml:"runtime_path_prefixes"`

	// BuildSystemMarkers identify build tool internals.
	BuildSystemMarkers []string `yaml:"build_system_markers"`

	// LoaderSymbolPrefixes are function symbol prefixes of loader and runtime internals.
	LoaderSymbolPrefixes []string `yaml:"loader_symbol_prefixes"`

	// SelfPaths lists extra files or directories treated as tracer implementation.
	SelfPaths []string `yaml:"self_paths"`
}

// ResolverConfig holds the owner attribution rules.
type ResolverConfig struct {
	// ExcludedTypes is the denylist of infrastructure type names.
	ExcludedTypes []string `yaml:"excluded_types" validate:"dive,required"`
}

// ScannerConfig controls the static structure scan.
type ScannerConfig struct {
	// Languages enables parsers by language name.
	Languages []string `yaml:"languages" validate:"min=1,dive,oneof=go python"`

	// SkipDirs are directory base names never descended into.
	SkipDirs []string `yaml:"skip_dirs"`

	// SkipFiles are file base names never parsed.
	SkipFiles []string `yaml:"skip_files"`

	// IncludeTests parses Go _test.go files when true.
	IncludeTests bool `yaml:"include_tests"`

	// MaxFileSize is the largest file the scanner reads, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gt=0"`

	// Workers bounds concurrent parses.
	Workers int `yaml:"workers" validate:"gte=1,lte=256"`
}

// GraphConfig controls graph synthesis.
type GraphConfig struct {
	// TrackModulePseudoTypes attributes unbound callers to a per-file pseudo type.
	TrackModulePseudoTypes bool `yaml:"track_module_pseudo_types"`
}

// StoreConfig controls where graphs are persisted.
type StoreConfig struct {
	// Dir is the badger snapshot directory, relative to the project root when not absolute.
	Dir string `yaml:"dir"`

	// Output is the default persisted graph location. gs:// URIs write to Cloud Storage.
	Output string `yaml:"output"`
}

// ServerConfig controls the read endpoint server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// RegeneratePerMinute limits pipeline regenerations triggered over HTTP.
	RegeneratePerMinute int `yaml:"regenerate_per_minute" validate:"gte=0"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Default returns the embedded default configuration.
//
// Description:
//
//	Parses the embedded defaults.yaml. The embedded file is part of the
//	binary, so a failure here is a programming error and panics.
//
// Outputs:
//
//	*Config - A fresh copy the caller may modify.
func Default() *Config {
	cfg, err := Parse(defaultConfigYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Parse decodes YAML bytes over a base configuration and validates the result.
//
// Inputs:
//
//	data - Raw YAML bytes.
//	base - Configuration to overlay. A nil base starts from a zero Config.
//
// Outputs:
//
//	*Config - The merged configuration. base is not modified.
//	error - Non-nil if the data is oversized, malformed, or fails validation.
func Parse(data []byte, base *Config) (*Config, error) {
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("config: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg Config
	if base != nil {
		cfg = base.clone()
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}
	if err := getValidator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

// Load builds the configuration for a project.
//
// Description:
//
//	Starts from the embedded defaults, overlays <projectRoot>/callscope.yaml
//	when it exists, sets ProjectRoot to the absolute root, and reads the
//	module path from go.mod when the config does not name one. A missing
//	config file or go.mod is not an error.
//
// Inputs:
//
//	projectRoot - Project directory. May be empty, which disables the boundary.
//
// Outputs:
//
//	*Config - The loaded configuration.
//	error - Non-nil only if a present file cannot be read or parsed.
//
// Thread Safety: Safe for concurrent use (stateless function).
func Load(projectRoot string) (*Config, error) {
	cfg := Default()
	if projectRoot == "" {
		return cfg, nil
	}

	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolving project root: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(abs, FileName))
	switch {
	case err == nil:
		cfg, err = Parse(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", FileName, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config: reading %s: %w", FileName, err)
	}

	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = abs
	} else if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(abs, cfg.ProjectRoot)
	}

	if cfg.ModulePath == "" {
		mod, err := ModulePath(cfg.ProjectRoot)
		if err != nil {
			return nil, err
		}
		cfg.ModulePath = mod
	}

	slog.Debug("callscope config loaded",
		slog.String("project_root", cfg.ProjectRoot),
		slog.String("module_path", cfg.ModulePath),
		slog.Int("excluded_types", len(cfg.Resolver.ExcludedTypes)),
	)
	return cfg, nil
}

// ModulePath reads the module path from <root>/go.mod.
//
// Outputs:
//
//	string - The module path, or "" when root has no go.mod.
//	error - Non-nil if go.mod exists but cannot be read or parsed.
func ModulePath(root string) (string, error) {
	path := filepath.Join(root, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading go.mod: %w", err)
	}
	mod := modfile.ModulePath(data)
	if mod == "" {
		return "", fmt.Errorf("config: %s has no module directive", path)
	}
	return mod, nil
}

// StoreDir returns the absolute snapshot directory.
func (c *Config) StoreDir() string {
	if c.Store.Dir == "" || filepath.IsAbs(c.Store.Dir) || c.ProjectRoot == "" {
		return c.Store.Dir
	}
	return filepath.Join(c.ProjectRoot, c.Store.Dir)
}

// OutputLocation returns the persisted graph location. gs:// URIs and
// absolute paths are returned unchanged.
func (c *Config) OutputLocation() string {
	out := c.Store.Output
	if out == "" || strings.HasPrefix(out, "gs://") || filepath.IsAbs(out) || c.ProjectRoot == "" {
		return out
	}
	return filepath.Join(c.ProjectRoot, out)
}

func (c Config) clone() Config {
	out := c
	out.Filter.SyntheticMarkers = cloneStrings(c.Filter.SyntheticMarkers)
	out.Filter.RuntimePathPrefixes = cloneStrings(c.Filter.RuntimePathPrefixes)
	out.Filter.BuildSystemMarkers = cloneStrings(c.Filter.BuildSystemMarkers)
	out.Filter.LoaderSymbolPrefixes = cloneStrings(c.Filter.LoaderSymbolPrefixes)
	out.Filter.SelfPaths = cloneStrings(c.Filter.SelfPaths)
	out.Resolver.ExcludedTypes = cloneStrings(c.Resolver.ExcludedTypes)
	out.Scanner.Languages = cloneStrings(c.Scanner.Languages)
	out.Scanner.SkipDirs = cloneStrings(c.Scanner.SkipDirs)
	out.Scanner.SkipFiles = cloneStrings(c.Scanner.SkipFiles)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
