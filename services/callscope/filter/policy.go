// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter decides which traced invocations are recorded.
package filter

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AleutianAI/callscope/services/callscope/config"
)

// Decision is the outcome of filtering one invocation.
type Decision int

const (
	// Include records the invocation.
	Include Decision = iota

	// AdmitExternal records the single permitted boundary crossing.
	AdmitExternal

	// SkipSynthetic rejects generated or synthetic locations.
	SkipSynthetic

	// SkipSelf rejects the tracer's own implementation.
	SkipSelf

	// SkipExternal rejects locations outside the project boundary.
	SkipExternal

	// SkipRuntime rejects the Go installation when no boundary is set.
	SkipRuntime

	// SkipBuild rejects build tool internals when no boundary is set.
	SkipBuild

	// SkipLoader rejects module-loader and runtime internals when no boundary is set.
	SkipLoader
)

// Skip reports whether the decision rejects the invocation.
func (d Decision) Skip() bool {
	return d >= SkipSynthetic
}

// String returns the metric label for the decision.
func (d Decision) String() string {
	switch d {
	case Include:
		return "include"
	case AdmitExternal:
		return "admit_external"
	case SkipSynthetic:
		return "skip_synthetic"
	case SkipSelf:
		return "skip_self"
	case SkipExternal:
		return "skip_external"
	case SkipRuntime:
		return "skip_runtime"
	case SkipBuild:
		return "skip_build"
	case SkipLoader:
		return "skip_loader"
	default:
		return "unknown"
	}
}

// Policy is the filter policy for one tracer.
//
// Description:
//
//	Rules are applied in order: synthetic locations, the tracer's own
//	files, then either the project boundary (when configured) or the
//	runtime, build-system, and loader rules. With a boundary, one external
//	invocation called directly from inside the boundary is admitted per
//	session; every later external invocation is skipped.
//
// Thread Safety: Safe for concurrent use. The admission flag is guarded by a mutex.
type Policy struct {
	root       string
	modulePath string

	syntheticMarkers []string
	runtimePrefixes  []string
	buildMarkers     []string
	loaderPrefixes   []string
	selfPaths        []string

	mu               sync.Mutex
	externalAdmitted bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithProjectRoot sets the boundary directory. Empty disables the boundary.
func WithProjectRoot(root string) Option {
	return func(p *Policy) {
		if root == "" {
			p.root = ""
			return
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		p.root = filepath.Clean(root)
	}
}

// WithModulePath adds a module path to the boundary. Binaries built with
// -trimpath report files as <module path>/<relative path>.
func WithModulePath(mod string) Option {
	return func(p *Policy) {
		p.modulePath = strings.TrimSuffix(mod, "/")
	}
}

// WithRules replaces the rule lists with the configured ones.
func WithRules(cfg config.FilterConfig) Option {
	return func(p *Policy) {
		p.syntheticMarkers = cfg.SyntheticMarkers
		p.runtimePrefixes = expandPrefixes(cfg.RuntimePathPrefixes)
		p.buildMarkers = cfg.BuildSystemMarkers
		p.loaderPrefixes = cfg.LoaderSymbolPrefixes
		p.selfPaths = append(p.selfPaths, cleanPaths(cfg.SelfPaths)...)
	}
}

// WithSelfPaths adds files or directories treated as tracer implementation.
func WithSelfPaths(paths ...string) Option {
	return func(p *Policy) {
		p.selfPaths = append(p.selfPaths, cleanPaths(paths)...)
	}
}

// NewPolicy creates a Policy with the default rules and no boundary.
//
// Description:
//
//	Default rules come from the embedded configuration. Options are applied
//	in order, so WithRules followed by WithSelfPaths keeps both self path
//	lists.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{}
	WithRules(config.Default().Filter)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromConfig creates a Policy from a loaded configuration.
func FromConfig(cfg *config.Config, extra ...Option) *Policy {
	opts := []Option{
		WithRules(cfg.Filter),
		WithProjectRoot(cfg.ProjectRoot),
		WithModulePath(cfg.ModulePath),
	}
	return NewPolicy(append(opts, extra...)...)
}

// HasBoundary reports whether a project boundary is configured.
func (p *Policy) HasBoundary() bool {
	return p.root != "" || p.modulePath != ""
}

// Reset clears the admission flag. Called at the start of every session.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.externalAdmitted = false
	p.mu.Unlock()
}

// ExternalAdmitted reports whether the boundary crossing was used.
func (p *Policy) ExternalAdmitted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.externalAdmitted
}

// InBoundary reports whether a file is inside the project boundary.
// Every file is inside when no boundary is configured.
func (p *Policy) InBoundary(file string) bool {
	if !p.HasBoundary() {
		return true
	}
	if p.root != "" && filepath.IsAbs(file) && within(p.root, file) {
		return true
	}
	if p.modulePath != "" {
		slashed := filepath.ToSlash(file)
		if slashed == p.modulePath || strings.HasPrefix(slashed, p.modulePath+"/") {
			return true
		}
	}
	return false
}

// Decide classifies one invocation.
//
// Description:
//
//	callerInBoundary describes the frame on top of the shadow stack at the
//	time of the call, whether or not that frame was itself recorded. An
//	empty stack counts as inside.
//
// Inputs:
//
//	file - Source file of the invoked function.
//	symbol - Runtime symbol of the invoked function. May be empty.
//	callerInBoundary - Whether the caller's location is inside the boundary.
//
// Outputs:
//
//	Decision - Include, AdmitExternal, or one of the Skip decisions.
//
// Thread Safety: Safe for concurrent use. At most one call per session
// returns AdmitExternal.
func (p *Policy) Decide(file, symbol string, callerInBoundary bool) Decision {
	if p.isSynthetic(file) {
		return SkipSynthetic
	}
	if p.isSelf(file) {
		return SkipSelf
	}

	if p.HasBoundary() {
		if p.InBoundary(file) {
			return Include
		}
		if !callerInBoundary {
			return SkipExternal
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.externalAdmitted {
			return SkipExternal
		}
		p.externalAdmitted = true
		return AdmitExternal
	}

	for _, prefix := range p.runtimePrefixes {
		if prefix != "" && within(prefix, file) {
			return SkipRuntime
		}
	}
	slashed := filepath.ToSlash(file)
	for _, marker := range p.buildMarkers {
		if marker != "" && strings.Contains(slashed, marker) {
			return SkipBuild
		}
	}
	for _, prefix := range p.loaderPrefixes {
		if prefix != "" && strings.HasPrefix(symbol, prefix) {
			return SkipLoader
		}
	}
	return Include
}

func (p *Policy) isSynthetic(file string) bool {
	if file == "" {
		return true
	}
	for _, marker := range p.syntheticMarkers {
		if marker != "" && strings.Contains(file, marker) {
			return true
		}
	}
	return false
}

// isSelf matches tracer implementation files. Test files inside those
// directories are not tracer implementation and stay traceable.
func (p *Policy) isSelf(file string) bool {
	if strings.HasSuffix(file, "_test.go") {
		return false
	}
	clean := filepath.Clean(file)
	for _, self := range p.selfPaths {
		if clean == self || filepath.Dir(clean) == self {
			return true
		}
	}
	return false
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func expandPrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		expanded := os.Expand(prefix, func(key string) string {
			if key == "GOROOT" {
				return build.Default.GOROOT
			}
			return os.Getenv(key)
		})
		if expanded == "" {
			continue
		}
		out = append(out, filepath.Clean(expanded))
	}
	return out
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if path != "" {
			out = append(out, filepath.Clean(path))
		}
	}
	return out
}
