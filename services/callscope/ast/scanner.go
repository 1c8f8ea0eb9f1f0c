// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/resolve"
)

// ScanStats summarizes one scan.
type ScanStats struct {
	FilesParsed  int           `json:"files_parsed"`
	FilesFailed  int           `json:"files_failed"`
	FilesSkipped int           `json:"files_skipped"`
	Failures     []string      `json:"failures,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Scanner builds a TypeInventory from a source tree.
//
// Description:
//
//	Walks the tree, skipping configured build-artifact directories and
//	re-export or initializer files, and parses every file with a registered
//	extension. Files are parsed concurrently and merged in walk order. A
//	file that fails to parse is logged and left out; the scan continues.
//
// Thread Safety: Safe for concurrent use. Scan holds no state between calls.
type Scanner struct {
	registry     *ParserRegistry
	skipDirs     map[string]struct{}
	skipFiles    map[string]struct{}
	includeTests bool
	workers      int
	logger       *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithRegistry sets the parser registry.
func WithRegistry(r *ParserRegistry) ScannerOption {
	return func(s *Scanner) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithScannerLogger sets the logger.
func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner from scanner configuration.
//
// Description:
//
//	Registers parsers for cfg.Languages with cfg.MaxFileSize and the given
//	member visibility rule. A nil visibility uses resolve.DefaultVisibility.
//
// Inputs:
//
//	cfg - Scanner configuration, usually config.Default().Scanner.
//	visible - Member visibility rule. May be nil.
//	opts - Optional overrides.
//
// Outputs:
//
//	*Scanner - Never nil.
func NewScanner(cfg config.ScannerConfig, visible resolve.Visibility, opts ...ScannerOption) *Scanner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	s := &Scanner{
		registry: DefaultRegistry(cfg.Languages,
			WithMaxFileSize(cfg.MaxFileSize),
			WithMemberVisibility(visible),
		),
		skipDirs:     toSet(cfg.SkipDirs),
		skipFiles:    toSet(cfg.SkipFiles),
		includeTests: cfg.IncludeTests,
		workers:      workers,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scanJob struct {
	path string
	rel  string
	ext  string
}

// Scan builds the inventory for a directory tree.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	root - Directory to scan.
//
// Outputs:
//
//	TypeInventory - Declared types and members from every parsed file.
//	ScanStats - Per-outcome file counts and the failed files.
//	error - Non-nil only if root is not a readable directory or ctx is done.
//
// Thread Safety: Safe for concurrent use.
func (s *Scanner) Scan(ctx context.Context, root string) (TypeInventory, ScanStats, error) {
	ctx, span := tracer.Start(ctx, "Scanner.Scan")
	defer span.End()
	start := time.Now()

	var stats ScanStats
	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, fmt.Errorf("scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("scan root %s: not a directory", root)
	}

	jobs, skipped, err := s.collect(ctx, root)
	if err != nil {
		return nil, stats, err
	}
	stats.FilesSkipped = skipped

	results := make([]*ParseResult, len(jobs))
	failures := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], failures[i] = s.parseFile(gctx, job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, fmt.Errorf("scan canceled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("scan canceled: %w", err)
	}

	inv := NewTypeInventory()
	for i, res := range results {
		if failures[i] != nil {
			stats.FilesFailed++
			stats.Failures = append(stats.Failures, jobs[i].rel)
			s.logger.Warn("skipping file that failed to parse",
				slog.String("file", jobs[i].rel),
				slog.String("error", failures[i].Error()),
			)
			continue
		}
		stats.FilesParsed++
		inv.Merge(res.Inventory())
	}
	stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("scan.root", root),
		attribute.Int("scan.files_parsed", stats.FilesParsed),
		attribute.Int("scan.files_failed", stats.FilesFailed),
		attribute.Int("scan.types", len(inv)),
	)
	recordScanMetrics(ctx, stats)
	s.logger.Info("structure scan complete",
		slog.String("root", root),
		slog.Int("files_parsed", stats.FilesParsed),
		slog.Int("files_failed", stats.FilesFailed),
		slog.Int("types", len(inv)),
		slog.Int("members", inv.MemberCount()),
		slog.Duration("duration", stats.Duration),
	)
	return inv, stats, nil
}

// collect walks the tree and returns the files to parse in walk order.
func (s *Scanner) collect(ctx context.Context, root string) ([]scanJob, int, error) {
	var jobs []scanJob
	skipped := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Debug("walk error", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		name := d.Name()
		if d.IsDir() {
			if path != root {
				if _, skip := s.skipDirs[name]; skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		ext := filepath.Ext(name)
		if _, ok := s.registry.GetByExtension(ext); !ok {
			return nil
		}
		if s.skipFile(name) {
			skipped++
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		jobs = append(jobs, scanJob{path: path, rel: filepath.ToSlash(rel), ext: ext})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walking %s: %w", root, err)
	}
	return jobs, skipped, nil
}

// skipFile reports whether a file is a re-export/initializer file or a Go
// test file that was not requested.
func (s *Scanner) skipFile(name string) bool {
	if _, ok := s.skipFiles[name]; ok {
		return true
	}
	return !s.includeTests && strings.HasSuffix(name, "_test.go")
}

func (s *Scanner) parseFile(ctx context.Context, job scanJob) (*ParseResult, error) {
	parser, ok := s.registry.GetByExtension(job.ext)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, job.ext)
	}
	content, err := os.ReadFile(job.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", job.rel, err)
	}
	return parser.Parse(ctx, content, job.rel)
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
