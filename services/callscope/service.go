// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callscope runs the full pipeline: trace a subject program, scan
// the project's declared structure, synthesize the call graph, and persist
// it. Service is shared by the CLI and the HTTP read endpoints.
package callscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/hook"
	"github.com/AleutianAI/callscope/services/callscope/resolve"
	"github.com/AleutianAI/callscope/services/callscope/runner"
)

// ErrRateLimited is returned when an on-demand regeneration exceeds the
// configured rate.
var ErrRateLimited = errors.New("graph regeneration rate limited")

// ErrSnapshotsDisabled is returned by snapshot operations when the service
// has no snapshot manager.
var ErrSnapshotsDisabled = errors.New("snapshots not configured")

var tracer = otel.Tracer("callscope")

var (
	// pipelineRunsTotal counts pipeline runs by status.
	// Labels: status (ok, partial, failed, rate_limited)
	pipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callscope",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by status",
	}, []string{"status"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "callscope",
		Subsystem: "pipeline",
		Name:      "duration_seconds",
		Help:      "Pipeline run duration",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// Report is the outcome of one pipeline run.
type Report struct {
	Graph *graph.Graph

	// Run is the traced run. Its Events include those recorded before a
	// program error or panic.
	Run *runner.Result

	Scan ast.ScanStats

	// Snapshot is set when a snapshot manager is configured.
	Snapshot *graph.SnapshotMetadata

	// RunErr is the subject program's error or *runner.PanicError. The graph
	// is still synthesized and stored from the partial events.
	RunErr error
}

// Service runs and serves call graphs for one project.
//
// Description:
//
//	Generate always runs the pipeline. Graph serves the stored graph and
//	regenerates it only when the store has none; concurrent regenerations
//	collapse into one run and on-demand runs are rate limited.
//
// Thread Safety: Safe for concurrent use. Only one traced run can be active
// per process; a concurrent Generate from another Service returns
// hook.ErrTraceAlreadyActive.
type Service struct {
	cfg       *config.Config
	loader    runner.Loader
	entry     string
	store     graph.Store
	snapshots *graph.SnapshotManager
	scanner   *ast.Scanner
	logger    *slog.Logger
	limiter   *rate.Limiter
	group     singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSnapshots saves a snapshot after every run.
func WithSnapshots(m *graph.SnapshotManager) ServiceOption {
	return func(s *Service) {
		s.snapshots = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScanner replaces the scanner built from configuration.
func WithScanner(sc *ast.Scanner) ServiceOption {
	return func(s *Service) {
		if sc != nil {
			s.scanner = sc
		}
	}
}

// NewService creates a Service.
//
// Inputs:
//
//	cfg - Loaded configuration. Must not be nil.
//	loader - Resolves entry to a program. Must not be nil.
//	entry - The subject program passed to loader.
//	store - Where the graph is persisted. Must not be nil.
//	opts - Optional settings.
//
// Outputs:
//
//	*Service - The service.
//	error - Non-nil if a required argument is missing.
func NewService(cfg *config.Config, loader runner.Loader, entry string, store graph.Store, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if entry == "" {
		return nil, fmt.Errorf("entry must not be empty")
	}

	s := &Service{
		cfg:     cfg,
		loader:  loader,
		entry:   entry,
		store:   store,
		logger:  slog.Default(),
		limiter: newLimiter(cfg.Server.RegeneratePerMinute),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scanner == nil {
		s.scanner = ast.NewScanner(cfg.Scanner,
			resolve.NewResolver(resolve.WithExcludedTypes(cfg.Resolver.ExcludedTypes)).Visible,
			ast.WithScannerLogger(s.logger),
		)
	}
	return s, nil
}

// newLimiter allows perMinute regenerations per minute. Zero disables the limit.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Entry returns the subject program the service traces.
func (s *Service) Entry() string {
	return s.entry
}

// Snapshots returns the snapshot manager, or nil.
func (s *Service) Snapshots() *graph.SnapshotManager {
	return s.snapshots
}

// Generate runs the pipeline and persists the result.
//
// Description:
//
//	Traces the entry program, scans the project root, synthesizes the
//	graph, saves it to the store, and saves a snapshot when configured.
//	A program error or panic does not stop the pipeline: the graph is
//	built from the partial events and the error is returned together with
//	the report.
//
// Outputs:
//
//	*Report - Non-nil whenever a graph was stored.
//	error - Loader, tracer, scan, or store failure; or the program's error
//	when Report is also non-nil.
func (s *Service) Generate(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Service.Generate")
	defer span.End()
	start := time.Now()

	rep, err := s.generate(ctx)

	status := "ok"
	switch {
	case rep != nil && err != nil:
		status = "partial"
	case err != nil:
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	pipelineRunsTotal.WithLabelValues(status).Inc()
	pipelineDuration.Observe(time.Since(start).Seconds())

	if rep != nil {
		span.SetAttributes(
			attribute.String("pipeline.session_id", rep.Graph.SessionID),
			attribute.Int("pipeline.nodes", rep.Graph.NodeCount()),
			attribute.Int("pipeline.links", rep.Graph.LinkCount()),
		)
	}
	return rep, err
}

func (s *Service) generate(ctx context.Context) (*Report, error) {
	tr := hook.FromConfig(s.cfg, hook.WithLogger(s.logger))
	res, runErr := runner.Run(ctx, tr, s.loader, s.entry)
	if res == nil {
		return nil, fmt.Errorf("tracing %s: %w", s.entry, runErr)
	}
	if errors.Is(runErr, runner.ErrScriptNotFound) || errors.Is(runErr, runner.ErrLoadFailure) {
		return nil, fmt.Errorf("tracing %s: %w", s.entry, runErr)
	}

	var inv ast.TypeInventory
	var stats ast.ScanStats
	if s.cfg.ProjectRoot != "" {
		var err error
		inv, stats, err = s.scanner.Scan(ctx, s.cfg.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", s.cfg.ProjectRoot, err)
		}
	}

	g := graph.Synthesize(res.Events, inv,
		graph.WithModulePseudoTypes(s.cfg.Graph.TrackModulePseudoTypes),
		graph.WithProjectRoot(s.cfg.ProjectRoot),
		graph.WithSessionID(res.SessionID),
	)
	if err := s.store.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("storing graph: %w", err)
	}

	rep := &Report{Graph: g, Run: res, Scan: stats, RunErr: runErr}
	if s.snapshots != nil {
		meta, err := s.snapshots.Save(ctx, g, res.Origin)
		if err != nil {
			s.logger.Warn("snapshot save failed", slog.String("error", err.Error()))
		} else {
			rep.Snapshot = meta
		}
	}

	s.logger.Info("call graph generated",
		slog.String("entry", s.entry),
		slog.String("location", s.store.Location()),
		slog.Int("events", len(res.Events)),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("links", g.LinkCount()),
	)
	if runErr != nil {
		return rep, fmt.Errorf("traced program failed: %w", runErr)
	}
	return rep, nil
}

// Regenerate runs the pipeline on demand.
//
// Description:
//
//	Concurrent callers share one run. Runs beyond the configured rate
//	return ErrRateLimited without tracing.
func (s *Service) Regenerate(ctx context.Context) (*Report, error) {
	v, err, _ := s.group.Do("generate", func() (any, error) {
		if !s.limiter.Allow() {
			pipelineRunsTotal.WithLabelValues("rate_limited").Inc()
			return nil, ErrRateLimited
		}
		rep, err := s.Generate(ctx)
		return rep, err
	})
	rep, _ := v.(*Report)
	return rep, err
}

// Graph returns the stored graph, regenerating it when the store has none.
//
// Outputs:
//
//	*graph.Graph - The graph.
//	error - ErrRateLimited, a pipeline error, or a store error other than
//	graph.ErrGraphNotFound. A failed traced program still yields its graph.
func (s *Service) Graph(ctx context.Context) (*graph.Graph, error) {
	g, err := s.store.Load(ctx)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, graph.ErrGraphNotFound) {
		return nil, fmt.Errorf("loading graph: %w", err)
	}

	rep, err := s.Regenerate(ctx)
	if rep != nil {
		if err != nil {
			s.logger.Warn("serving graph from failed run", slog.String("error", err.Error()))
		}
		return rep.Graph, nil
	}
	return nil, err
}

// Invalidate removes the stored graph so the next Graph call regenerates it.
func (s *Service) Invalidate(ctx context.Context) error {
	if err := s.store.Remove(ctx); err != nil && !errors.Is(err, graph.ErrGraphNotFound) {
		return fmt.Errorf("invalidating graph: %w", err)
	}
	return nil
}

// Inventory scans the project root without tracing.
func (s *Service) Inventory(ctx context.Context) (ast.TypeInventory, ast.ScanStats, error) {
	if s.cfg.ProjectRoot == "" {
		return ast.NewTypeInventory(), ast.ScanStats{}, nil
	}
	return s.scanner.Scan(ctx, s.cfg.ProjectRoot)
}

// Diff compares two snapshots. An empty targetID uses the project's latest
// snapshot.
func (s *Service) Diff(ctx context.Context, baseID, targetID string) (*graph.GraphDiff, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	base, _, err := s.snapshots.Load(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("base snapshot: %w", err)
	}

	var target *graph.Graph
	var meta *graph.SnapshotMetadata
	if targetID == "" {
		target, meta, err = s.snapshots.LoadLatest(ctx, s.cfg.ProjectRoot)
	} else {
		target, meta, err = s.snapshots.Load(ctx, targetID)
	}
	if err != nil {
		return nil, fmt.Errorf("target snapshot: %w", err)
	}
	return graph.DiffGraphs(base, target, baseID, meta.SnapshotID)
}
