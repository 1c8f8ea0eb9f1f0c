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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for structure scanning.
var (
	tracer = otel.Tracer("callscope.ast")
	meter  = otel.Meter("callscope.ast")
)

// Metrics for parse and scan operations.
var (
	parseLatency   metric.Float64Histogram
	parseTotal     metric.Int64Counter
	typesExtracted metric.Int64Histogram
	scanFiles      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"callscope_parse_duration_seconds",
			metric.WithDescription("Duration of structure parse operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"callscope_parse_total",
			metric.WithDescription("Total number of parse operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		typesExtracted, err = meter.Int64Histogram(
			"callscope_types_extracted",
			metric.WithDescription("Number of type declarations extracted per parse"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scanFiles, err = meter.Int64Counter(
			"callscope_scan_files_total",
			metric.WithDescription("Files visited by structure scans, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParseMetrics records metrics for a parse operation.
//
// Parameters:
//   - ctx: Context for metric recording
//   - language: Language being parsed (e.g., "go", "python")
//   - duration: How long the parse took
//   - typeCount: Number of type declarations extracted
//   - success: Whether the parse succeeded
func recordParseMetrics(ctx context.Context, language string, duration time.Duration, typeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)

	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	if success {
		typesExtracted.Record(ctx, int64(typeCount),
			metric.WithAttributes(attribute.String("language", language)),
		)
	}
}

// recordScanMetrics records per-outcome file counts for one scan.
func recordScanMetrics(ctx context.Context, stats ScanStats) {
	if err := initMetrics(); err != nil {
		return
	}
	for outcome, n := range map[string]int{
		"parsed":  stats.FilesParsed,
		"failed":  stats.FilesFailed,
		"skipped": stats.FilesSkipped,
	} {
		if n > 0 {
			scanFiles.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
}

// startParseSpan creates a span for a parse operation.
//
// Returns:
//   - ctx: Context with span
//   - span: The created span (caller must call span.End())
func startParseSpan(ctx context.Context, language, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Parser.Parse",
		trace.WithAttributes(
			attribute.String("ast.language", language),
			attribute.String("ast.file", filePath),
			attribute.Int("ast.content_size", contentSize),
		),
	)
}

// setParseSpanResult sets the result attributes on a parse span.
func setParseSpanResult(span trace.Span, typeCount int, methodCount int) {
	span.SetAttributes(
		attribute.Int("ast.type_count", typeCount),
		attribute.Int("ast.method_count", methodCount),
	)
}
