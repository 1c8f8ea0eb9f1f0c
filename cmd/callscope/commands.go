// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/telemetry"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	projectRoot     string
	debugLogging    bool
	gcsCredentials  string
	telemetryOff    bool
	cfg             *config.Config
	shutdownTracing func(context.Context) error
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "callscope",
		Short: "Trace a program's calls and build its call graph",
		Long: `callscope runs an instrumented Go program inside a trace session,
scans the project's declared types and methods, and writes a call graph of
which members were exercised and which members invoked which.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	root.PersistentFlags().StringVar(&projectRoot, "project-root", ".",
		"Project directory: the tracing boundary and the tree to scan")
	root.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&gcsCredentials, "gcs-credentials", "",
		"Service account key file for gs:// outputs (default: application default credentials)")
	root.PersistentFlags().BoolVar(&telemetryOff, "no-telemetry", false, "Do not install otel exporters")

	root.AddCommand(newTraceCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newDiffCmd())
	return root
}

// setup installs logging and telemetry and loads the project configuration.
func setup(cmd *cobra.Command, _ []string) error {
	slog.SetDefault(newLogger(os.Stderr, debugLogging))

	loaded, err := config.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	if telemetryOff {
		return nil
	}
	shutdown, err := telemetry.Init(cmd.Context(), telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	shutdownTracing = shutdown
	return nil
}

// newLogger returns a text logger for terminals and a JSON logger otherwise.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore opens the graph store at location, or the configured output
// when location is empty.
func openStore(ctx context.Context, location string) (graph.Store, error) {
	if location == "" {
		location = cfg.OutputLocation()
	}
	var opts []option.ClientOption
	if gcsCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(gcsCredentials))
	}
	return graph.OpenStore(ctx, location, opts...)
}

// openSnapshots opens the project's snapshot database.
func openSnapshots() (*graph.SnapshotManager, func(), error) {
	dir := cfg.StoreDir()
	if dir == "" {
		return nil, nil, fmt.Errorf("no snapshot directory configured")
	}
	db, err := graph.OpenSnapshotDB(dir)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := graph.NewSnapshotManager(db, slog.Default())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return mgr, func() {
		if err := db.Close(); err != nil {
			slog.Warn("closing snapshot db", slog.String("error", err.Error()))
		}
	}, nil
}
