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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/callscope/services/callscope"
	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/runner"
	"github.com/AleutianAI/callscope/services/callscope/telemetry"
)

// =============================================================================
// SERVE COMMAND
// =============================================================================

type serveOptions struct {
	port   int
	symbol string
	output string
	watch  bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve <plugin.so>",
		Short: "Serve the call graph over HTTP",
		Long: `Serves the stored call graph at GET /v1/callscope/graph, tracing the plugin
when no graph is stored yet. Snapshots, diffs and the static inventory are
served under /v1/callscope as well. With --watch, editing a source file
drops the stored graph so the next request regenerates it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on (default from config)")
	cmd.Flags().StringVar(&opts.symbol, "symbol", runner.DefaultEntrySymbol, "Entry symbol exported by the plugin")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Graph location (default from config)")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "Invalidate the stored graph when sources change")
	return cmd
}

func runServe(cmd *cobra.Command, path string, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if debugLogging {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	store, err := openStore(ctx, opts.output)
	if err != nil {
		return err
	}
	defer store.Close()

	svcOpts := []callscope.ServiceOption{callscope.WithLogger(slog.Default())}
	if mgr, closeDB, err := openSnapshots(); err != nil {
		slog.Warn("snapshots unavailable", slog.String("error", err.Error()))
	} else {
		defer closeDB()
		svcOpts = append(svcOpts, callscope.WithSnapshots(mgr))
	}

	svc, err := callscope.NewService(cfg, runner.PluginLoader{Symbol: opts.symbol}, path, store, svcOpts...)
	if err != nil {
		return err
	}

	if opts.watch && cfg.ProjectRoot != "" {
		exts := ast.DefaultRegistry(cfg.Scanner.Languages).Extensions()
		watcher, err := callscope.NewFileWatcher(cfg.ProjectRoot, cfg.Scanner.SkipDirs, exts, 0,
			callscope.InvalidateOnChange(svc), slog.Default())
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	port := opts.port
	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           callscope.NewRouter(svc, telemetry.MetricsHandler(), debugLogging),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting callscope server", slog.String("address", srv.Addr), slog.String("entry", path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down callscope server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
