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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscope/services/callscope"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/runner"
)

// =============================================================================
// TRACE COMMAND
// =============================================================================

type traceOptions struct {
	output        string
	symbol        string
	snapshot      bool
	pseudoTypes   bool
	jsonOutput    bool
	neo4jURI      string
	neo4jUser     string
	neo4jPassword string
}

func newTraceCmd() *cobra.Command {
	opts := &traceOptions{}
	cmd := &cobra.Command{
		Use:   "trace <plugin.so>",
		Short: "Run a program inside a trace session and write its call graph",
		Long: `Loads a Go plugin built with -buildmode=plugin, runs its entry symbol
inside a trace session, scans the project root, and writes the call graph.

A program that returns an error or panics still produces a graph from the
calls recorded before the failure; the command then exits with status 3.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "",
		"Graph location: a file path or gs://bucket/object (default from config)")
	cmd.Flags().StringVar(&opts.symbol, "symbol", runner.DefaultEntrySymbol, "Entry symbol exported by the plugin")
	cmd.Flags().BoolVar(&opts.snapshot, "snapshot", false, "Also save a snapshot for later diffs")
	cmd.Flags().BoolVar(&opts.pseudoTypes, "module-pseudo-types", false,
		"Attribute calls from package-level functions to a per-file pseudo type")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the run summary as JSON")
	cmd.Flags().StringVar(&opts.neo4jURI, "neo4j-uri", "", "Also export the graph to Neo4j (bolt://host:7687)")
	cmd.Flags().StringVar(&opts.neo4jUser, "neo4j-user", "neo4j", "Neo4j user")
	cmd.Flags().StringVar(&opts.neo4jPassword, "neo4j-password", os.Getenv("NEO4J_PASSWORD"),
		"Neo4j password (default $NEO4J_PASSWORD)")
	return cmd
}

func runTrace(cmd *cobra.Command, path string, opts *traceOptions) error {
	ctx := cmd.Context()
	if opts.pseudoTypes {
		cfg.Graph.TrackModulePseudoTypes = true
	}

	store, err := openStore(ctx, opts.output)
	if err != nil {
		return err
	}
	defer store.Close()

	svcOpts := []callscope.ServiceOption{callscope.WithLogger(slog.Default())}
	if opts.snapshot {
		mgr, closeDB, err := openSnapshots()
		if err != nil {
			return err
		}
		defer closeDB()
		svcOpts = append(svcOpts, callscope.WithSnapshots(mgr))
	}

	svc, err := callscope.NewService(cfg, runner.PluginLoader{Symbol: opts.symbol}, path, store, svcOpts...)
	if err != nil {
		return err
	}

	rep, err := svc.Generate(ctx)
	if rep == nil {
		return err
	}

	if opts.neo4jURI != "" {
		if err := exportNeo4j(cmd, rep.Graph, opts); err != nil {
			return err
		}
	}

	summary := summarize(rep, store.Location())
	if opts.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		renderSummary(cmd.OutOrStdout(), summary)
	}

	if rep.RunErr != nil {
		return &subjectError{err: rep.RunErr}
	}
	return nil
}

func exportNeo4j(cmd *cobra.Command, g *graph.Graph, opts *traceOptions) error {
	exporter, err := graph.NewNeo4jExporter(opts.neo4jURI, opts.neo4jUser, opts.neo4jPassword, slog.Default())
	if err != nil {
		return err
	}
	defer exporter.Close(cmd.Context())
	return exporter.Export(cmd.Context(), g)
}
