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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscope/services/callscope/graph"
)

// =============================================================================
// DIFF COMMAND
// =============================================================================

func newDiffCmd() *cobra.Command {
	var jsonOutput, list bool
	cmd := &cobra.Command{
		Use:   "diff <base-snapshot> [target-snapshot]",
		Short: "Compare two saved snapshots",
		Long: `Compares two snapshots saved with "trace --snapshot". The target defaults
to the project's latest snapshot. With --list, prints the saved snapshots
instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr, closeDB, err := openSnapshots()
			if err != nil {
				return err
			}
			defer closeDB()

			if list {
				snaps, err := mgr.List(ctx, cfg.ProjectRoot, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), snaps)
				}
				for _, s := range snaps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d nodes  %s\n",
						styles.Title.Render(s.SnapshotID), s.Origin, s.NodeCount, styles.Muted.Render(s.Label))
				}
				return nil
			}

			base, _, err := mgr.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("base snapshot: %w", err)
			}
			var target *graph.Graph
			var meta *graph.SnapshotMetadata
			if len(args) == 2 {
				target, meta, err = mgr.Load(ctx, args[1])
			} else {
				target, meta, err = mgr.LoadLatest(ctx, cfg.ProjectRoot)
			}
			if err != nil {
				return fmt.Errorf("target snapshot: %w", err)
			}

			diff, err := graph.DiffGraphs(base, target, args[0], meta.SnapshotID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), diff)
			}
			renderDiff(cmd.OutOrStdout(), diff)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&list, "list", false, "List saved snapshots")
	return cmd
}
