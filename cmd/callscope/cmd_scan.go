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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/resolve"
)

// =============================================================================
// SCAN COMMAND
// =============================================================================

func newScanCmd() *cobra.Command {
	var jsonOutput, includeTests bool
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "List the types and members declared in a project",
		Long: `Parses every Go and Python file under the project root and prints the
declared types with their visible members. Files that fail to parse are
reported and skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanCfg := cfg
			if len(args) == 1 {
				loaded, err := config.Load(args[0])
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				scanCfg = loaded
			}
			if includeTests {
				scanCfg.Scanner.IncludeTests = true
			}

			visible := resolve.NewResolver(resolve.WithExcludedTypes(scanCfg.Resolver.ExcludedTypes)).Visible
			scanner := ast.NewScanner(scanCfg.Scanner, visible, ast.WithScannerLogger(slog.Default()))
			inv, stats, err := scanner.Scan(cmd.Context(), scanCfg.ProjectRoot)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), inv)
			}
			renderInventory(cmd.OutOrStdout(), inv, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the inventory as JSON")
	cmd.Flags().BoolVar(&includeTests, "include-tests", false, "Also parse Go _test.go files")
	return cmd
}
