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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/callscope/services/callscope"
	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/graph"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorDeep    = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Label:   lipgloss.NewStyle().Width(18).Foreground(colorDeep),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDeep).
		Padding(0, 1),
}

// runSummary is what trace prints after a run.
type runSummary struct {
	Origin           string `json:"origin"`
	SessionID        string `json:"session_id"`
	Location         string `json:"location"`
	Events           int    `json:"events"`
	Skipped          int    `json:"skipped"`
	MaxDepth         int    `json:"max_depth"`
	Types            int    `json:"types"`
	Members          int    `json:"members"`
	ExercisedMembers int    `json:"exercised_members"`
	Invocations      int    `json:"invocations"`
	FilesParsed      int    `json:"files_parsed"`
	FilesFailed      int    `json:"files_failed"`
	SnapshotID       string `json:"snapshot_id,omitempty"`
	RunError         string `json:"run_error,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

func summarize(rep *callscope.Report, location string) runSummary {
	s := runSummary{
		Origin:      rep.Run.Origin,
		SessionID:   rep.Run.SessionID,
		Location:    location,
		Events:      len(rep.Run.Events),
		Skipped:     rep.Run.Stats.Skipped,
		MaxDepth:    rep.Run.Stats.MaxDepth,
		Invocations: len(rep.Graph.LinksOf(graph.LinkKindInvokes)),
		FilesParsed: rep.Scan.FilesParsed,
		FilesFailed: rep.Scan.FilesFailed,
		DurationMs:  rep.Run.Duration.Milliseconds(),
	}
	for _, n := range rep.Graph.Nodes {
		if n.Kind == graph.NodeKindMember {
			s.Members++
			if n.WasExercised {
				s.ExercisedMembers++
			}
			continue
		}
		s.Types++
	}
	if rep.Snapshot != nil {
		s.SnapshotID = rep.Snapshot.SnapshotID
	}
	if rep.RunErr != nil {
		s.RunError = rep.RunErr.Error()
	}
	return s
}

func renderSummary(w io.Writer, s runSummary) {
	row := func(label, value string) string {
		return styles.Label.Render(label) + value
	}

	lines := []string{
		styles.Title.Render("callscope trace"),
		row("origin", s.Origin),
		row("session", s.SessionID),
		row("graph", s.Location),
		row("events", fmt.Sprintf("%d recorded, %d skipped, max depth %d", s.Events, s.Skipped, s.MaxDepth)),
		row("nodes", fmt.Sprintf("%d types, %d members (%d exercised)", s.Types, s.Members, s.ExercisedMembers)),
		row("invocations", fmt.Sprintf("%d", s.Invocations)),
		row("files", fmt.Sprintf("%d parsed, %d failed", s.FilesParsed, s.FilesFailed)),
	}
	if s.SnapshotID != "" {
		lines = append(lines, row("snapshot", s.SnapshotID))
	}
	if s.RunError != "" {
		lines = append(lines, row("program error", styles.Warning.Render(s.RunError)))
	}
	lines = append(lines, styles.Muted.Render(fmt.Sprintf("%d ms", s.DurationMs)))

	fmt.Fprintln(w, styles.Box.Render(strings.Join(lines, "\n")))
}

func renderInventory(w io.Writer, inv ast.TypeInventory, stats ast.ScanStats) {
	fmt.Fprintln(w, styles.Title.Render(fmt.Sprintf("%d types, %d members", len(inv), inv.MemberCount())))
	for _, t := range inv.Types() {
		members := inv.Members(t)
		fmt.Fprintf(w, "%s %s\n", styles.Label.Render(t), styles.Muted.Render(strings.Join(members, ", ")))
	}
	fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%d files parsed, %d failed, %d skipped",
		stats.FilesParsed, stats.FilesFailed, stats.FilesSkipped)))
	for _, f := range stats.Failures {
		fmt.Fprintln(w, styles.Warning.Render("  could not parse "+f))
	}
}

func renderDiff(w io.Writer, d *graph.GraphDiff) {
	fmt.Fprintln(w, styles.Title.Render(fmt.Sprintf("%s → %s", d.BaseID, d.TargetID)))
	if d.Empty() {
		fmt.Fprintln(w, styles.Muted.Render("no changes"))
		return
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintln(w, styles.Label.Render(title))
		for _, item := range items {
			fmt.Fprintln(w, "  "+item)
		}
	}
	section("nodes added", d.NodesAdded)
	section("nodes removed", d.NodesRemoved)
	modified := make([]string, len(d.NodesModified))
	for i, nd := range d.NodesModified {
		modified[i] = nd.NodeID + " " + styles.Muted.Render(nd.ChangeType)
	}
	section("nodes modified", modified)
	section("calls added", d.InvocationsAdded)
	section("calls removed", d.InvocationsRemoved)
	fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%d changes, exercised %+d",
		d.Summary.TotalChanges, d.Summary.ExercisedDelta)))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
