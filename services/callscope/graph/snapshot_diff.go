// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sort"
)

// Change types reported in NodeDiff.
const (
	ChangeNowExercised = "now_exercised"
	ChangeNoLongerUsed = "no_longer_exercised"
	ChangeMemberCount  = "member_count_changed"
	ChangeKind         = "kind_changed"
)

// GraphDiff contains the differences between two graphs.
type GraphDiff struct {
	BaseID   string `json:"base_id"`
	TargetID string `json:"target_id"`

	// NodesAdded are node IDs present in target but not in base.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are node IDs present in base but not in target.
	NodesRemoved []string `json:"nodes_removed"`

	// NodesModified are nodes present in both whose kind, member count, or
	// exercised flag changed.
	NodesModified []NodeDiff `json:"nodes_modified"`

	// InvocationsAdded are invokes links in target but not in base, as
	// "source -> target".
	InvocationsAdded []string `json:"invocations_added"`

	// InvocationsRemoved are invokes links in base but not in target.
	InvocationsRemoved []string `json:"invocations_removed"`

	Summary DiffSummary `json:"summary"`
}

// NodeDiff describes how a single node changed.
type NodeDiff struct {
	NodeID     string `json:"node_id"`
	Name       string `json:"name"`
	ChangeType string `json:"change_type"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges counts added, removed and modified nodes plus added and
	// removed invocations.
	TotalChanges int `json:"total_changes"`

	// ExercisedDelta is the change in the number of exercised members.
	ExercisedDelta int `json:"exercised_delta"`

	// ChangeRatio is the fraction of nodes that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// Empty reports whether the graphs were structurally identical.
func (d *GraphDiff) Empty() bool {
	return d.Summary.TotalChanges == 0
}

// DiffGraphs computes the differences between two graphs.
//
// Description:
//
//	Nodes are compared by ID. Contains links follow from member nodes and
//	are not reported separately. Invokes links are compared by their end
//	points.
//
// Inputs:
//
//	base - The earlier graph. Must not be nil.
//	target - The later graph. Must not be nil.
//	baseID, targetID - Labels copied to the result, usually snapshot IDs.
//
// Outputs:
//
//	*GraphDiff - Sorted, deterministic differences.
//	error - Non-nil if either graph is nil.
//
// Complexity: O(V log V + E log E).
func DiffGraphs(base, target *Graph, baseID, targetID string) (*GraphDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &GraphDiff{
		BaseID:             baseID,
		TargetID:           targetID,
		NodesAdded:         []string{},
		NodesRemoved:       []string{},
		NodesModified:      []NodeDiff{},
		InvocationsAdded:   []string{},
		InvocationsRemoved: []string{},
	}

	baseNodes := indexNodes(base)
	targetNodes := indexNodes(target)

	for id, t := range targetNodes {
		b, ok := baseNodes[id]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, id)
			continue
		}
		if change := classifyChange(b, t); change != "" {
			diff.NodesModified = append(diff.NodesModified, NodeDiff{NodeID: id, Name: t.Name, ChangeType: change})
		}
	}
	for id := range baseNodes {
		if _, ok := targetNodes[id]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, id)
		}
	}

	baseCalls := invocationSet(base)
	targetCalls := invocationSet(target)
	for key := range targetCalls {
		if _, ok := baseCalls[key]; !ok {
			diff.InvocationsAdded = append(diff.InvocationsAdded, key)
		}
	}
	for key := range baseCalls {
		if _, ok := targetCalls[key]; !ok {
			diff.InvocationsRemoved = append(diff.InvocationsRemoved, key)
		}
	}

	sort.Strings(diff.NodesAdded)
	sort.Strings(diff.NodesRemoved)
	sort.Strings(diff.InvocationsAdded)
	sort.Strings(diff.InvocationsRemoved)
	sort.Slice(diff.NodesModified, func(i, j int) bool {
		return diff.NodesModified[i].NodeID < diff.NodesModified[j].NodeID
	})

	totalNodes := max(len(baseNodes), len(targetNodes))
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)
	ratio := 0.0
	if totalNodes > 0 {
		ratio = float64(changedNodes) / float64(totalNodes)
	}
	diff.Summary = DiffSummary{
		TotalChanges:   changedNodes + len(diff.InvocationsAdded) + len(diff.InvocationsRemoved),
		ExercisedDelta: exercisedMembers(target) - exercisedMembers(base),
		ChangeRatio:    ratio,
	}
	return diff, nil
}

func classifyChange(base, target Node) string {
	switch {
	case base.Kind != target.Kind:
		return ChangeKind
	case !base.WasExercised && target.WasExercised:
		return ChangeNowExercised
	case base.WasExercised && !target.WasExercised:
		return ChangeNoLongerUsed
	case base.MemberCount != target.MemberCount:
		return ChangeMemberCount
	}
	return ""
}

func indexNodes(g *Graph) map[string]Node {
	out := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n
	}
	return out
}

func invocationSet(g *Graph) map[string]struct{} {
	out := make(map[string]struct{})
	for _, l := range g.Links {
		if l.Kind == LinkKindInvokes {
			out[l.Source+" -> "+l.Target] = struct{}{}
		}
	}
	return out
}

func exercisedMembers(g *Graph) int {
	n := 0
	for _, node := range g.Nodes {
		if node.Kind == NodeKindMember && node.WasExercised {
			n++
		}
	}
	return n
}
