// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph merges recorded call events and a static type inventory
// into a node/link call graph, and persists, snapshots, and compares graphs.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NodeKind classifies a graph node.
type NodeKind string

const (
	// NodeKindType is a declared or observed type.
	NodeKindType NodeKind = "type"

	// NodeKindMember is a member of a type. Its Owner is the type node ID.
	NodeKindMember NodeKind = "member"

	// NodeKindModule is a pseudo type standing for module-level code in one
	// source file.
	NodeKindModule NodeKind = "module"
)

// LinkKind classifies a graph link.
type LinkKind string

const (
	// LinkKindContains links a type node to one of its member nodes.
	LinkKindContains LinkKind = "contains"

	// LinkKindInvokes links a calling member node to a called member node.
	LinkKindInvokes LinkKind = "invokes"
)

// ModulePrefix starts the name of every module pseudo type.
const ModulePrefix = "module:"

// Node is one graph node.
type Node struct {
	// ID is unique across the graph. Type nodes use the type name; member
	// nodes use Type::member.
	ID string

	Name string
	Kind NodeKind

	// Owner is the owning type node ID. Set for member nodes only.
	Owner string

	// MemberCount is the number of member nodes of a type node.
	MemberCount int

	// WasExercised is true iff a recorded event attributed an invocation to
	// the node (type nodes: to any of its members).
	WasExercised bool
}

// Link is one graph link.
type Link struct {
	Source string
	Target string
	Kind   LinkKind

	// SourceMember and TargetMember are the member names on each end of an
	// invokes link. Empty for contains links.
	SourceMember string
	TargetMember string
}

// key identifies a link for deduplication and diffing.
func (l Link) key() string {
	return string(l.Kind) + "|" + l.Source + "|" + l.Target
}

// Graph is a synthesized call graph.
//
// Description:
//
//	Nodes hold every type node sorted by name followed by every member
//	node sorted by (type, member). Links hold one contains link per member
//	node in member order followed by the deduplicated invokes links sorted
//	by (caller type, caller member, callee type, callee member).
//
// Thread Safety: A Graph is not mutated after Synthesize returns and is
// safe for concurrent reads.
type Graph struct {
	// ProjectRoot is the traced project's root directory, if known.
	ProjectRoot string

	// Origin is the entry point of the traced session.
	Origin string

	// SessionID is the trace session that produced the events.
	SessionID string

	// GeneratedAtMilli is the synthesis time in Unix milliseconds.
	GeneratedAtMilli int64

	Nodes []Node
	Links []Link
}

// MemberID returns the node ID of a member.
func MemberID(typeName, member string) string {
	return typeName + "::" + member
}

// ModuleTypeName returns the pseudo type name for module-level code in a
// source file: module:<path without extension>. The path is relative to
// root when the file lies under it, and the full slash-separated path
// otherwise, so same-named files in different directories stay distinct.
func ModuleTypeName(file, root string) string {
	path := strings.ReplaceAll(file, `\`, "/")
	if root != "" {
		prefix := strings.TrimSuffix(strings.ReplaceAll(root, `\`, "/"), "/") + "/"
		if rel, ok := strings.CutPrefix(path, prefix); ok && rel != "" {
			path = rel
		}
	}
	dir, base := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, base = path[:i+1], path[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return ModulePrefix + dir + base
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// LinkCount returns the number of links.
func (g *Graph) LinkCount() int {
	return len(g.Links)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// LinksOf returns the links of a kind, in graph order.
func (g *Graph) LinksOf(kind LinkKind) []Link {
	out := make([]Link, 0)
	for _, l := range g.Links {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// Validate checks the structural invariants of the graph.
//
// Description:
//
//	Node IDs are unique. Every member node has exactly one contains link,
//	from its owner, and the owner is a type or module node whose
//	MemberCount matches. Contains links never target anything else.
//	Invokes links connect member nodes and are not duplicated.
//
// Outputs:
//
//	error - The first violation found, or nil.
func (g *Graph) Validate() error {
	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		nodes[n.ID] = n
	}

	contains := make(map[string]int)
	members := make(map[string]int)
	seen := make(map[string]struct{}, len(g.Links))
	for _, l := range g.Links {
		src, ok := nodes[l.Source]
		if !ok {
			return fmt.Errorf("%s link from unknown node %q", l.Kind, l.Source)
		}
		dst, ok := nodes[l.Target]
		if !ok {
			return fmt.Errorf("%s link to unknown node %q", l.Kind, l.Target)
		}

		switch l.Kind {
		case LinkKindContains:
			if dst.Kind != NodeKindMember || dst.Owner != src.ID {
				return fmt.Errorf("contains link %s -> %s does not match member owner", l.Source, l.Target)
			}
			contains[l.Target]++
			members[l.Source]++
		case LinkKindInvokes:
			if src.Kind != NodeKindMember || dst.Kind != NodeKindMember {
				return fmt.Errorf("invokes link %s -> %s must connect member nodes", l.Source, l.Target)
			}
			if _, dup := seen[l.key()]; dup {
				return fmt.Errorf("duplicate invokes link %s -> %s", l.Source, l.Target)
			}
			seen[l.key()] = struct{}{}
		default:
			return fmt.Errorf("unknown link kind %q", l.Kind)
		}
	}

	for _, n := range g.Nodes {
		switch n.Kind {
		case NodeKindMember:
			if contains[n.ID] != 1 {
				return fmt.Errorf("member %q has %d contains links", n.ID, contains[n.ID])
			}
		case NodeKindType, NodeKindModule:
			if members[n.ID] != n.MemberCount {
				return fmt.Errorf("type %q member count %d, contains links %d", n.ID, n.MemberCount, members[n.ID])
			}
		default:
			return fmt.Errorf("node %q has unknown kind %q", n.ID, n.Kind)
		}
	}
	return nil
}

// Hash returns a deterministic hash of the graph structure. Session fields
// and the generation time are not included.
func (g *Graph) Hash() string {
	h := sha256.New()
	for _, n := range g.Nodes {
		fmt.Fprintf(h, "n|%s|%s|%s|%s|%d|%t\n", n.ID, n.Name, n.Kind, n.Owner, n.MemberCount, n.WasExercised)
	}
	for _, l := range g.Links {
		fmt.Fprintf(h, "l|%s|%s|%s|%s|%s\n", l.Kind, l.Source, l.Target, l.SourceMember, l.TargetMember)
	}
	return hex.EncodeToString(h.Sum(nil))
}
