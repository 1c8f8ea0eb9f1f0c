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
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// SchemaVersion is the version of the persisted graph format.
// Increment when the format changes in a breaking way.
const SchemaVersion = "1.0"

// ErrSerialization wraps every failure to encode or write a graph.
var ErrSerialization = errors.New("graph serialization failed")

// Document is the persisted representation of a Graph.
//
// Description:
//
//	Field presence is stable: every node carries id, name, kind, owner,
//	method_count and was_used, and every link carries source, target,
//	kind, source_method and target_method. Fields that do not apply to a
//	node or link kind are null.
//
// Thread Safety: Document is a value type with no internal state.
type Document struct {
	// SchemaVersion identifies the format version.
	SchemaVersion string `json:"schema_version"`

	ProjectRoot string `json:"project_root"`
	Origin      string `json:"origin"`
	SessionID   string `json:"session_id"`

	// GeneratedAtMilli is the synthesis time in Unix milliseconds.
	GeneratedAtMilli int64 `json:"generated_at_milli"`

	// GraphHash is Graph.Hash at write time.
	GraphHash string `json:"graph_hash"`

	Nodes []DocumentNode `json:"nodes"`
	Links []DocumentLink `json:"links"`
}

// DocumentNode is the persisted representation of a Node.
type DocumentNode struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Owner       *string `json:"owner"`
	MethodCount *int    `json:"method_count"`
	WasUsed     bool    `json:"was_used"`
}

// DocumentLink is the persisted representation of a Link.
type DocumentLink struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Kind         string  `json:"kind"`
	SourceMethod *string `json:"source_method"`
	TargetMethod *string `json:"target_method"`
}

// ToDocument converts the graph to its persisted representation.
//
// Outputs:
//
//	*Document - Never nil. Nodes and links keep graph order.
func (g *Graph) ToDocument() *Document {
	if g == nil {
		return &Document{
			SchemaVersion: SchemaVersion,
			Nodes:         []DocumentNode{},
			Links:         []DocumentLink{},
		}
	}

	nodes := make([]DocumentNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		dn := DocumentNode{
			ID:      n.ID,
			Name:    n.Name,
			Kind:    string(n.Kind),
			WasUsed: n.WasExercised,
		}
		if n.Kind == NodeKindMember {
			owner := n.Owner
			dn.Owner = &owner
		} else {
			count := n.MemberCount
			dn.MethodCount = &count
		}
		nodes = append(nodes, dn)
	}

	links := make([]DocumentLink, 0, len(g.Links))
	for _, l := range g.Links {
		dl := DocumentLink{
			Source: l.Source,
			Target: l.Target,
			Kind:   string(l.Kind),
		}
		if l.Kind == LinkKindInvokes {
			src, dst := l.SourceMember, l.TargetMember
			dl.SourceMethod = &src
			dl.TargetMethod = &dst
		}
		links = append(links, dl)
	}

	return &Document{
		SchemaVersion:    SchemaVersion,
		ProjectRoot:      g.ProjectRoot,
		Origin:           g.Origin,
		SessionID:        g.SessionID,
		GeneratedAtMilli: g.GeneratedAtMilli,
		GraphHash:        g.Hash(),
		Nodes:            nodes,
		Links:            links,
	}
}

// FromDocument reconstructs a Graph from its persisted representation.
//
// Inputs:
//
//	doc - The document. Must not be nil.
//
// Outputs:
//
//	*Graph - The reconstructed graph.
//	error - Non-nil if doc is nil, the schema version is unsupported, or
//	the reconstructed graph fails Validate.
func FromDocument(doc *Document) (*Graph, error) {
	if doc == nil {
		return nil, fmt.Errorf("document must not be nil")
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", doc.SchemaVersion, SchemaVersion)
	}

	g := &Graph{
		ProjectRoot:      doc.ProjectRoot,
		Origin:           doc.Origin,
		SessionID:        doc.SessionID,
		GeneratedAtMilli: doc.GeneratedAtMilli,
		Nodes:            make([]Node, 0, len(doc.Nodes)),
		Links:            make([]Link, 0, len(doc.Links)),
	}
	for _, dn := range doc.Nodes {
		n := Node{
			ID:           dn.ID,
			Name:         dn.Name,
			Kind:         NodeKind(dn.Kind),
			WasExercised: dn.WasUsed,
		}
		if dn.Owner != nil {
			n.Owner = *dn.Owner
		}
		if dn.MethodCount != nil {
			n.MemberCount = *dn.MethodCount
		}
		g.Nodes = append(g.Nodes, n)
	}
	for _, dl := range doc.Links {
		l := Link{
			Source: dl.Source,
			Target: dl.Target,
			Kind:   LinkKind(dl.Kind),
		}
		if dl.SourceMethod != nil {
			l.SourceMember = *dl.SourceMethod
		}
		if dl.TargetMethod != nil {
			l.TargetMember = *dl.TargetMethod
		}
		g.Links = append(g.Links, l)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph document: %w", err)
	}
	return g, nil
}

// Encode writes the graph document as indented JSON.
//
// Outputs:
//
//	error - Wraps ErrSerialization on failure.
func Encode(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g.ToDocument()); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return nil
}

// Decode reads a graph document written by Encode.
func Decode(r io.Reader) (*Graph, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding graph document: %w", err)
	}
	return FromDocument(&doc)
}
