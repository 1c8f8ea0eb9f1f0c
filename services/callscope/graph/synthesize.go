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
	"sort"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/hook"
)

// SynthesizeOptions configures Synthesize.
type SynthesizeOptions struct {
	// ModulePseudoTypes attributes calls made from module-level code to a
	// pseudo type named after the caller's source file, relative to
	// ProjectRoot when set. When false those
	// calls produce no invokes link.
	ModulePseudoTypes bool

	ProjectRoot string
	SessionID   string

	// Now returns the generation time. Defaults to time.Now.
	Now func() time.Time
}

// SynthesizeOption is a functional option for Synthesize.
type SynthesizeOption func(*SynthesizeOptions)

// WithModulePseudoTypes enables module pseudo types.
func WithModulePseudoTypes(enabled bool) SynthesizeOption {
	return func(o *SynthesizeOptions) {
		o.ModulePseudoTypes = enabled
	}
}

// WithProjectRoot records the project root on the graph.
func WithProjectRoot(root string) SynthesizeOption {
	return func(o *SynthesizeOptions) {
		o.ProjectRoot = root
	}
}

// WithSessionID records the trace session on the graph.
func WithSessionID(id string) SynthesizeOption {
	return func(o *SynthesizeOptions) {
		o.SessionID = id
	}
}

// WithClock sets the generation time source.
func WithClock(now func() time.Time) SynthesizeOption {
	return func(o *SynthesizeOptions) {
		if now != nil {
			o.Now = now
		}
	}
}

// invocation is the deduplication key of an invokes link.
type invocation struct {
	callerType   string
	callerMember string
	calleeType   string
	calleeMember string
}

// Synthesize builds a call graph from recorded events and an optional
// inventory.
//
// Description:
//
//	Members come from every event with an owner, plus every inventory
//	pair not observed at runtime. A member is exercised iff an event
//	attributed an invocation to it. Each event with an owner and a caller
//	yields one invocation; identical invocations collapse to a single
//	invokes link. Calls from an unbound caller are dropped unless module
//	pseudo types are enabled.
//
// Inputs:
//
//	events - Events from hook.Tracer.End. Nil entries are ignored.
//	inv - Static inventory. May be nil.
//	opts - Optional settings.
//
// Outputs:
//
//	*Graph - Never nil. Output order is deterministic for the same input.
//
// Thread Safety: Safe for concurrent use. Inputs are not modified.
func Synthesize(events []*hook.Event, inv ast.TypeInventory, opts ...SynthesizeOption) *Graph {
	o := SynthesizeOptions{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	typeToMembers := ast.NewTypeInventory()
	exercised := ast.NewTypeInventory()
	modules := make(map[string]struct{})
	calls := make(map[invocation]struct{})
	origin := ""

	for _, ev := range events {
		if ev == nil {
			continue
		}
		if origin == "" {
			origin = ev.Origin
		}
		if !ev.Bound() || ev.Name == "" {
			continue
		}
		typeToMembers.AddMember(ev.Owner, ev.Name)
		exercised.AddMember(ev.Owner, ev.Name)

		caller := ev.Caller
		if caller == nil || caller.Name == "" {
			continue
		}
		callerType := caller.Owner
		if !caller.Bound() {
			if !o.ModulePseudoTypes {
				continue
			}
			callerType = ModuleTypeName(caller.Location.File, o.ProjectRoot)
			modules[callerType] = struct{}{}
			typeToMembers.AddMember(callerType, caller.Name)
			exercised.AddMember(callerType, caller.Name)
		}
		calls[invocation{
			callerType:   callerType,
			callerMember: caller.Name,
			calleeType:   ev.Owner,
			calleeMember: ev.Name,
		}] = struct{}{}
	}

	for typeName, members := range inv {
		for member := range members {
			if !typeToMembers.Has(typeName, member) {
				typeToMembers.AddMember(typeName, member)
			}
		}
	}

	g := &Graph{
		ProjectRoot:      o.ProjectRoot,
		Origin:           origin,
		SessionID:        o.SessionID,
		GeneratedAtMilli: o.Now().UnixMilli(),
	}

	types := typeToMembers.Types()
	memberNodes := make([]Node, 0, typeToMembers.MemberCount())
	for _, typeName := range types {
		kind := NodeKindType
		if _, ok := modules[typeName]; ok {
			kind = NodeKindModule
		}
		members := typeToMembers.Members(typeName)
		g.Nodes = append(g.Nodes, Node{
			ID:           typeName,
			Name:         typeName,
			Kind:         kind,
			MemberCount:  len(members),
			WasExercised: len(exercised[typeName]) > 0,
		})
		for _, member := range members {
			memberNodes = append(memberNodes, Node{
				ID:           MemberID(typeName, member),
				Name:         member,
				Kind:         NodeKindMember,
				Owner:        typeName,
				WasExercised: exercised.Has(typeName, member),
			})
		}
	}
	g.Nodes = append(g.Nodes, memberNodes...)

	for _, m := range memberNodes {
		g.Links = append(g.Links, Link{Source: m.Owner, Target: m.ID, Kind: LinkKindContains})
	}

	tuples := make([]invocation, 0, len(calls))
	for c := range calls {
		tuples = append(tuples, c)
	}
	sort.Slice(tuples, func(i, j int) bool {
		a, b := tuples[i], tuples[j]
		if a.callerType != b.callerType {
			return a.callerType < b.callerType
		}
		if a.callerMember != b.callerMember {
			return a.callerMember < b.callerMember
		}
		if a.calleeType != b.calleeType {
			return a.calleeType < b.calleeType
		}
		return a.calleeMember < b.calleeMember
	})
	for _, c := range tuples {
		g.Links = append(g.Links, Link{
			Source:       MemberID(c.callerType, c.callerMember),
			Target:       MemberID(c.calleeType, c.calleeMember),
			Kind:         LinkKindInvokes,
			SourceMember: c.callerMember,
			TargetMember: c.calleeMember,
		})
	}
	return g
}
