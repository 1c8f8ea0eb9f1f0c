// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hook

import (
	"fmt"

	"github.com/AleutianAI/callscope/services/callscope/filter"
	"github.com/AleutianAI/callscope/services/callscope/resolve"
)

// Location is a source position.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// String returns file:line.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Invocation is one call notification delivered to the tracer.
//
// Description:
//
//	Enter builds invocations from the runtime call stack. Callers that
//	notify the tracer directly fill the fields themselves. Name overrides
//	the member name derived from Symbol when set.
type Invocation struct {
	Location Location
	Symbol   string
	Name     string
	Receiver any
}

// OwningInstance implements resolve.Binding.
func (i Invocation) OwningInstance() (any, bool) {
	return i.Receiver, i.Receiver != nil
}

// FuncSymbol implements resolve.Binding.
func (i Invocation) FuncSymbol() string {
	return i.Symbol
}

// MemberName returns the invoked member name.
func (i Invocation) MemberName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Symbol == "" {
		return ""
	}
	return resolve.ParseSymbol(i.Symbol).Name
}

var _ resolve.Binding = Invocation{}

// Event is one recorded invocation.
//
// Description:
//
//	Events are immutable once appended to the session's list. Caller points
//	at the nearest enclosing recorded event and is nil for top-level calls
//	and for calls whose every enclosing frame was filtered out.
type Event struct {
	Location Location
	Name     string
	Owner    string
	Symbol   string
	Caller   *Event
	Depth    int
	Origin   string
	Seq      int

	// Admitted is true for the single external invocation admitted across
	// the project boundary.
	Admitted bool
}

// Bound reports whether the event has an owning type.
func (e *Event) Bound() bool {
	return e.Owner != ""
}

// Qualified returns Owner::Name, or Name for unbound events.
func (e *Event) Qualified() string {
	if e.Owner == "" {
		return e.Name
	}
	return e.Owner + "::" + e.Name
}

// ShadowFrame is the tracker's record of one active call, recorded or not.
type ShadowFrame struct {
	Location Location
	Name     string
	Owner    string
	Symbol   string
	Caller   *Event
	Depth    int
	Origin   string
	Skipped  bool
	Decision filter.Decision

	// event is the recorded event for the frame, nil when skipped.
	event *Event
}

// Stats summarizes a session.
type Stats struct {
	Recorded          int `json:"recorded"`
	Skipped           int `json:"skipped"`
	MaxDepth          int `json:"max_depth"`
	UnbalancedReturns int `json:"unbalanced_returns"`
	Unwound           int `json:"unwound"`
}
