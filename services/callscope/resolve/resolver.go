// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve attributes traced invocations to the type that owns them.
package resolve

import (
	"reflect"
	"strings"
)

// Binding is the capability an invocation exposes for owner attribution.
type Binding interface {
	// OwningInstance returns the receiver bound to the invocation, if any.
	OwningInstance() (any, bool)

	// FuncSymbol returns the runtime symbol of the invoked function.
	FuncSymbol() string
}

// TypeNamer lets an instance report its own type name. Dynamic dispatch
// layers and adapters use it to name the type they stand for.
type TypeNamer interface {
	TypeName() string
}

// Visibility decides whether a type or member name is reported.
type Visibility func(name string) bool

// DefaultVisibility is the default name visibility rule.
//
// Description:
//
//	Names with no leading underscore are visible. Names with exactly one
//	leading underscore are visible (protected). Names both prefixed and
//	suffixed with a double underscore are visible (special members),
//	including "__" itself. Any other leading-underscore name is hidden.
func DefaultVisibility(name string) bool {
	if !strings.HasPrefix(name, "_") {
		return true
	}
	if !strings.HasPrefix(name, "__") {
		return true
	}
	return strings.HasSuffix(name, "__")
}

// Attribution is the outcome of resolving an invocation's owner.
type Attribution struct {
	// Owner is the owning type name. Empty when the invocation is unbound.
	Owner string

	// Excluded is true when the owner is denylisted or not visible.
	// An excluded invocation is not recorded.
	Excluded bool
}

// Bound reports whether an owner was found.
func (a Attribution) Bound() bool {
	return a.Owner != ""
}

// Resolver attributes invocations to owning types.
//
// Description:
//
//	Attribution order: the explicit owning instance, then the receiver of
//	the runtime symbol, then unbound. Owners on the denylist or failing the
//	visibility rule are marked excluded.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Resolver struct {
	excluded map[string]struct{}
	visible  Visibility
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExcludedTypes sets the owner denylist, replacing any previous list.
func WithExcludedTypes(names []string) Option {
	return func(r *Resolver) {
		r.excluded = make(map[string]struct{}, len(names))
		for _, n := range names {
			r.excluded[n] = struct{}{}
		}
	}
}

// WithVisibility sets the visibility rule. A nil rule is ignored.
func WithVisibility(v Visibility) Option {
	return func(r *Resolver) {
		if v != nil {
			r.visible = v
		}
	}
}

// NewResolver creates a Resolver with an empty denylist and DefaultVisibility.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		excluded: map[string]struct{}{},
		visible:  DefaultVisibility,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve attributes an invocation.
//
// Inputs:
//
//	b - The invocation. Must not be nil.
//
// Outputs:
//
//	Attribution - Owner and exclusion flag.
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(b Binding) Attribution {
	owner := ""
	if inst, ok := b.OwningInstance(); ok {
		owner = InstanceTypeName(inst)
	}
	if owner == "" {
		owner = ParseSymbol(b.FuncSymbol()).Receiver
	}
	if owner == "" {
		return Attribution{}
	}
	return Attribution{Owner: owner, Excluded: r.IsExcluded(owner)}
}

// IsExcluded reports whether an owner name is denylisted or not visible.
func (r *Resolver) IsExcluded(owner string) bool {
	if _, denied := r.excluded[owner]; denied {
		return true
	}
	return !r.visible(owner)
}

// Visible applies the configured visibility rule to a name.
func (r *Resolver) Visible(name string) bool {
	return r.visible(name)
}

// InstanceTypeName returns the type name of an owning instance.
//
// Description:
//
//	Uses TypeName() when the instance implements TypeNamer. Otherwise the
//	reflected type name with pointers dereferenced and type arguments
//	removed. Unnamed types (anonymous structs, funcs) yield "".
func InstanceTypeName(inst any) string {
	if inst == nil {
		return ""
	}
	v := reflect.ValueOf(inst)
	if n, ok := inst.(TypeNamer); ok && !(v.Kind() == reflect.Pointer && v.IsNil()) {
		return n.TypeName()
	}
	t := v.Type()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return stripTypeArgs(t.Name())
}
