// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// TypeDecl is one type declaration found in a file.
type TypeDecl struct {
	// Name is the bare type name without type parameters.
	Name string `json:"name"`

	// Members are member functions declared in the type's body. Go methods
	// are declared outside the type and are reported in ParseResult.Methods.
	Members []string `json:"members,omitempty"`

	// StartLine is the 1-indexed line of the declaration.
	StartLine int `json:"start_line"`

	// Nested is true for declarations inside another type or a function body.
	Nested bool `json:"nested,omitempty"`
}

// MethodDecl is a method declared outside its receiver type's body.
type MethodDecl struct {
	Receiver  string `json:"receiver"`
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
}

// ParseResult is the structure extracted from one file.
type ParseResult struct {
	FilePath      string       `json:"file_path"`
	Language      string       `json:"language"`
	Hash          string       `json:"hash"`
	ParsedAtMilli int64        `json:"parsed_at_milli"`
	Types         []TypeDecl   `json:"types"`
	Methods       []MethodDecl `json:"methods"`
}

// Validate checks that every declaration is named.
func (r *ParseResult) Validate() error {
	if r.FilePath == "" {
		return errors.New("file path must not be empty")
	}
	for i, t := range r.Types {
		if t.Name == "" {
			return fmt.Errorf("types[%d]: name must not be empty", i)
		}
	}
	for i, m := range r.Methods {
		if m.Receiver == "" || m.Name == "" {
			return fmt.Errorf("methods[%d]: receiver and name must not be empty", i)
		}
	}
	return nil
}

// Inventory converts the result into a TypeInventory.
func (r *ParseResult) Inventory() TypeInventory {
	inv := NewTypeInventory()
	for _, t := range r.Types {
		inv.AddType(t.Name)
		for _, m := range t.Members {
			inv.AddMember(t.Name, m)
		}
	}
	for _, m := range r.Methods {
		inv.AddMember(m.Receiver, m.Name)
	}
	return inv
}

// MemberSet is a set of member names.
type MemberSet map[string]struct{}

// TypeInventory maps declared type names to their declared members.
//
// Description:
//
//	Purely structural. Types with the same name from different files or
//	packages share one entry, matching how traced owners are named.
//
// Thread Safety: Not safe for concurrent mutation.
type TypeInventory map[string]MemberSet

// NewTypeInventory creates an empty inventory.
func NewTypeInventory() TypeInventory {
	return make(TypeInventory)
}

// AddType records a type with no members if it is not present.
func (inv TypeInventory) AddType(name string) {
	if _, ok := inv[name]; !ok {
		inv[name] = make(MemberSet)
	}
}

// AddMember records a member of a type, adding the type if needed.
func (inv TypeInventory) AddMember(typeName, member string) {
	inv.AddType(typeName)
	inv[typeName][member] = struct{}{}
}

// Has reports whether the pair is present.
func (inv TypeInventory) Has(typeName, member string) bool {
	members, ok := inv[typeName]
	if !ok {
		return false
	}
	_, ok = members[member]
	return ok
}

// Merge adds every type and member of other.
func (inv TypeInventory) Merge(other TypeInventory) {
	for typeName, members := range other {
		inv.AddType(typeName)
		for m := range members {
			inv[typeName][m] = struct{}{}
		}
	}
}

// Types returns the type names in sorted order.
func (inv TypeInventory) Types() []string {
	out := make([]string, 0, len(inv))
	for name := range inv {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Members returns the members of a type in sorted order.
func (inv TypeInventory) Members(typeName string) []string {
	members := inv[typeName]
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// MemberCount returns the number of (type, member) pairs.
func (inv TypeInventory) MemberCount() int {
	n := 0
	for _, members := range inv {
		n += len(members)
	}
	return n
}

// MarshalJSON encodes the inventory as type name to sorted member list.
func (inv TypeInventory) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(inv))
	for name := range inv {
		out[name] = inv.Members(name)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (inv *TypeInventory) UnmarshalJSON(data []byte) error {
	var in map[string][]string
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*inv = NewTypeInventory()
	for name, members := range in {
		inv.AddType(name)
		for _, m := range members {
			inv.AddMember(name, m)
		}
	}
	return nil
}
