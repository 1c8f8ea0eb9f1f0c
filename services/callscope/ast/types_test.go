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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeInventory_Merge(t *testing.T) {
	a := NewTypeInventory()
	a.AddMember("OrderService", "PlaceOrder")
	a.AddType("Empty")

	b := NewTypeInventory()
	b.AddMember("OrderService", "Cancel")
	b.AddMember("EmailService", "Send")

	a.Merge(b)

	assert.Equal(t, []string{"EmailService", "Empty", "OrderService"}, a.Types())
	assert.Equal(t, []string{"Cancel", "PlaceOrder"}, a.Members("OrderService"))
	assert.Equal(t, 3, a.MemberCount())
	assert.True(t, a.Has("EmailService", "Send"))
	assert.False(t, a.Has("Missing", "Send"))
	assert.Empty(t, a.Members("Missing"))
}

func TestTypeInventory_JSON(t *testing.T) {
	inv := NewTypeInventory()
	inv.AddMember("OrderService", "b")
	inv.AddMember("OrderService", "a")
	inv.AddType("Empty")

	data, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"OrderService":["a","b"],"Empty":[]}`, string(data))

	var back TypeInventory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, inv, back)
}

func TestParseResult_Validate(t *testing.T) {
	assert.Error(t, (&ParseResult{}).Validate())
	assert.Error(t, (&ParseResult{FilePath: "a.go", Types: []TypeDecl{{}}}).Validate())
	assert.Error(t, (&ParseResult{FilePath: "a.go", Methods: []MethodDecl{{Name: "M"}}}).Validate())
	assert.NoError(t, (&ParseResult{FilePath: "a.go", Types: []TypeDecl{{Name: "T"}}}).Validate())
}

func TestParserRegistry(t *testing.T) {
	r := DefaultRegistry([]string{"go", "python", "cobol"})

	assert.Equal(t, []string{"go", "python"}, r.Languages())
	assert.Equal(t, []string{".go", ".py", ".pyi"}, r.Extensions())
	p, ok := r.GetByExtension(".pyi")
	require.True(t, ok)
	assert.Equal(t, "python", p.Language())
	_, ok = r.GetByExtension(".rb")
	assert.False(t, ok)
	_, ok = r.GetByLanguage("go")
	assert.True(t, ok)

	r.Register(nil)
	assert.Len(t, r.Languages(), 2)
}
