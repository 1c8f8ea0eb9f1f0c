// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type binding struct {
	inst   any
	symbol string
}

func (b binding) OwningInstance() (any, bool) { return b.inst, b.inst != nil }
func (b binding) FuncSymbol() string          { return b.symbol }

type OrderService struct{}

type Stack[T any] struct{ items []T }

type adapter struct{ name string }

func (a *adapter) TypeName() string { return a.name }

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		want   Symbol
	}{
		{
			symbol: "main.main",
			want:   Symbol{Package: "main", Name: "main"},
		},
		{
			symbol: "github.com/acme/shop/orders.NewOrderService",
			want:   Symbol{Package: "github.com/acme/shop/orders", Name: "NewOrderService"},
		},
		{
			symbol: "github.com/acme/shop/orders.(*OrderService).PlaceOrder",
			want:   Symbol{Package: "github.com/acme/shop/orders", Receiver: "OrderService", Pointer: true, Name: "PlaceOrder"},
		},
		{
			symbol: "github.com/acme/shop/orders.OrderService.Total",
			want:   Symbol{Package: "github.com/acme/shop/orders", Receiver: "OrderService", Name: "Total"},
		},
		{
			symbol: "github.com/acme/shop/orders.(*Stack[...]).Push",
			want:   Symbol{Package: "github.com/acme/shop/orders", Receiver: "Stack", Pointer: true, Name: "Push"},
		},
		{
			symbol: "github.com/acme/shop/orders.Map[...]",
			want:   Symbol{Package: "github.com/acme/shop/orders", Name: "Map"},
		},
		{
			symbol: "github.com/acme/shop/orders.Run.func1",
			want:   Symbol{Package: "github.com/acme/shop/orders", Name: "Run.func1"},
		},
		{
			symbol: "github.com/acme/shop/orders.Run.func1.2",
			want:   Symbol{Package: "github.com/acme/shop/orders", Name: "Run.func1.2"},
		},
		{
			symbol: "github.com/acme/shop/orders.(*OrderService).PlaceOrder.func1",
			want:   Symbol{Package: "github.com/acme/shop/orders", Receiver: "OrderService", Pointer: true, Name: "PlaceOrder.func1"},
		},
		{
			symbol: "github.com/acme/shop/orders.(*OrderService).PlaceOrder-fm",
			want:   Symbol{Package: "github.com/acme/shop/orders", Receiver: "OrderService", Pointer: true, Name: "PlaceOrder"},
		},
		{
			symbol: "gopkg.in/yaml%2ev3.Unmarshal",
			want:   Symbol{Package: "gopkg.in/yaml.v3", Name: "Unmarshal"},
		},
		{
			symbol: "orphan",
			want:   Symbol{Name: "orphan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			got := ParseSymbol(tt.symbol)
			tt.want.Raw = tt.symbol
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultVisibility(t *testing.T) {
	tests := []struct {
		name    string
		visible bool
	}{
		{"PlaceOrder", true},
		{"placeOrder", true},
		{"_protected", true},
		{"__init__", true},
		{"__str__", true},
		{"__private", false},
		{"__", true},
		{"____", true},
		{"___", true},
		{"__x_", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.visible, DefaultVisibility(tt.name))
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(WithExcludedTypes([]string{"PosixPath", "dict"}))

	tests := []struct {
		name string
		b    binding
		want Attribution
	}{
		{
			name: "owning instance pointer",
			b:    binding{inst: &OrderService{}, symbol: "x.F"},
			want: Attribution{Owner: "OrderService"},
		},
		{
			name: "owning instance value",
			b:    binding{inst: OrderService{}},
			want: Attribution{Owner: "OrderService"},
		},
		{
			name: "generic instance",
			b:    binding{inst: &Stack[int]{}},
			want: Attribution{Owner: "Stack"},
		},
		{
			name: "type namer",
			b:    binding{inst: &adapter{name: "EmailService"}},
			want: Attribution{Owner: "EmailService"},
		},
		{
			name: "symbol receiver fallback",
			b:    binding{symbol: "example.com/shop.(*OrderRepository).Save"},
			want: Attribution{Owner: "OrderRepository"},
		},
		{
			name: "anonymous instance falls back to symbol",
			b:    binding{inst: struct{}{}, symbol: "example.com/shop.EmailService.Send"},
			want: Attribution{Owner: "EmailService"},
		},
		{
			name: "unbound",
			b:    binding{symbol: "example.com/shop.main"},
			want: Attribution{},
		},
		{
			name: "denylisted",
			b:    binding{inst: &adapter{name: "PosixPath"}},
			want: Attribution{Owner: "PosixPath", Excluded: true},
		},
		{
			name: "hidden name",
			b:    binding{inst: &adapter{name: "__Hidden"}},
			want: Attribution{Owner: "__Hidden", Excluded: true},
		},
		{
			name: "protected name stays",
			b:    binding{inst: &adapter{name: "_Protected"}},
			want: Attribution{Owner: "_Protected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.b)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Owner != "", got.Bound())
		})
	}
}

func TestResolver_NilTypeNamerUsesReflectedType(t *testing.T) {
	var a *adapter
	assert.Equal(t, "adapter", InstanceTypeName(a))
}

func TestResolver_CustomVisibility(t *testing.T) {
	r := NewResolver(WithVisibility(func(name string) bool { return name != "Internal" }))

	assert.True(t, r.Resolve(binding{inst: &adapter{name: "Internal"}}).Excluded)
	assert.False(t, r.Resolve(binding{inst: &adapter{name: "__Hidden"}}).Excluded)
	assert.True(t, r.Visible("__Hidden"))
}
