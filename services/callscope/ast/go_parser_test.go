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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goOrders = `package orders

type OrderService struct {
	repo *OrderRepository
}

type Repository interface {
	Save(id string) error
}

type ID string

type Stack[T any] struct{ items []T }

func NewOrderService() *OrderService { return &OrderService{} }

func (s *OrderService) PlaceOrder(id string) error {
	type receipt struct{ id string }
	_ = receipt{id: id}
	return nil
}

func (s OrderService) Total() int { return 0 }

func (s *Stack[T]) Push(v T) { s.items = append(s.items, v) }

func (m *Map[K, V]) Get(k K) V { var v V; return v }

func (ID) String() string { return "" }
`

func TestGoParser_ExtractsTypesAndMethods(t *testing.T) {
	p := NewGoParser()

	result, err := p.Parse(context.Background(), []byte(goOrders), "orders/orders.go")
	require.NoError(t, err)

	assert.Equal(t, "go", result.Language)
	assert.Equal(t, "orders/orders.go", result.FilePath)
	assert.Len(t, result.Hash, 64)

	typeNames := make([]string, 0, len(result.Types))
	for _, td := range result.Types {
		typeNames = append(typeNames, td.Name)
	}
	assert.ElementsMatch(t, []string{"OrderService", "ID", "Stack", "receipt"}, typeNames)
	assert.NotContains(t, typeNames, "Repository", "interfaces are skipped")

	for _, td := range result.Types {
		assert.Equal(t, td.Name == "receipt", td.Nested, td.Name)
	}

	inv := result.Inventory()
	assert.Equal(t, []string{"PlaceOrder", "Total"}, inv.Members("OrderService"))
	assert.Equal(t, []string{"Push"}, inv.Members("Stack"))
	assert.Equal(t, []string{"Get"}, inv.Members("Map"))
	assert.Equal(t, []string{"String"}, inv.Members("ID"))
	assert.Empty(t, inv.Members("receipt"))
	assert.False(t, inv.Has("OrderService", "NewOrderService"))
}

func TestGoParser_SyntaxErrorFailsWholeFile(t *testing.T) {
	p := NewGoParser()
	src := "package broken\n\ntype Good struct{}\n\nfunc (g *Good) Run( {\n"

	result, err := p.Parse(context.Background(), []byte(src), "broken.go")
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseFailed)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "broken.go", parseErr.FilePath)
	assert.Positive(t, parseErr.Line)
}

func TestGoParser_Limits(t *testing.T) {
	p := NewGoParser(WithMaxFileSize(16))

	_, err := p.Parse(context.Background(), []byte(strings.Repeat("a", 17)), "big.go")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = NewGoParser().Parse(context.Background(), []byte{0xff, 0xfe}, "bin.go")
	assert.ErrorIs(t, err, ErrInvalidContent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewGoParser().Parse(ctx, []byte(goOrders), "orders.go")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGoParser_MemberVisibility(t *testing.T) {
	p := NewGoParser(WithMemberVisibility(func(name string) bool { return name != "Total" }))

	result, err := p.Parse(context.Background(), []byte(goOrders), "orders.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"PlaceOrder"}, result.Inventory().Members("OrderService"))
}

func TestExtractReceiverTypeFromString(t *testing.T) {
	tests := map[string]string{
		"(h *Handler)":       "Handler",
		"(s Service)":        "Service",
		"(*Handler)":         "Handler",
		"(s *Stack[K, V])":   "Stack",
		"(s Stack[T])":       "Stack",
		"()":                 "",
		"":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, extractReceiverTypeFromString(in), in)
	}
}
