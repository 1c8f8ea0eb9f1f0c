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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pyOrders = `
import functools


class OrderService:
    def __init__(self, repo):
        self.repo = repo

    def place_order(self, order_id):
        return self.repo.save(order_id)

    def _validate(self, order_id):
        return True

    def __mangled(self):
        pass

    @functools.lru_cache
    def cached_total(self):
        return 0

    @staticmethod
    def create():
        return OrderService(None)

    async def notify(self):
        pass

    class Receipt:
        def render(self):
            return ""

    def after_nested(self):
        pass


def helper():
    class LocalThing:
        def work(self):
            pass
    return LocalThing


@dataclass
class Order:
    id: str

    def __str__(self):
        return self.id
`

func TestPythonParser_ExtractsClasses(t *testing.T) {
	p := NewPythonParser()

	result, err := p.Parse(context.Background(), []byte(pyOrders), "shop/orders.py")
	require.NoError(t, err)
	assert.Equal(t, "python", result.Language)
	assert.Empty(t, result.Methods)

	inv := result.Inventory()
	assert.ElementsMatch(t, []string{"OrderService", "Receipt", "LocalThing", "Order"}, inv.Types())

	assert.Equal(t, []string{
		"__init__", "_validate", "after_nested", "cached_total", "create", "notify", "place_order",
	}, inv.Members("OrderService"))
	assert.Equal(t, []string{"render"}, inv.Members("Receipt"), "nested class is its own entry")
	assert.Equal(t, []string{"work"}, inv.Members("LocalThing"))
	assert.Equal(t, []string{"__str__"}, inv.Members("Order"))
	assert.False(t, inv.Has("OrderService", "render"))
	assert.False(t, inv.Has("OrderService", "__mangled"))
	assert.False(t, inv.Has("OrderService", "helper"))

	nested := map[string]bool{}
	for _, td := range result.Types {
		nested[td.Name] = td.Nested
	}
	assert.False(t, nested["OrderService"])
	assert.True(t, nested["Receipt"])
	assert.True(t, nested["LocalThing"])
	assert.False(t, nested["Order"])
}

func TestPythonParser_SyntaxErrorFailsWholeFile(t *testing.T) {
	p := NewPythonParser()
	src := "class Fine:\n    def ok(self):\n        pass\n\ndef broken(:\n    pass\n"

	result, err := p.Parse(context.Background(), []byte(src), "broken.py")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestPythonParser_Extensions(t *testing.T) {
	p := NewPythonParser()
	assert.Equal(t, "python", p.Language())
	assert.Equal(t, []string{".py", ".pyi"}, p.Extensions())
}
