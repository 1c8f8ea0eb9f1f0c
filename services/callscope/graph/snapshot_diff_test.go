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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/hook"
)

func TestDiffGraphs_Identical(t *testing.T) {
	g := Synthesize(orderScenario(), nil)
	diff, err := DiffGraphs(g, g, "a", "b")
	require.NoError(t, err)

	assert.True(t, diff.Empty())
	assert.Empty(t, diff.NodesAdded)
	assert.Empty(t, diff.InvocationsAdded)
	assert.Equal(t, "a", diff.BaseID)
	assert.Equal(t, "b", diff.TargetID)
}

func TestDiffGraphs_Changes(t *testing.T) {
	inv := ast.NewTypeInventory()
	inv.AddMember("OrderService", "cancelOrder")
	inv.AddMember("AuditLog", "record")
	base := Synthesize(orderScenario(), inv)

	events := orderScenario()[:2]
	cancel := event("OrderService", "cancelOrder", nil)
	events = append(events, cancel, event("Refunds", "issue", cancel))
	target := Synthesize(events, inv)

	diff, err := DiffGraphs(base, target, "base", "target")
	require.NoError(t, err)

	assert.Equal(t, []string{"Refunds", "Refunds::issue"}, diff.NodesAdded)
	assert.Equal(t, []string{"EmailService", "EmailService::sendOrderConfirmation"}, diff.NodesRemoved)
	assert.Contains(t, diff.NodesModified, NodeDiff{
		NodeID: "OrderService::cancelOrder", Name: "cancelOrder", ChangeType: ChangeNowExercised,
	})
	assert.Equal(t, []string{"OrderService::cancelOrder -> Refunds::issue"}, diff.InvocationsAdded)
	assert.Equal(t, []string{"OrderService::createOrder -> EmailService::sendOrderConfirmation"}, diff.InvocationsRemoved)
	assert.Equal(t, 1, diff.Summary.ExercisedDelta)
	assert.False(t, diff.Empty())
	assert.Greater(t, diff.Summary.ChangeRatio, 0.0)
}

func TestDiffGraphs_MemberCountChange(t *testing.T) {
	base := Synthesize([]*hook.Event{event("OrderService", "a", nil)}, nil)
	target := Synthesize([]*hook.Event{event("OrderService", "a", nil), event("OrderService", "b", nil)}, nil)

	diff, err := DiffGraphs(base, target, "", "")
	require.NoError(t, err)
	assert.Equal(t, []NodeDiff{{NodeID: "OrderService", Name: "OrderService", ChangeType: ChangeMemberCount}}, diff.NodesModified)
	assert.Equal(t, []string{"OrderService::b"}, diff.NodesAdded)
}

func TestDiffGraphs_NilGraphs(t *testing.T) {
	g := Synthesize(nil, nil)
	_, err := DiffGraphs(nil, g, "", "")
	assert.Error(t, err)
	_, err = DiffGraphs(g, nil, "", "")
	assert.Error(t, err)
}
