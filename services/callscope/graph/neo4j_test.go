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
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedQuery struct {
	cypher string
	params map[string]any
}

func newRecordingExporter(fail string) (*Neo4jExporter, *[]recordedQuery) {
	var queries []recordedQuery
	e := &Neo4jExporter{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	e.run = func(_ context.Context, cypher string, params map[string]any) error {
		queries = append(queries, recordedQuery{cypher: cypher, params: params})
		if fail != "" && strings.Contains(cypher, fail) {
			return errors.New("connection refused")
		}
		return nil
	}
	return e, &queries
}

func TestNeo4jExporter_Export(t *testing.T) {
	e, queries := newRecordingExporter("")
	g := scenarioGraph()

	require.NoError(t, e.Export(context.Background(), g))
	require.Len(t, *queries, 6)

	types := (*queries)[3].params["batch"].([]map[string]any)
	assert.Len(t, types, 3)
	assert.Equal(t, "/srv/shop", (*queries)[3].params["project"])

	members := (*queries)[4].params["batch"].([]map[string]any)
	assert.Len(t, members, 4)
	assert.Contains(t, (*queries)[4].cypher, "CONTAINS")

	calls := (*queries)[5].params["batch"].([]map[string]any)
	require.Len(t, calls, 2)
	assert.Equal(t, "createOrder", calls[0]["source_method"])

	assert.NoError(t, e.Close(context.Background()))
}

func TestNeo4jExporter_ExportError(t *testing.T) {
	e, queries := newRecordingExporter("INVOKES")

	err := e.Export(context.Background(), scenarioGraph())
	assert.ErrorContains(t, err, "neo4j invocations")
	assert.Len(t, *queries, 6)
}
