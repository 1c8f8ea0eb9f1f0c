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
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// cypherRunner runs one Cypher statement. Tests replace it.
type cypherRunner func(ctx context.Context, cypher string, params map[string]any) error

// Neo4jExporter loads a graph into Neo4j with batched UNWIND queries.
//
// Description:
//
//	Types become (:CallscopeType) nodes, members (:CallscopeMember) nodes
//	joined by [:CONTAINS], and invocations [:INVOKES] relationships.
//	Export replaces everything previously exported for the same project
//	root.
//
// Thread Safety: Safe for concurrent use; the driver is goroutine safe.
type Neo4jExporter struct {
	driver neo4j.DriverWithContext
	run    cypherRunner
	logger *slog.Logger
}

// NewNeo4jExporter connects to Neo4j.
func NewNeo4jExporter(uri, user, password string, logger *slog.Logger) (*Neo4jExporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Neo4jExporter{driver: driver, logger: logger}
	e.run = func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, e.driver, cypher, params, neo4j.EagerResultTransformer)
		return err
	}
	return e, nil
}

// Close releases the driver.
func (e *Neo4jExporter) Close(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

// Export writes the graph, replacing the project's previous export.
func (e *Neo4jExporter) Export(ctx context.Context, g *Graph) error {
	project := g.ProjectRoot

	statements := []struct {
		name   string
		cypher string
		params map[string]any
	}{
		{"index types", "CREATE INDEX callscope_type_key IF NOT EXISTS FOR (n:CallscopeType) ON (n.project, n.id)", nil},
		{"index members", "CREATE INDEX callscope_member_key IF NOT EXISTS FOR (n:CallscopeMember) ON (n.project, n.id)", nil},
		{"clean", `MATCH (n) WHERE (n:CallscopeType OR n:CallscopeMember) AND n.project = $project DETACH DELETE n`,
			map[string]any{"project": project}},
		{"types", `UNWIND $batch AS row
		 MERGE (n:CallscopeType {project: $project, id: row.id})
		 SET n.name = row.name, n.kind = row.kind, n.method_count = row.method_count, n.was_used = row.was_used`,
			map[string]any{"project": project, "batch": typeRows(g)}},
		{"members", `UNWIND $batch AS row
		 MERGE (m:CallscopeMember {project: $project, id: row.id})
		 SET m.name = row.name, m.owner = row.owner, m.was_used = row.was_used
		 WITH m, row
		 MATCH (t:CallscopeType {project: $project, id: row.owner})
		 MERGE (t)-[:CONTAINS]->(m)`,
			map[string]any{"project": project, "batch": memberRows(g)}},
		{"invocations", `UNWIND $batch AS row
		 MATCH (a:CallscopeMember {project: $project, id: row.source}),
		       (b:CallscopeMember {project: $project, id: row.target})
		 MERGE (a)-[r:INVOKES]->(b)
		 SET r.source_method = row.source_method, r.target_method = row.target_method`,
			map[string]any{"project": project, "batch": invocationRows(g)}},
	}

	for _, st := range statements {
		if err := e.run(ctx, st.cypher, st.params); err != nil {
			return fmt.Errorf("neo4j %s: %w", st.name, err)
		}
	}

	e.logger.Info("graph exported to neo4j",
		slog.String("project_root", project),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("links", g.LinkCount()),
	)
	return nil
}

func typeRows(g *Graph) []map[string]any {
	rows := make([]map[string]any, 0)
	for _, n := range g.Nodes {
		if n.Kind == NodeKindMember {
			continue
		}
		rows = append(rows, map[string]any{
			"id": n.ID, "name": n.Name, "kind": string(n.Kind),
			"method_count": n.MemberCount, "was_used": n.WasExercised,
		})
	}
	return rows
}

func memberRows(g *Graph) []map[string]any {
	rows := make([]map[string]any, 0)
	for _, n := range g.Nodes {
		if n.Kind != NodeKindMember {
			continue
		}
		rows = append(rows, map[string]any{
			"id": n.ID, "name": n.Name, "owner": n.Owner, "was_used": n.WasExercised,
		})
	}
	return rows
}

func invocationRows(g *Graph) []map[string]any {
	rows := make([]map[string]any, 0)
	for _, l := range g.Links {
		if l.Kind != LinkKindInvokes {
			continue
		}
		rows = append(rows, map[string]any{
			"source": l.Source, "target": l.Target,
			"source_method": l.SourceMember, "target_method": l.TargetMember,
		})
	}
	return rows
}
