// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callscope

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all callscope routes with the router.
//
// Description:
//
//	Registers all /v1/callscope/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Graph Endpoints:
//
//	GET    /v1/callscope/graph - Stored graph, generated on first request
//	POST   /v1/callscope/graph/regenerate - Run the pipeline now
//	DELETE /v1/callscope/graph - Drop the stored graph
//	GET    /v1/callscope/inventory - Static structure of the project
//
// Snapshot Endpoints:
//
//	GET    /v1/callscope/snapshots - List snapshots
//	GET    /v1/callscope/snapshots/:id - Load a snapshot
//	DELETE /v1/callscope/snapshots/:id - Delete a snapshot
//	GET    /v1/callscope/diff - Diff two snapshots
//
// Health Endpoints:
//
//	GET /v1/callscope/health - Service health
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cs := rg.Group("/callscope")
	{
		cs.GET("/graph", handlers.HandleGetGraph)
		cs.POST("/graph/regenerate", handlers.HandleRegenerate)
		cs.DELETE("/graph", handlers.HandleInvalidate)
		cs.GET("/inventory", handlers.HandleInventory)

		cs.GET("/snapshots", handlers.HandleListSnapshots)
		cs.GET("/snapshots/:id", handlers.HandleGetSnapshot)
		cs.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)
		cs.GET("/diff", handlers.HandleDiff)

		cs.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the server router: recovery, otel request tracing, the
// callscope routes under /v1 and, when metrics is non-nil, /metrics.
func NewRouter(svc *Service, metrics http.Handler, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("callscope"))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
