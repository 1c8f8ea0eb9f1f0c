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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/callscope/services/callscope/ast"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/hook"
	"github.com/AleutianAI/callscope/services/callscope/runner"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RegenerateResponse summarizes an on-demand pipeline run.
type RegenerateResponse struct {
	SessionID    string `json:"session_id"`
	Origin       string `json:"origin"`
	Location     string `json:"location"`
	Events       int    `json:"events"`
	NodeCount    int    `json:"node_count"`
	LinkCount    int    `json:"link_count"`
	FilesParsed  int    `json:"files_parsed"`
	FilesFailed  int    `json:"files_failed"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
	RunError     string `json:"run_error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	GraphHash    string `json:"graph_hash"`
	SkippedCalls int    `json:"skipped_calls"`
}

// InventoryResponse is the static structure of the project.
type InventoryResponse struct {
	Types ast.TypeInventory `json:"types"`
	Stats ast.ScanStats     `json:"stats"`
}

// SnapshotListResponse lists stored snapshots, newest first.
type SnapshotListResponse struct {
	Snapshots []*graph.SnapshotMetadata `json:"snapshots"`
	Count     int                       `json:"count"`
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status      string `json:"status"`
	ProjectRoot string `json:"project_root"`
	Entry       string `json:"entry"`
	TraceActive bool   `json:"trace_active"`
	Snapshots   bool   `json:"snapshots"`
}

// Handlers serves the callscope endpoints.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers over a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleGetGraph handles GET /v1/callscope/graph.
//
// Description:
//
//	Returns the persisted graph document. When nothing is stored yet the
//	pipeline runs once and its graph is stored and returned.
//
// Response:
//
//	200 OK: graph.Document
//	404 Not Found: The subject program does not exist
//	409 Conflict: Another trace session is active
//	429 Too Many Requests: Regeneration rate exceeded
//	500 Internal Server Error: Pipeline or store failure
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetGraph")

	g, err := h.svc.Graph(c.Request.Context())
	if err != nil {
		logger.Warn("graph unavailable", slog.String("error", err.Error()))
		writePipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.ToDocument())
}

// HandleRegenerate handles POST /v1/callscope/graph/regenerate.
//
// Description:
//
//	Runs the pipeline now and replaces the stored graph. A subject program
//	that fails still produces a graph; its error is reported in run_error.
//
// Response:
//
//	200 OK: RegenerateResponse
//	404, 409, 429, 500: ErrorResponse, as for HandleGetGraph
func (h *Handlers) HandleRegenerate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRegenerate")

	rep, err := h.svc.Regenerate(c.Request.Context())
	if rep == nil {
		logger.Warn("regeneration failed", slog.String("error", err.Error()))
		writePipelineError(c, err)
		return
	}

	resp := RegenerateResponse{
		SessionID:    rep.Run.SessionID,
		Origin:       rep.Run.Origin,
		Location:     h.svc.store.Location(),
		Events:       len(rep.Run.Events),
		NodeCount:    rep.Graph.NodeCount(),
		LinkCount:    rep.Graph.LinkCount(),
		FilesParsed:  rep.Scan.FilesParsed,
		FilesFailed:  rep.Scan.FilesFailed,
		DurationMs:   rep.Run.Duration.Milliseconds(),
		GraphHash:    rep.Graph.Hash(),
		SkippedCalls: rep.Run.Stats.Skipped,
	}
	if rep.Snapshot != nil {
		resp.SnapshotID = rep.Snapshot.SnapshotID
	}
	if rep.RunErr != nil {
		resp.RunError = rep.RunErr.Error()
		logger.Info("graph regenerated from failed run", slog.String("error", resp.RunError))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleInvalidate handles DELETE /v1/callscope/graph.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInvalidate")

	if err := h.svc.Invalidate(c.Request.Context()); err != nil {
		logger.Error("invalidate failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_ERROR",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleInventory handles GET /v1/callscope/inventory.
//
// Response:
//
//	200 OK: InventoryResponse
//	500 Internal Server Error: The project root cannot be scanned
func (h *Handlers) HandleInventory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInventory")

	inv, stats, err := h.svc.Inventory(c.Request.Context())
	if err != nil {
		logger.Error("scan failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SCAN_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, InventoryResponse{Types: inv, Stats: stats})
}

// HandleListSnapshots handles GET /v1/callscope/snapshots.
//
// Query Parameters:
//
//	limit: Maximum snapshots to return, default 20 (optional)
//
// Response:
//
//	200 OK: SnapshotListResponse
//	503 Service Unavailable: Snapshots not configured
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSnapshots")

	mgr := h.svc.Snapshots()
	if mgr == nil {
		writeSnapshotsUnavailable(c)
		return
	}

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snaps, err := mgr.List(c.Request.Context(), h.svc.Config().ProjectRoot, limit)
	if err != nil {
		logger.Error("listing snapshots failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_ERROR",
		})
		return
	}
	if snaps == nil {
		snaps = []*graph.SnapshotMetadata{}
	}
	c.JSON(http.StatusOK, SnapshotListResponse{Snapshots: snaps, Count: len(snaps)})
}

// HandleGetSnapshot handles GET /v1/callscope/snapshots/:id.
//
// Response:
//
//	200 OK: graph.Document
//	404 Not Found: Unknown snapshot
//	503 Service Unavailable: Snapshots not configured
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSnapshot")

	mgr := h.svc.Snapshots()
	if mgr == nil {
		writeSnapshotsUnavailable(c)
		return
	}

	g, _, err := mgr.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Warn("loading snapshot failed", slog.String("error", err.Error()))
		writeSnapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.ToDocument())
}

// HandleDeleteSnapshot handles DELETE /v1/callscope/snapshots/:id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	mgr := h.svc.Snapshots()
	if mgr == nil {
		writeSnapshotsUnavailable(c)
		return
	}

	if err := mgr.Delete(c.Request.Context(), c.Param("id")); err != nil {
		logger.Warn("deleting snapshot failed", slog.String("error", err.Error()))
		writeSnapshotError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDiff handles GET /v1/callscope/diff.
//
// Query Parameters:
//
//	base: Snapshot ID to compare from (required)
//	target: Snapshot ID to compare to (optional, latest snapshot if empty)
//
// Response:
//
//	200 OK: graph.GraphDiff
//	400 Bad Request: Missing base
//	404 Not Found: Unknown snapshot
//	503 Service Unavailable: Snapshots not configured
func (h *Handlers) HandleDiff(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiff")

	base := c.Query("base")
	if base == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "base parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	diff, err := h.svc.Diff(c.Request.Context(), base, c.Query("target"))
	if err != nil {
		logger.Warn("diff failed", slog.String("error", err.Error()))
		if errors.Is(err, ErrSnapshotsDisabled) {
			writeSnapshotsUnavailable(c)
			return
		}
		writeSnapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// HandleHealth handles GET /v1/callscope/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ProjectRoot: h.svc.Config().ProjectRoot,
		Entry:       h.svc.Entry(),
		TraceActive: hook.Active() != nil,
		Snapshots:   h.svc.Snapshots() != nil,
	})
}

// writePipelineError maps a pipeline error to a status and code.
func writePipelineError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "PIPELINE_FAILED"
	switch {
	case errors.Is(err, ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, hook.ErrTraceAlreadyActive):
		status, code = http.StatusConflict, "TRACE_ACTIVE"
	case errors.Is(err, runner.ErrScriptNotFound):
		status, code = http.StatusNotFound, "SCRIPT_NOT_FOUND"
	case errors.Is(err, runner.ErrLoadFailure):
		code = "LOAD_FAILED"
	case errors.Is(err, graph.ErrSerialization):
		code = "STORE_ERROR"
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeSnapshotError(c *gin.Context, err error) {
	if errors.Is(err, graph.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: err.Error(),
		Code:  "SNAPSHOT_ERROR",
	})
}

func writeSnapshotsUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "snapshot storage is not configured",
		Code:  "SNAPSHOTS_NOT_AVAILABLE",
	})
}

// getOrCreateRequestID returns the X-Request-ID header, generating one if
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
