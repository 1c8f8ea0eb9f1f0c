// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/callscope/services/callscope/filter"
)

// =============================================================================
// Prometheus Metrics for the Instrumentation Hook
// =============================================================================

var (
	// hookEventsTotal counts call notifications by filter decision.
	// Labels: decision (include, admit_external, skip_synthetic, skip_self,
	// skip_external, skip_runtime, skip_build, skip_loader, skip_owner)
	hookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callscope",
		Subsystem: "hook",
		Name:      "events_total",
		Help:      "Total call notifications by filter decision",
	}, []string{"decision"})

	// hookBoundaryAdmissionsTotal counts admitted boundary crossings.
	hookBoundaryAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callscope",
		Subsystem: "hook",
		Name:      "boundary_admissions_total",
		Help:      "Total external invocations admitted across the project boundary",
	})

	// hookSessionsTotal counts trace sessions by status.
	// Labels: status (started, rejected, ended, unbalanced)
	hookSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callscope",
		Subsystem: "hook",
		Name:      "sessions_total",
		Help:      "Total trace sessions by status",
	}, []string{"status"})

	// hookStackDepth records the maximum shadow stack depth per session.
	hookStackDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "callscope",
		Subsystem: "hook",
		Name:      "max_stack_depth",
		Help:      "Maximum shadow stack depth reached per session",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
	})
)

// recordDecision records one call notification.
func recordDecision(d filter.Decision, ownerExcluded bool) {
	label := d.String()
	if !d.Skip() && ownerExcluded {
		label = "skip_owner"
	}
	hookEventsTotal.WithLabelValues(label).Inc()
	if d == filter.AdmitExternal {
		hookBoundaryAdmissionsTotal.Inc()
	}
}

// recordSessionEnd records the end of a session.
func recordSessionEnd(stats Stats) {
	status := "ended"
	if stats.Unwound > 0 || stats.UnbalancedReturns > 0 {
		status = "unbalanced"
	}
	hookSessionsTotal.WithLabelValues(status).Inc()
	hookStackDepth.Observe(float64(stats.MaxDepth))
}
