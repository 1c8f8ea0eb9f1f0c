// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hook records the calls a program makes while a trace session is active.
//
// Subject code is instrumented with a deferred Enter:
//
//	func (s *OrderService) PlaceOrder(o Order) error {
//		defer hook.Enter(s)()
//		...
//	}
//
// Enter reports the call to the installed Tracer and returns the matching
// return notification. Deferred calls run while a panic unwinds, so the
// tracer's shadow stack stays balanced on abnormal exit.
package hook

import (
	"errors"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/filter"
	"github.com/AleutianAI/callscope/services/callscope/resolve"
)

// ErrTraceAlreadyActive is returned by Begin when a tracer is installed.
var ErrTraceAlreadyActive = errors.New("trace already active")

// installed is the process-wide hook registration.
var installed atomic.Pointer[Tracer]

// Tracer tracks one trace session at a time.
//
// Description:
//
//	Begin installs the tracer as the process-wide hook. Every call
//	notification pushes a ShadowFrame and every return notification pops
//	one, whether or not the filter policy or resolver rejected the call.
//	Calls that pass both are recorded as Events. End uninstalls the tracer
//	and returns the events.
//
// Thread Safety: Safe for concurrent use. Ordering guarantees hold for a
// single logical call stack only.
type Tracer struct {
	policy   *filter.Policy
	resolver *resolve.Resolver
	logger   *slog.Logger

	mu         sync.Mutex
	active     bool
	generation uint64
	origin     string
	sessionID  string
	stack      []*ShadowFrame
	events     []*Event
	stats      Stats
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithPolicy sets the filter policy.
func WithPolicy(p *filter.Policy) Option {
	return func(t *Tracer) {
		if p != nil {
			t.policy = p
		}
	}
}

// WithResolver sets the class resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(t *Tracer) {
		if r != nil {
			t.resolver = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracer creates an inactive Tracer.
//
// Description:
//
//	Defaults: a filter policy without a project boundary that treats this
//	package's own files as tracer implementation, and a resolver with an
//	empty denylist.
//
// Outputs:
//
//	*Tracer - Ready for Begin. Never nil.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		policy:   filter.NewPolicy(filter.WithSelfPaths(ImplementationDir())),
		resolver: resolve.NewResolver(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FromConfig creates an inactive Tracer whose policy and resolver follow cfg.
// This package's own files are always treated as tracer implementation.
func FromConfig(cfg *config.Config, opts ...Option) *Tracer {
	base := []Option{
		WithPolicy(filter.FromConfig(cfg, filter.WithSelfPaths(ImplementationDir()))),
		WithResolver(resolve.NewResolver(resolve.WithExcludedTypes(cfg.Resolver.ExcludedTypes))),
	}
	return NewTracer(append(base, opts...)...)
}

// ImplementationDir returns the directory holding this package's source.
// Filter policies pass it to filter.WithSelfPaths.
func ImplementationDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(file)
}

// Active returns the installed tracer, or nil.
func Active() *Tracer {
	return installed.Load()
}

// Begin starts a trace session.
//
// Description:
//
//	Installs the tracer as the process-wide hook, resets the shadow stack,
//	the event list, and the policy's boundary admission, and assigns a new
//	session id.
//
// Inputs:
//
//	origin - Entry point of the traced program, copied to every event.
//
// Outputs:
//
//	error - ErrTraceAlreadyActive if any tracer is installed.
//
// Thread Safety: Safe for concurrent use. Exactly one concurrent Begin wins.
func (t *Tracer) Begin(origin string) error {
	if !installed.CompareAndSwap(nil, t) {
		hookSessionsTotal.WithLabelValues("rejected").Inc()
		return ErrTraceAlreadyActive
	}

	t.policy.Reset()

	t.mu.Lock()
	t.active = true
	t.generation++
	t.origin = origin
	t.sessionID = uuid.NewString()
	t.stack = nil
	t.events = nil
	t.stats = Stats{}
	sessionID := t.sessionID
	t.mu.Unlock()

	hookSessionsTotal.WithLabelValues("started").Inc()
	t.logger.Info("trace session started",
		slog.String("session_id", sessionID),
		slog.String("origin", origin),
		slog.Bool("boundary", t.policy.HasBoundary()),
	)
	return nil
}

// End finishes the trace session.
//
// Description:
//
//	Uninstalls the hook and returns the recorded events in call order. Any
//	frames still on the shadow stack are discarded so the depth is 0
//	afterwards. Calling End again, or on a tracer that never began, returns
//	the last session's events without side effects.
//
// Outputs:
//
//	[]*Event - The recorded events. The slice is owned by the caller.
//
// Thread Safety: Safe for concurrent use.
func (t *Tracer) End() []*Event {
	installed.CompareAndSwap(t, nil)

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Event, len(t.events))
	copy(out, t.events)
	if !t.active {
		return out
	}
	t.active = false

	if n := len(t.stack); n > 0 {
		t.stats.Unwound = n
		t.logger.Warn("trace session ended with open frames",
			slog.String("session_id", t.sessionID),
			slog.Int("open_frames", n),
		)
		t.stack = nil
	}

	recordSessionEnd(t.stats)
	t.logger.Info("trace session ended",
		slog.String("session_id", t.sessionID),
		slog.Int("recorded", t.stats.Recorded),
		slog.Int("skipped", t.stats.Skipped),
		slog.Int("max_depth", t.stats.MaxDepth),
	)
	return out
}

// Call handles a call notification.
//
// Description:
//
//	Pushes a ShadowFrame for the invocation. The caller is the nearest
//	recorded frame below it. The policy sees whether the frame directly
//	below is inside the project boundary, recorded or not; an empty stack
//	counts as inside. Admission is decided before owner exclusion, so an
//	admitted external call with an excluded owner uses up the admission.
//	Ignored when no session is active.
//
// Inputs:
//
//	inv - The invocation.
//
// Thread Safety: Safe for concurrent use.
func (t *Tracer) Call(inv Invocation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.call(inv)
}

func (t *Tracer) call(inv Invocation) {
	if !t.active {
		return
	}

	callerInBoundary := true
	if n := len(t.stack); n > 0 {
		callerInBoundary = t.policy.InBoundary(t.stack[n-1].Location.File)
	}

	decision := t.policy.Decide(inv.Location.File, inv.Symbol, callerInBoundary)
	attr := t.resolver.Resolve(inv)
	recordDecision(decision, attr.Excluded)

	frame := &ShadowFrame{
		Location: inv.Location,
		Name:     inv.MemberName(),
		Owner:    attr.Owner,
		Symbol:   inv.Symbol,
		Caller:   t.nearestRecorded(),
		Depth:    len(t.stack),
		Origin:   t.origin,
		Skipped:  decision.Skip() || attr.Excluded,
		Decision: decision,
	}
	t.stack = append(t.stack, frame)
	if len(t.stack) > t.stats.MaxDepth {
		t.stats.MaxDepth = len(t.stack)
	}

	if frame.Skipped {
		t.stats.Skipped++
		return
	}

	ev := &Event{
		Location: frame.Location,
		Name:     frame.Name,
		Owner:    frame.Owner,
		Symbol:   frame.Symbol,
		Caller:   frame.Caller,
		Depth:    frame.Depth,
		Origin:   frame.Origin,
		Seq:      len(t.events),
		Admitted: decision == filter.AdmitExternal,
	}
	frame.event = ev
	t.events = append(t.events, ev)
	t.stats.Recorded++
}

// Return handles a return notification. A return with an empty shadow
// stack is counted and ignored.
//
// Thread Safety: Safe for concurrent use.
func (t *Tracer) Return() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ret()
}

func (t *Tracer) ret() {
	if !t.active {
		return
	}
	n := len(t.stack)
	if n == 0 {
		t.stats.UnbalancedReturns++
		return
	}
	t.stack[n-1] = nil
	t.stack = t.stack[:n-1]
}

// nearestRecorded returns the event of the topmost recorded frame.
func (t *Tracer) nearestRecorded() *Event {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if !t.stack[i].Skipped {
			return t.stack[i].event
		}
	}
	return nil
}

// Depth returns the current shadow stack depth.
func (t *Tracer) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// IsActive reports whether a session is running.
func (t *Tracer) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// SessionID returns the current or last session id.
func (t *Tracer) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Origin returns the current or last session origin.
func (t *Tracer) Origin() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.origin
}

// Stats returns the current or last session statistics.
func (t *Tracer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Policy returns the tracer's filter policy.
func (t *Tracer) Policy() *filter.Policy {
	return t.policy
}
