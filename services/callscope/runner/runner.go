// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner loads a subject program and runs it inside a trace session.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/hook"
)

var (
	// ErrScriptNotFound is returned when the subject program path does not
	// exist or names no registered program.
	ErrScriptNotFound = errors.New("subject program not found")

	// ErrLoadFailure is returned when the subject program exists but cannot
	// be turned into a runnable Program.
	ErrLoadFailure = errors.New("subject program could not be loaded")
)

// Program is a runnable subject program.
type Program func(ctx context.Context) error

// Loader turns a path into a runnable Program.
type Loader interface {
	// Load resolves path. Errors wrap ErrScriptNotFound or ErrLoadFailure.
	Load(ctx context.Context, path string) (Program, error)
}

// PanicError is returned when the subject program panics.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("subject program panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Result is the outcome of one traced run.
type Result struct {
	Origin    string
	SessionID string

	// Events are the recorded events, including those recorded before a
	// failure.
	Events []*hook.Event

	Stats    hook.Stats
	Duration time.Duration
}

// Run loads and runs a subject program inside a trace session.
//
// Description:
//
//	Begins the session with path as its origin, loads the program, and
//	runs it. The session is ended on every exit path: load failure,
//	program error, or panic. A panic is recovered into *PanicError.
//
// Inputs:
//
//	ctx - Passed to the loader and the program.
//	tracer - The tracer. Must not be active.
//	loader - Resolves path.
//	path - The subject program.
//
// Outputs:
//
//	*Result - Non-nil whenever the session began, even on error.
//	error - hook.ErrTraceAlreadyActive, a loader error, the program's own
//	error, or *PanicError.
func Run(ctx context.Context, tracer *hook.Tracer, loader Loader, path string) (*Result, error) {
	return run(ctx, tracer, path, func() (Program, error) {
		return loader.Load(ctx, path)
	})
}

// RunFunc runs an in-process program inside a trace session with the same
// guarantees as Run.
func RunFunc(ctx context.Context, tracer *hook.Tracer, origin string, prog Program) (*Result, error) {
	return run(ctx, tracer, origin, func() (Program, error) {
		if prog == nil {
			return nil, fmt.Errorf("%w: nil program", ErrLoadFailure)
		}
		return prog, nil
	})
}

func run(ctx context.Context, tracer *hook.Tracer, origin string, load func() (Program, error)) (res *Result, err error) {
	if err := tracer.Begin(origin); err != nil {
		return nil, err
	}

	res = &Result{Origin: tracer.Origin(), SessionID: tracer.SessionID()}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		res.Events = tracer.End()
		res.Stats = tracer.Stats()
		res.Duration = time.Since(start)

		attrs := []any{
			slog.String("origin", origin),
			slog.String("session_id", res.SessionID),
			slog.Int("events", len(res.Events)),
			slog.Duration("duration", res.Duration),
		}
		if err != nil {
			slog.Warn("traced run failed", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		slog.Info("traced run complete", attrs...)
	}()

	prog, err := load()
	if err != nil {
		return res, err
	}
	return res, prog(ctx)
}
