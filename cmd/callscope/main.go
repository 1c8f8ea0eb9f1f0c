// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callscope traces a Go program and writes its call graph.
//
// Usage:
//
//	callscope trace ./subject.so --output graph.json
//	callscope scan ./project
//	callscope serve ./subject.so --port 12218
//	callscope diff <base-snapshot> [target-snapshot]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/callscope/services/callscope/runner"
)

// Exit codes.
const (
	exitSuccess = 0
	exitError   = 1

	// exitSubjectFailed means the graph was written but the traced program
	// returned an error or panicked.
	exitSubjectFailed = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if shutdownTracing != nil {
		if serr := shutdownTracing(context.Background()); serr != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", serr.Error()))
		}
	}
	if err == nil {
		return exitSuccess
	}

	var subject *subjectError
	if errors.As(err, &subject) {
		fmt.Fprintln(os.Stderr, styles.Warning.Render("traced program failed: "+subject.Error()))
		var pe *runner.PanicError
		if errors.As(subject, &pe) && debugLogging {
			fmt.Fprintln(os.Stderr, string(pe.Stack))
		}
		return exitSubjectFailed
	}
	fmt.Fprintln(os.Stderr, styles.Error.Render("error: "+err.Error()))
	return exitError
}

// subjectError marks a failure of the traced program after the graph was
// written.
type subjectError struct {
	err error
}

func (e *subjectError) Error() string {
	return e.err.Error()
}

func (e *subjectError) Unwrap() error {
	return e.err
}
