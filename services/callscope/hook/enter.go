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
	"runtime"
)

func noop() {}

// Enter reports a call of the calling function to the installed tracer.
//
// Description:
//
//	Captures the caller's file, line, and function symbol from the runtime
//	call stack. The optional receiver is the owning instance used for owner
//	attribution; without it the owner comes from the function symbol.
//	Returns the matching return notification, meant to be deferred:
//
//	  defer hook.Enter(s)()
//
//	When no tracer is installed Enter does nothing and returns a no-op.
//	A return notification that outlives its session is dropped.
//
// Inputs:
//
//	receiver - At most one owning instance. Extra values are ignored.
//
// Outputs:
//
//	func() - The return notification. Never nil.
//
// Thread Safety: Safe for concurrent use.
func Enter(receiver ...any) func() {
	t := installed.Load()
	if t == nil {
		return noop
	}

	inv := Invocation{}
	var pcs [1]uintptr
	if runtime.Callers(2, pcs[:]) == 1 {
		frame, _ := runtime.CallersFrames(pcs[:]).Next()
		inv.Location = Location{File: frame.File, Line: frame.Line}
		inv.Symbol = frame.Function
	}
	if len(receiver) > 0 {
		inv.Receiver = receiver[0]
	}

	t.mu.Lock()
	gen := t.generation
	t.call(inv)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.generation != gen {
			return
		}
		t.ret()
	}
}
