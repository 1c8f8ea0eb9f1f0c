// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"strings"
)

// Symbol is a runtime function symbol split into its parts.
//
// Description:
//
//	Runtime symbols have the forms
//	  pkg/path.Func
//	  pkg/path.Type.Method
//	  pkg/path.(*Type).Method
//	  pkg/path.(*Type[...]).Method
//	  pkg/path.Func.func1
//	Dots in the last import path element are escaped as %2e by the linker.
type Symbol struct {
	// Raw is the symbol as reported by the runtime.
	Raw string

	// Package is the import path.
	Package string

	// Receiver is the receiver type name without pointer or type arguments.
	// Empty for plain functions.
	Receiver string

	// Pointer is true for pointer receivers.
	Pointer bool

	// Name is the function or method name, including any closure suffix.
	Name string
}

// HasReceiver reports whether the symbol names a method.
func (s Symbol) HasReceiver() bool {
	return s.Receiver != ""
}

// ParseSymbol splits a runtime function symbol.
//
// Description:
//
//	Never fails. A symbol without a package separator is returned with only
//	Name set. Generic type arguments ("[...]") and method value suffixes
//	("-fm") are removed.
//
// Inputs:
//
//	symbol - Symbol from runtime.FuncForPC(pc).Name().
//
// Outputs:
//
//	Symbol - The parsed parts.
//
// Thread Safety: Safe for concurrent use (pure function).
func ParseSymbol(symbol string) Symbol {
	s := Symbol{Raw: symbol}

	clean := stripTypeArgs(symbol)
	slash := strings.LastIndex(clean, "/")
	rest := clean[slash+1:]
	dot := strings.Index(rest, ".")
	if dot < 0 {
		s.Name = trimMethodValue(clean)
		return s
	}

	s.Package = strings.ReplaceAll(clean[:slash+1+dot], "%2e", ".")
	rest = rest[dot+1:]

	if strings.HasPrefix(rest, "(") {
		end := strings.Index(rest, ")")
		if end < 0 {
			s.Name = trimMethodValue(rest)
			return s
		}
		recv := rest[1:end]
		if strings.HasPrefix(recv, "*") {
			s.Pointer = true
			recv = recv[1:]
		}
		s.Receiver = recv
		s.Name = trimMethodValue(strings.TrimPrefix(rest[end+1:], "."))
		return s
	}

	first, after, ok := strings.Cut(rest, ".")
	if ok && !isClosureSegment(after) {
		s.Receiver = first
		s.Name = trimMethodValue(after)
		return s
	}

	s.Name = trimMethodValue(rest)
	return s
}

// isClosureSegment reports whether the text after a function name is a
// compiler-generated closure or wrapper suffix rather than a method name.
func isClosureSegment(after string) bool {
	seg, _, _ := strings.Cut(after, ".")
	for _, prefix := range []string{"func", "gowrap", "deferwrap"} {
		if num, ok := strings.CutPrefix(seg, prefix); ok && isDigits(num) {
			return true
		}
	}
	return isDigits(seg)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stripTypeArgs removes every bracketed type argument list.
func stripTypeArgs(s string) string {
	if !strings.Contains(s, "[") {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func trimMethodValue(name string) string {
	return strings.TrimSuffix(name, "-fm")
}
