// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"plugin"
	"sort"
	"sync"
)

// DefaultEntrySymbol is the symbol PluginLoader looks up.
const DefaultEntrySymbol = "Main"

// RegistryLoader resolves names to programs registered in-process.
//
// Thread Safety: Safe for concurrent use.
type RegistryLoader struct {
	mu       sync.RWMutex
	programs map[string]Program
}

// NewRegistryLoader creates an empty RegistryLoader.
func NewRegistryLoader() *RegistryLoader {
	return &RegistryLoader{programs: make(map[string]Program)}
}

// Register adds or replaces a program.
func (l *RegistryLoader) Register(name string, prog Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs[name] = prog
}

// Names returns the registered names in sorted order.
func (l *RegistryLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.programs))
	for name := range l.programs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load implements Loader.
func (l *RegistryLoader) Load(_ context.Context, name string) (Program, error) {
	l.mu.RLock()
	prog, ok := l.programs[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrScriptNotFound, name)
	}
	if prog == nil {
		return nil, fmt.Errorf("%w: %q is registered without a program", ErrLoadFailure, name)
	}
	return prog, nil
}

// PluginLoader loads a Go plugin built with -buildmode=plugin.
//
// Description:
//
//	The plugin must export a function under Symbol with one of the
//	signatures func(context.Context) error, func() error, or func().
//	Plugin init functions run during Load, inside the trace session.
type PluginLoader struct {
	// Symbol is the exported entry point. Empty means DefaultEntrySymbol.
	Symbol string
}

// Load implements Loader.
func (l PluginLoader) Load(_ context.Context, path string) (Program, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrLoadFailure, path, err)
	}

	symbol := l.Symbol
	if symbol == "" {
		symbol = DefaultEntrySymbol
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailure, path, err)
	}
	prog, ok := asProgram(sym)
	if !ok {
		return nil, fmt.Errorf("%w: %s: symbol %s has unsupported type %T", ErrLoadFailure, path, symbol, sym)
	}
	return prog, nil
}

// asProgram adapts the supported entry point signatures.
func asProgram(sym any) (Program, bool) {
	switch fn := sym.(type) {
	case func(context.Context) error:
		return fn, true
	case func() error:
		return func(context.Context) error { return fn() }, true
	case func():
		return func(context.Context) error {
			fn()
			return nil
		}, true
	}
	return nil, false
}

var (
	_ Loader = (*RegistryLoader)(nil)
	_ Loader = PluginLoader{}
)
