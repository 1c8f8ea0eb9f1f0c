// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"go/build"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callscope/services/callscope/config"
)

func TestDecision_Skip(t *testing.T) {
	assert.False(t, Include.Skip())
	assert.False(t, AdmitExternal.Skip())
	for _, d := range []Decision{SkipSynthetic, SkipSelf, SkipExternal, SkipRuntime, SkipBuild, SkipLoader} {
		assert.True(t, d.Skip(), d.String())
	}
	assert.Equal(t, "admit_external", AdmitExternal.String())
	assert.Equal(t, "unknown", Decision(99).String())
}

func TestPolicy_Synthetic(t *testing.T) {
	p := NewPolicy(WithProjectRoot("/srv/shop"))

	assert.Equal(t, SkipSynthetic, p.Decide("", "x.F", true))
	assert.Equal(t, SkipSynthetic, p.Decide("<autogenerated>", "x.F", true))
	assert.Equal(t, SkipSynthetic, p.Decide("<frozen importlib._bootstrap>", "", true))
}

func TestPolicy_Self(t *testing.T) {
	p := NewPolicy(
		WithProjectRoot("/srv/shop"),
		WithSelfPaths("/srv/shop/tracer", "/srv/shop/extra.go"),
	)

	assert.Equal(t, SkipSelf, p.Decide("/srv/shop/tracer/hook.go", "", true))
	assert.Equal(t, SkipSelf, p.Decide("/srv/shop/extra.go", "", true))
	assert.Equal(t, Include, p.Decide("/srv/shop/tracer/hook_test.go", "", true))
	assert.Equal(t, Include, p.Decide("/srv/shop/tracer/sub/nested.go", "", true))
}

func TestPolicy_BoundaryInside(t *testing.T) {
	p := NewPolicy(WithProjectRoot("/srv/shop"))

	assert.True(t, p.HasBoundary())
	assert.True(t, p.InBoundary("/srv/shop/orders/service.go"))
	assert.False(t, p.InBoundary("/srv/shopping/cart.go"))
	assert.False(t, p.InBoundary("/srv/other/lib.go"))
	assert.Equal(t, Include, p.Decide("/srv/shop/orders/service.go", "shop.(*OrderService).PlaceOrder", true))
	assert.Equal(t, Include, p.Decide("/srv/shop/orders/service.go", "", false))
}

func TestPolicy_AdmitsExactlyOneExternal(t *testing.T) {
	p := NewPolicy(WithProjectRoot("/srv/shop"))

	assert.Equal(t, AdmitExternal, p.Decide("/go/pkg/mod/lib/a.go", "lib.A", true))
	assert.True(t, p.ExternalAdmitted())

	for i := 0; i < 5; i++ {
		assert.Equal(t, SkipExternal, p.Decide("/go/pkg/mod/lib/a.go", "lib.A", true))
	}
}

func TestPolicy_ExternalFromExternalCallerNeverAdmitted(t *testing.T) {
	p := NewPolicy(WithProjectRoot("/srv/shop"))

	assert.Equal(t, SkipExternal, p.Decide("/go/pkg/mod/lib/b.go", "lib.B", false))
	assert.False(t, p.ExternalAdmitted())
}

func TestPolicy_ResetClearsAdmission(t *testing.T) {
	p := NewPolicy(WithProjectRoot("/srv/shop"))

	require.Equal(t, AdmitExternal, p.Decide("/lib/a.go", "", true))
	p.Reset()
	assert.False(t, p.ExternalAdmitted())
	assert.Equal(t, AdmitExternal, p.Decide("/lib/a.go", "", true))
}

func TestPolicy_ModulePathBoundary(t *testing.T) {
	p := NewPolicy(WithModulePath("example.com/shop"))

	assert.True(t, p.InBoundary("example.com/shop/orders/service.go"))
	assert.False(t, p.InBoundary("example.com/shopping/cart.go"))
	assert.Equal(t, Include, p.Decide("example.com/shop/main.go", "main.main", true))
	assert.Equal(t, AdmitExternal, p.Decide("github.com/lib/x.go", "lib.X", true))
}

func TestPolicy_NoBoundary(t *testing.T) {
	p := NewPolicy()
	goroot := build.Default.GOROOT

	assert.False(t, p.HasBoundary())
	assert.True(t, p.InBoundary("/anything.go"))

	tests := []struct {
		name   string
		file   string
		symbol string
		want   Decision
	}{
		{name: "user code", file: "/home/dev/shop/main.go", symbol: "main.main", want: Include},
		{name: "system install", file: "/usr/lib/go/src/fmt/print.go", symbol: "fmt.Println", want: SkipRuntime},
		{name: "toolchain", file: "/home/dev/go/pkg/mod/golang.org/toolchain@v0.0.1/src/x.go", symbol: "x.F", want: SkipBuild},
		{name: "go command", file: "/home/dev/src/cmd/go/main.go", symbol: "main.main", want: SkipBuild},
		{name: "runtime symbol", file: "/opt/custom/proc.go", symbol: "runtime.main", want: SkipLoader},
		{name: "plugin symbol", file: "/opt/custom/plugin.go", symbol: "plugin.Open", want: SkipLoader},
	}
	if goroot != "" {
		tests = append(tests, struct {
			name   string
			file   string
			symbol string
			want   Decision
		}{name: "goroot", file: filepath.Join(goroot, "src", "sort", "sort.go"), symbol: "sort.Sort", want: SkipRuntime})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.file, tt.symbol, true))
		})
	}
}

func TestPolicy_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ProjectRoot = "/srv/shop"
	cfg.ModulePath = "example.com/shop"
	cfg.Filter.SyntheticMarkers = []string{"@generated"}

	p := FromConfig(cfg)

	assert.Equal(t, SkipSynthetic, p.Decide("/srv/shop/@generated/x.go", "", true))
	assert.Equal(t, AdmitExternal, p.Decide("<frozen>", "", true), "default markers replaced")
	assert.True(t, p.InBoundary("/srv/shop/orders/a.go"))
	assert.True(t, p.InBoundary("example.com/shop/orders/a.go"))
}
