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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callscope/services/callscope/hook"
)

var errOutOfStock = errors.New("out of stock")

type OrderRepository struct{}

func (r *OrderRepository) Save(string) {
	defer hook.Enter(r)()
}

type EmailService struct{}

func (e *EmailService) SendOrderConfirmation(string) {
	defer hook.Enter(e)()
}

type OrderService struct {
	repo OrderRepository
	mail EmailService
}

func (s *OrderService) CreateOrder(id string) error {
	defer hook.Enter(s)()
	if id == "" {
		return errOutOfStock
	}
	s.repo.Save(id)
	if id == "boom" {
		panic("payment gateway exploded")
	}
	s.mail.SendOrderConfirmation(id)
	return nil
}

func program(id string) Program {
	return func(context.Context) error {
		return (&OrderService{}).CreateOrder(id)
	}
}

func newTracer() *hook.Tracer {
	return hook.NewTracer(hook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func qualified(events []*hook.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Qualified()
	}
	return out
}

func TestRun_OrderScenario(t *testing.T) {
	loader := NewRegistryLoader()
	loader.Register("orders", program("A-1"))
	tr := newTracer()

	res, err := Run(context.Background(), tr, loader, "orders")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"OrderService::CreateOrder",
		"OrderRepository::Save",
		"EmailService::SendOrderConfirmation",
	}, qualified(res.Events))
	assert.Equal(t, "orders", res.Origin)
	assert.Equal(t, tr.SessionID(), res.SessionID)
	assert.Equal(t, 3, res.Stats.Recorded)
	assert.False(t, tr.IsActive())
	assert.Nil(t, hook.Active())
}

func TestRun_PanicKeepsPartialEvents(t *testing.T) {
	tr := newTracer()

	res, err := RunFunc(context.Background(), tr, "boom", program("boom"))

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "payment gateway exploded", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Nil(t, panicErr.Unwrap())

	require.NotNil(t, res)
	assert.Equal(t, []string{"OrderService::CreateOrder", "OrderRepository::Save"}, qualified(res.Events))
	assert.Equal(t, 0, tr.Depth())
	assert.Nil(t, hook.Active())
}

func TestRun_ProgramErrorPropagates(t *testing.T) {
	tr := newTracer()

	res, err := RunFunc(context.Background(), tr, "empty", program(""))
	assert.ErrorIs(t, err, errOutOfStock)
	require.NotNil(t, res)
	assert.Len(t, res.Events, 1)
	assert.Nil(t, hook.Active())
}

func TestRun_PanicWithError(t *testing.T) {
	res, err := RunFunc(context.Background(), newTracer(), "err", func(context.Context) error {
		panic(errOutOfStock)
	})
	assert.ErrorIs(t, err, errOutOfStock)
	assert.NotNil(t, res)
}

func TestRun_ScriptNotFound(t *testing.T) {
	tr := newTracer()

	res, err := Run(context.Background(), tr, NewRegistryLoader(), "missing")
	assert.ErrorIs(t, err, ErrScriptNotFound)
	require.NotNil(t, res)
	assert.Empty(t, res.Events)
	assert.Nil(t, hook.Active())
}

func TestRun_AlreadyActive(t *testing.T) {
	other := newTracer()
	require.NoError(t, other.Begin("other"))
	defer other.End()

	res, err := RunFunc(context.Background(), newTracer(), "orders", program("A-1"))
	assert.ErrorIs(t, err, hook.ErrTraceAlreadyActive)
	assert.Nil(t, res)
	assert.Same(t, other, hook.Active())
}

func TestRunFunc_NilProgram(t *testing.T) {
	_, err := RunFunc(context.Background(), newTracer(), "nil", nil)
	assert.ErrorIs(t, err, ErrLoadFailure)
	assert.Nil(t, hook.Active())
}

func TestRegistryLoader(t *testing.T) {
	l := NewRegistryLoader()
	l.Register("b", program("x"))
	l.Register("a", program("y"))
	l.Register("broken", nil)

	assert.Equal(t, []string{"a", "b", "broken"}, l.Names())
	_, err := l.Load(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrLoadFailure)
	prog, err := l.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.NotNil(t, prog)
}

func TestPluginLoader(t *testing.T) {
	l := PluginLoader{}

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "missing.so"))
	assert.ErrorIs(t, err, ErrScriptNotFound)

	notPlugin := filepath.Join(t.TempDir(), "script.so")
	require.NoError(t, os.WriteFile(notPlugin, []byte("not a shared object"), 0o644))
	_, err = l.Load(context.Background(), notPlugin)
	assert.ErrorIs(t, err, ErrLoadFailure)
}

func TestAsProgram(t *testing.T) {
	called := 0
	for _, sym := range []any{
		func(context.Context) error { called++; return nil },
		func() error { called++; return nil },
		func() { called++ },
	} {
		prog, ok := asProgram(sym)
		require.True(t, ok)
		require.NoError(t, prog(context.Background()))
	}
	assert.Equal(t, 3, called)

	_, ok := asProgram("Main")
	assert.False(t, ok)
	_, ok = asProgram(func(int) {})
	assert.False(t, ok)
}
