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
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/hook"
	"github.com/AleutianAI/callscope/services/callscope/runner"
)

// =============================================================================
// Instrumented Test Subjects
// =============================================================================

var errPaymentDeclined = errors.New("payment declined")

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
	s.repo.Save(id)
	switch id {
	case "declined":
		return errPaymentDeclined
	case "boom":
		panic("payment gateway exploded")
	}
	s.mail.SendOrderConfirmation(id)
	return nil
}

// CancelOrder is declared but never called by the test programs.
func (s *OrderService) CancelOrder(string) {
	defer hook.Enter(s)()
}

func placeOrder(id string) error {
	defer hook.Enter()()
	return (&OrderService{}).CreateOrder(id)
}

func checkout(id string) runner.Program {
	return func(context.Context) error {
		return placeOrder(id)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig bounds the project at this package directory and scans only
// its own files, tests included, so the subjects above appear in the
// inventory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := filepath.Abs(".")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ProjectRoot = dir
	cfg.Scanner.Languages = []string{"go"}
	cfg.Scanner.IncludeTests = true
	cfg.Scanner.SkipDirs = append(cfg.Scanner.SkipDirs,
		"ast", "config", "filter", "graph", "hook", "resolve", "runner", "telemetry")
	cfg.Server.RegeneratePerMinute = 0
	return cfg
}

func testLoader() *runner.RegistryLoader {
	l := runner.NewRegistryLoader()
	l.Register("checkout", checkout("A-1"))
	l.Register("declined", checkout("declined"))
	l.Register("boom", checkout("boom"))
	return l
}

func newTestService(t *testing.T, cfg *config.Config, entry string, opts ...ServiceOption) (*Service, *graph.FileStore) {
	t.Helper()
	store := graph.NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
	svc, err := NewService(cfg, testLoader(), entry, store, append([]ServiceOption{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return svc, store
}

func newSnapshotManager(t *testing.T) *graph.SnapshotManager {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mgr, err := graph.NewSnapshotManager(db, quietLogger())
	require.NoError(t, err)
	return mgr
}

func mustNode(t *testing.T, g *graph.Graph, id string) graph.Node {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "missing node %s", id)
	return n
}

// =============================================================================
// Tests
// =============================================================================

func TestNewService_Validation(t *testing.T) {
	store := graph.NewFileStore(filepath.Join(t.TempDir(), "g.json"))
	cfg := config.Default()

	_, err := NewService(nil, testLoader(), "checkout", store)
	assert.Error(t, err)
	_, err = NewService(cfg, nil, "checkout", store)
	assert.Error(t, err)
	_, err = NewService(cfg, testLoader(), "", store)
	assert.Error(t, err)
	_, err = NewService(cfg, testLoader(), "checkout", nil)
	assert.Error(t, err)
}

func TestService_Generate(t *testing.T) {
	svc, store := newTestService(t, testConfig(t), "checkout")

	rep, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)
	require.NoError(t, rep.Graph.Validate())

	assert.Equal(t, "checkout", rep.Graph.Origin)
	assert.Equal(t, rep.Run.SessionID, rep.Graph.SessionID)
	assert.Positive(t, rep.Scan.FilesParsed)
	assert.Nil(t, rep.Snapshot)
	assert.NoError(t, rep.RunErr)

	g := rep.Graph
	assert.True(t, mustNode(t, g, "OrderService::CreateOrder").WasExercised)
	assert.True(t, mustNode(t, g, "OrderRepository::Save").WasExercised)
	assert.True(t, mustNode(t, g, "EmailService::SendOrderConfirmation").WasExercised)

	cancel := mustNode(t, g, "OrderService::CancelOrder")
	assert.False(t, cancel.WasExercised, "declared but never called")
	for _, l := range g.LinksOf(graph.LinkKindInvokes) {
		assert.NotEqual(t, cancel.ID, l.Source)
		assert.NotEqual(t, cancel.ID, l.Target)
	}

	var invokes []string
	for _, l := range g.LinksOf(graph.LinkKindInvokes) {
		invokes = append(invokes, l.Source+" -> "+l.Target)
	}
	assert.ElementsMatch(t, []string{
		"OrderService::CreateOrder -> EmailService::SendOrderConfirmation",
		"OrderService::CreateOrder -> OrderRepository::Save",
	}, invokes)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, g.Hash(), stored.Hash())
}

func TestService_GenerateModulePseudoTypes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Graph.TrackModulePseudoTypes = true
	svc, _ := newTestService(t, cfg, "checkout")

	rep, err := svc.Generate(context.Background())
	require.NoError(t, err)

	module := mustNode(t, rep.Graph, "module:service_test")
	assert.Equal(t, graph.NodeKindModule, module.Kind)

	found := false
	for _, l := range rep.Graph.LinksOf(graph.LinkKindInvokes) {
		if l.Target == "OrderService::CreateOrder" {
			assert.Equal(t, graph.MemberID("module:service_test", "placeOrder"), l.Source)
			found = true
		}
	}
	assert.True(t, found, "module-level caller must produce an invokes link")
}

func TestService_GenerateProgramError(t *testing.T) {
	svc, store := newTestService(t, testConfig(t), "declined")

	rep, err := svc.Generate(context.Background())
	require.ErrorIs(t, err, errPaymentDeclined)
	require.NotNil(t, rep, "a failed program still yields its graph")
	assert.ErrorIs(t, rep.RunErr, errPaymentDeclined)
	assert.True(t, mustNode(t, rep.Graph, "OrderRepository::Save").WasExercised)
	assert.False(t, mustNode(t, rep.Graph, "EmailService::SendOrderConfirmation").WasExercised)

	_, err = store.Load(context.Background())
	assert.NoError(t, err)
}

func TestService_GeneratePanic(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t), "boom")

	rep, err := svc.Generate(context.Background())
	var pe *runner.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "payment gateway exploded", pe.Value)
	require.NotNil(t, rep)
	assert.Equal(t, 0, rep.Run.Stats.Unwound)
	assert.True(t, mustNode(t, rep.Graph, "OrderService::CreateOrder").WasExercised)
	assert.Nil(t, hook.Active())
}

func TestService_GenerateUnknownEntry(t *testing.T) {
	svc, store := newTestService(t, testConfig(t), "missing")

	rep, err := svc.Generate(context.Background())
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, runner.ErrScriptNotFound)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, graph.ErrGraphNotFound)
}

func TestService_GenerateWithoutProjectRoot(t *testing.T) {
	cfg := config.Default()
	svc, _ := newTestService(t, cfg, "checkout")

	rep, err := svc.Generate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Scan.FilesParsed)
	assert.True(t, mustNode(t, rep.Graph, "OrderService::CreateOrder").WasExercised)
	_, ok := rep.Graph.Node("OrderService::CancelOrder")
	assert.False(t, ok, "no inventory without a project root")
}

func TestService_GraphRegeneratesOnlyWhenMissing(t *testing.T) {
	var runs atomic.Int32
	loader := runner.NewRegistryLoader()
	loader.Register("checkout", func(ctx context.Context) error {
		runs.Add(1)
		return checkout("A-1")(ctx)
	})
	store := graph.NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
	svc, err := NewService(testConfig(t), loader, "checkout", store, WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.Graph(ctx)
	require.NoError(t, err)
	second, err := svc.Graph(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, first.Hash(), second.Hash())

	require.NoError(t, svc.Invalidate(ctx))
	require.NoError(t, svc.Invalidate(ctx), "invalidating twice is not an error")
	_, err = svc.Graph(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), runs.Load())
}

func TestService_RegenerateRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RegeneratePerMinute = 1
	svc, _ := newTestService(t, cfg, "checkout")
	ctx := context.Background()

	_, err := svc.Regenerate(ctx)
	require.NoError(t, err)

	rep, err := svc.Regenerate(ctx)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Generate(ctx)
	assert.NoError(t, err, "direct generation is not rate limited")
}

func TestService_SnapshotsAndDiff(t *testing.T) {
	mgr := newSnapshotManager(t)
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, "declined", WithSnapshots(mgr))
	ctx := context.Background()

	base, err := svc.Generate(ctx)
	require.Error(t, err)
	require.NotNil(t, base.Snapshot)

	svc.entry = "checkout"
	target, err := svc.Generate(ctx)
	require.NoError(t, err)
	require.NotNil(t, target.Snapshot)

	diff, err := svc.Diff(ctx, base.Snapshot.SnapshotID, "")
	require.NoError(t, err)
	assert.Equal(t, target.Snapshot.SnapshotID, diff.TargetID)
	assert.Contains(t, diff.InvocationsAdded, "OrderService::CreateOrder -> EmailService::SendOrderConfirmation")

	var nowExercised []string
	for _, nd := range diff.NodesModified {
		if nd.ChangeType == graph.ChangeNowExercised {
			nowExercised = append(nowExercised, nd.NodeID)
		}
	}
	assert.Contains(t, nowExercised, "EmailService::SendOrderConfirmation")

	_, err = svc.Diff(ctx, "unknown", "")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

func TestService_DiffWithoutSnapshots(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t), "checkout")
	_, err := svc.Diff(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
}

func TestService_Inventory(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t), "checkout")

	inv, stats, err := svc.Inventory(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.FilesParsed)
	assert.True(t, inv.Has("OrderService", "CancelOrder"))
	assert.True(t, inv.Has("Service", "Generate"))
}
