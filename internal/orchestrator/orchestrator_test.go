package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/nikodemus-eth/corvusforge/internal/artifactstore"
	"github.com/nikodemus-eth/corvusforge/internal/corvusconfig"
	"github.com/nikodemus-eth/corvusforge/internal/crypto"
	"github.com/nikodemus-eth/corvusforge/internal/ledger"
	"github.com/nikodemus-eth/corvusforge/internal/sinks"
	"github.com/nikodemus-eth/corvusforge/internal/stagegraph"
	"github.com/nikodemus-eth/corvusforge/internal/stagemachine"
	"github.com/nikodemus-eth/corvusforge/internal/waiver"
)

func newTestOrchestrator(t *testing.T, cfg corvusconfig.Config) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	store, err := artifactstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	chain := crypto.NewChain()
	waivers, err := waiver.NewManager(context.Background(), store, chain, cfg.RequireWaiverSignature)
	if err != nil {
		t.Fatalf("new waiver manager: %v", err)
	}
	graph := stagegraph.NewDefault()
	dispatcher := sinks.NewDispatcher(logr.Discard())

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return fixedNow.Add(time.Duration(tick) * time.Second)
	}

	o, err := New(cfg, l, chain, waivers, graph, dispatcher, "v1", "1", "v1", nil, clock)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, l
}

func TestStartRunAppendsIntakeTransitions(t *testing.T) {
	o, l := newTestOrchestrator(t, corvusconfig.Default())
	ctx := context.Background()

	runID, err := o.StartRun(ctx, map[string]any{"git_sha": "abc123"})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	entries, err := l.EntriesForRun(ctx, runID)
	if err != nil {
		t.Fatalf("entries for run: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 intake entries, got %d", len(entries))
	}
	if entries[0].ToState != "RUNNING" || entries[1].ToState != "PASSED" {
		t.Fatalf("expected RUNNING then PASSED, got %s then %s", entries[0].ToState, entries[1].ToState)
	}

	states, err := o.GetStates(ctx, runID)
	if err != nil {
		t.Fatalf("get states: %v", err)
	}
	if states[stagegraph.StageIntake] != stagemachine.Passed {
		t.Fatalf("expected intake stage PASSED, got %s", states[stagegraph.StageIntake])
	}
}

func TestExecuteStageSuccessAppendsRunningThenPassed(t *testing.T) {
	o, _ := newTestOrchestrator(t, corvusconfig.Default())
	ctx := context.Background()

	runID, err := o.StartRun(ctx, nil)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	handler := func(ctx context.Context, input any) (any, []string, []string, error) {
		return map[string]any{"ok": true}, nil, nil, nil
	}

	output, err := o.ExecuteStage(ctx, runID, stagegraph.StagePrerequisites, map[string]any{"step": 1}, handler)
	if err != nil {
		t.Fatalf("execute stage: %v", err)
	}
	if output == nil {
		t.Fatalf("expected non-nil output")
	}

	states, err := o.GetStates(ctx, runID)
	if err != nil {
		t.Fatalf("get states: %v", err)
	}
	if states[stagegraph.StagePrerequisites] != stagemachine.Passed {
		t.Fatalf("expected stage PASSED, got %s", states[stagegraph.StagePrerequisites])
	}
	if err := o.VerifyChain(ctx, runID); err != nil {
		t.Fatalf("expected verified chain: %v", err)
	}
}

func TestExecuteStageHandlerErrorMarksFailedAndCascadesBlock(t *testing.T) {
	o, _ := newTestOrchestrator(t, corvusconfig.Default())
	ctx := context.Background()

	runID, err := o.StartRun(ctx, nil)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := o.ExecuteStage(ctx, runID, stagegraph.StagePrerequisites, nil, func(ctx context.Context, input any) (any, []string, []string, error) {
		return "ok", nil, nil, nil
	}); err != nil {
		t.Fatalf("execute prerequisites: %v", err)
	}

	failing := errors.New("boom")
	_, err = o.ExecuteStage(ctx, runID, stagegraph.StageEnvironment, nil, func(ctx context.Context, input any) (any, []string, []string, error) {
		return nil, nil, nil, failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}

	states, err := o.GetStates(ctx, runID)
	if err != nil {
		t.Fatalf("get states: %v", err)
	}
	if states[stagegraph.StageEnvironment] != stagemachine.Failed {
		t.Fatalf("expected environment stage FAILED, got %s", states[stagegraph.StageEnvironment])
	}
	if states[stagegraph.StageTestContracting] != stagemachine.Blocked {
		t.Fatalf("expected downstream stage BLOCKED, got %s", states[stagegraph.StageTestContracting])
	}
}

func TestNewFailsProductionGuardWithMissingTrustKeys(t *testing.T) {
	cfg := corvusconfig.Default()
	cfg.Environment = corvusconfig.EnvProduction

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer l.Close()
	store, err := artifactstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	defer store.Close()

	chain := crypto.NewChain()
	waivers, err := waiver.NewManager(context.Background(), store, chain, true)
	if err != nil {
		t.Fatalf("new waiver manager: %v", err)
	}
	graph := stagegraph.NewDefault()
	dispatcher := sinks.NewDispatcher(logr.Discard())

	_, err = New(cfg, l, chain, waivers, graph, dispatcher, "v1", "1", "v1", nil, nil)
	if err == nil {
		t.Fatalf("expected production guard failure on missing trust keys")
	}
}

// TestStateSurvivesSimulatedRestart constructs a full orchestrator stack
// twice against the same backing ledger DB and artifact directory — once
// to produce run/waiver/artifact history, once against fresh in-memory
// caches — to verify that a second CLI invocation (wireOrchestrator's
// actual usage pattern) sees everything the first invocation produced
// instead of starting from empty state.
func TestStateSurvivesSimulatedRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.db")
	artifactDir := filepath.Join(dir, "artifacts")
	cfg := corvusconfig.Default()

	boot := func() (*Orchestrator, *ledger.Ledger, *artifactstore.Store) {
		l, err := ledger.Open(ledgerPath)
		if err != nil {
			t.Fatalf("open ledger: %v", err)
		}
		store, err := artifactstore.Open(artifactDir)
		if err != nil {
			t.Fatalf("open artifact store: %v", err)
		}
		chain := crypto.NewChain()
		waivers, err := waiver.NewManager(ctx, store, chain, cfg.RequireWaiverSignature)
		if err != nil {
			t.Fatalf("new waiver manager: %v", err)
		}
		graph := stagegraph.NewDefault()
		dispatcher := sinks.NewDispatcher(logr.Discard())
		o, err := New(cfg, l, chain, waivers, graph, dispatcher, "v1", "1", "v1", nil, nil)
		if err != nil {
			t.Fatalf("new orchestrator: %v", err)
		}
		return o, l, store
	}

	first, firstLedger, firstStore := boot()

	runID, err := first.StartRun(ctx, nil)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := first.ExecuteStage(ctx, runID, stagegraph.StagePrerequisites, nil, func(ctx context.Context, input any) (any, []string, []string, error) {
		return "ok", nil, nil, nil
	}); err != nil {
		t.Fatalf("execute prerequisites: %v", err)
	}
	if _, err := first.Waivers().Register(ctx, waiver.Waiver{
		WaiverID:          "w-restart",
		Scope:             "gate:s1_prerequisites",
		Justification:     "test",
		ApprovingIdentity: "qa-lead",
		IssuedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:         time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("register waiver: %v", err)
	}

	firstStore.Close()
	firstLedger.Close()

	second, _, secondStore := boot()
	defer secondStore.Close()

	states, err := second.GetStates(ctx, runID)
	if err != nil {
		t.Fatalf("get states after restart: %v", err)
	}
	if states[stagegraph.StagePrerequisites] != stagemachine.Passed {
		t.Fatalf("expected prerequisites PASSED after restart, got %s", states[stagegraph.StagePrerequisites])
	}

	if !second.Waivers().HasValidWaiver("gate:s1_prerequisites", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected waiver registered before restart to still be visible after restart")
	}
}

func TestExportAnchorAfterStartRunSucceeds(t *testing.T) {
	o, _ := newTestOrchestrator(t, corvusconfig.Default())
	ctx := context.Background()

	runID, err := o.StartRun(ctx, nil)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	anchor, err := o.ExportAnchor(ctx, runID)
	if err != nil {
		t.Fatalf("export anchor: %v", err)
	}
	if anchor.EntryCount != 2 {
		t.Fatalf("expected anchor entry count 2, got %d", anchor.EntryCount)
	}
}
