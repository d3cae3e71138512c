package main

import (
	"context"
	"fmt"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/nikodemus-eth/corvusforge/internal/artifactstore"
	"github.com/nikodemus-eth/corvusforge/internal/corvusconfig"
	"github.com/nikodemus-eth/corvusforge/internal/crypto"
	"github.com/nikodemus-eth/corvusforge/internal/ledger"
	"github.com/nikodemus-eth/corvusforge/internal/orchestrator"
	"github.com/nikodemus-eth/corvusforge/internal/sinks"
	"github.com/nikodemus-eth/corvusforge/internal/stagegraph"
	"github.com/nikodemus-eth/corvusforge/internal/waiver"
)

// wired bundles every component main.go's subcommands need, plus a close
// function releasing the ledger and artifact store handles.
type wired struct {
	cfg    corvusconfig.Config
	orch   *orchestrator.Orchestrator
	ledger *ledger.Ledger
	close  func()
}

func wireOrchestrator() (*wired, error) {
	cfg, err := corvusconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log := zapr.NewLogger(zapLogger)

	ld, err := ledger.Open(cfg.LedgerDSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	store, err := artifactstore.Open(cfg.ArtifactDir)
	if err != nil {
		ld.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	chain := crypto.NewChain()
	waivers, err := waiver.NewManager(context.Background(), store, chain, cfg.RequireWaiverSignature)
	if err != nil {
		store.Close()
		ld.Close()
		return nil, fmt.Errorf("build waiver manager: %w", err)
	}
	graph := stagegraph.NewDefault()
	dispatcher := sinks.NewDispatcher(log)

	orch, err := orchestrator.New(cfg, ld, chain, waivers, graph, dispatcher, "v1", "1", version, nil, nil)
	if err != nil {
		store.Close()
		ld.Close()
		return nil, err
	}

	return &wired{
		cfg:    cfg,
		orch:   orch,
		ledger: ld,
		close: func() {
			store.Close()
			ld.Close()
			zapLogger.Sync()
		},
	}, nil
}
