// Package orchestrator is the thin glue binding the Stage Machine, Run
// Ledger, Crypto Bridge, and Sink Dispatcher into a single entry point. It
// holds no business logic of its own beyond sequencing calls into those
// components and computing the hashes/trust context each transition needs.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nikodemus-eth/corvusforge/internal/corvusconfig"
	"github.com/nikodemus-eth/corvusforge/internal/crypto"
	"github.com/nikodemus-eth/corvusforge/internal/guard"
	"github.com/nikodemus-eth/corvusforge/internal/hashing"
	"github.com/nikodemus-eth/corvusforge/internal/ledger"
	"github.com/nikodemus-eth/corvusforge/internal/sinks"
	"github.com/nikodemus-eth/corvusforge/internal/stagegraph"
	"github.com/nikodemus-eth/corvusforge/internal/stagemachine"
	"github.com/nikodemus-eth/corvusforge/internal/telemetry"
	"github.com/nikodemus-eth/corvusforge/internal/waiver"
)

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Orchestrator is the single object a caller (CLI, API, scheduler) drives a
// pipeline run through.
type Orchestrator struct {
	cfg     corvusconfig.Config
	graph   *stagegraph.Graph
	ledger  *ledger.Ledger
	chain   *crypto.Chain
	waivers *waiver.Manager
	machine *stagemachine.Machine
	sinks   *sinks.Dispatcher
	now     Clock

	pipelineVersion  string
	schemaVersion    string
	toolchainVersion string
}

// New constructs an Orchestrator, wiring the Stage Machine over the given
// ledger/waiver manager/graph, and runs the Production Guard before
// returning. A guard failure aborts construction: no run can start without
// a passing guard in production.
func New(
	cfg corvusconfig.Config,
	ld *ledger.Ledger,
	chain *crypto.Chain,
	waivers *waiver.Manager,
	graph *stagegraph.Graph,
	dispatcher *sinks.Dispatcher,
	pipelineVersion, schemaVersion, toolchainVersion string,
	rulesetVersions map[string]string,
	now Clock,
) (*Orchestrator, error) {
	if err := guard.Evaluate(cfg, waivers.Strict(), chain); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if now == nil {
		now = time.Now
	}

	machine := stagemachine.New(graph, ld, waivers, pipelineVersion, schemaVersion, toolchainVersion, rulesetVersions)

	return &Orchestrator{
		cfg:              cfg,
		graph:            graph,
		ledger:           ld,
		chain:            chain,
		waivers:          waivers,
		machine:          machine,
		sinks:            dispatcher,
		now:              now,
		pipelineVersion:  pipelineVersion,
		schemaVersion:    schemaVersion,
		toolchainVersion: toolchainVersion,
	}, nil
}

func (o *Orchestrator) trustContextMap() map[string]string {
	tc := crypto.ComputeTrustContext(o.cfg.PluginTrustRootPublicHex, o.cfg.WaiverSigningKeyPublicHex, o.cfg.AnchorSigningKeyPublicHex)
	return map[string]string{
		"plugin_trust_root_fp":  tc.PluginTrustRootFP,
		"waiver_signing_key_fp": tc.WaiverSigningKeyFP,
		"anchor_key_fp":         tc.AnchorKeyFP,
	}
}

// StartRun begins a new run: it generates a run ID and appends the intake
// stage's NOT_STARTED->RUNNING and RUNNING->PASSED transitions, carrying
// prerequisites as the stage payload.
func (o *Orchestrator) StartRun(ctx context.Context, prerequisites map[string]any) (string, error) {
	runID := uuid.NewString()
	now := o.now()

	ctx, runSpan := telemetry.StartRunSpan(ctx, runID, o.pipelineVersion)
	defer runSpan.End()

	if prerequisites == nil {
		prerequisites = map[string]any{}
	}
	payloadHash, err := hashing.CanonicalSha256Hex(prerequisites)
	if err != nil {
		return "", fmt.Errorf("orchestrator: hash prerequisites: %w", err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionParams{
		RunID:        runID,
		Stage:        stagegraph.StageIntake,
		ToState:      stagemachine.Running,
		Payload:      map[string]any{"prerequisites": prerequisites},
		InputHash:    payloadHash,
		TrustContext: o.trustContextMap(),
		Now:          now,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: start intake: %w", err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionParams{
		RunID:        runID,
		Stage:        stagegraph.StageIntake,
		ToState:      stagemachine.Passed,
		Payload:      map[string]any{"prerequisites": prerequisites},
		InputHash:    payloadHash,
		OutputHash:   payloadHash,
		TrustContext: o.trustContextMap(),
		Now:          o.now(),
	}); err != nil {
		return "", fmt.Errorf("orchestrator: pass intake: %w", err)
	}

	return runID, nil
}

// StageHandler executes one stage's work given its input payload, and
// returns the stage's output payload plus any artifact/waiver references
// produced along the way. An error marks the stage FAILED.
type StageHandler func(ctx context.Context, input any) (output any, artifactRefs []string, waiverRefs []string, err error)

// ExecuteStage validates stage against the Stage Machine's prerequisites,
// transitions it NOT_STARTED->RUNNING, invokes handler, and finalizes it
// RUNNING->PASSED or RUNNING->FAILED depending on the outcome. A failure to
// start (invalid transition, unmet prerequisite) returns before handler is
// ever invoked. A handler error still produces a FAILED ledger entry before
// being returned to the caller, so every handler outcome is observable in
// the chain regardless of how ExecuteStage itself returns.
func (o *Orchestrator) ExecuteStage(ctx context.Context, runID string, stage stagegraph.StageID, input any, handler StageHandler) (output any, err error) {
	states, err := o.machine.GetStates(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load stage states for %s: %w", runID, err)
	}
	ctx, span := telemetry.StartStageSpan(ctx, runID, string(stage), string(states[stage]))
	defer span.End()

	inputHash, err := hashing.CanonicalSha256Hex(input)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: hash stage input: %w", err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionParams{
		RunID:        runID,
		Stage:        stage,
		ToState:      stagemachine.Running,
		Payload:      map[string]any{"input": input},
		InputHash:    inputHash,
		TrustContext: o.trustContextMap(),
		Now:          o.now(),
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: start stage %s: %w", stage, err)
	}

	output, artifactRefs, waiverRefs, handlerErr := handler(ctx, input)

	if handlerErr != nil {
		if _, err := o.machine.Transition(ctx, stagemachine.TransitionParams{
			RunID:        runID,
			Stage:        stage,
			ToState:      stagemachine.Failed,
			Payload:      map[string]any{"error": handlerErr.Error()},
			TrustContext: o.trustContextMap(),
			Now:          o.now(),
		}); err != nil {
			telemetry.EndStageSpan(span, string(stagemachine.Failed), true)
			return nil, fmt.Errorf("orchestrator: record stage %s failure: %w", stage, err)
		}
		telemetry.EndStageSpan(span, string(stagemachine.Failed), true)
		return nil, handlerErr
	}

	outputHash, err := hashing.CanonicalSha256Hex(output)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: hash stage output: %w", err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionParams{
		RunID:        runID,
		Stage:        stage,
		ToState:      stagemachine.Passed,
		Payload:      map[string]any{"output": output},
		OutputHash:   outputHash,
		ArtifactRefs: artifactRefs,
		WaiverRefs:   waiverRefs,
		TrustContext: o.trustContextMap(),
		Now:          o.now(),
	}); err != nil {
		telemetry.EndStageSpan(span, string(stagemachine.Passed), false)
		return nil, fmt.Errorf("orchestrator: record stage %s success: %w", stage, err)
	}

	telemetry.EndStageSpan(span, string(stagemachine.Passed), false)
	return output, nil
}

// VerifyChain delegates to the ledger's chain verification for runID.
func (o *Orchestrator) VerifyChain(ctx context.Context, runID string) error {
	return o.ledger.VerifyChain(ctx, runID)
}

// GetStates returns every stage's current state for runID, hydrating from
// the ledger if this is the first time the current process has touched
// runID.
func (o *Orchestrator) GetStates(ctx context.Context, runID string) (map[stagegraph.StageID]stagemachine.State, error) {
	return o.machine.GetStates(ctx, runID)
}

// GetRunEntries returns the full ledger history for runID, in insertion
// order.
func (o *Orchestrator) GetRunEntries(ctx context.Context, runID string) ([]ledger.Entry, error) {
	return o.ledger.EntriesForRun(ctx, runID)
}

// ExportAnchor exports a signed anchor for runID using the configured
// anchor signing key, if any.
func (o *Orchestrator) ExportAnchor(ctx context.Context, runID string) (ledger.Anchor, error) {
	return o.ledger.ExportAnchor(ctx, runID, o.now(), o.chain, o.cfg.AnchorSigningKeyPrivateHex)
}

// Sinks exposes the configured dispatcher so callers can invoke Dispatch
// directly with a concrete envelope.Envelope.
func (o *Orchestrator) Sinks() *sinks.Dispatcher {
	return o.sinks
}

// Waivers exposes the waiver manager for registration calls.
func (o *Orchestrator) Waivers() *waiver.Manager {
	return o.waivers
}
