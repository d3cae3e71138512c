// Package stagemachine implements the Stage Machine: the transition
// validator that consumes the Run Ledger, the prerequisite graph, and the
// waiver manager to decide whether a stage may advance.
package stagemachine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nikodemus-eth/corvusforge/internal/ledger"
	"github.com/nikodemus-eth/corvusforge/internal/metrics"
	"github.com/nikodemus-eth/corvusforge/internal/stagegraph"
	"github.com/nikodemus-eth/corvusforge/internal/waiver"
)

// State is a stage's lifecycle state.
type State string

const (
	NotStarted State = "NOT_STARTED"
	Running    State = "RUNNING"
	Passed     State = "PASSED"
	Failed     State = "FAILED"
	Blocked    State = "BLOCKED"
)

// allowedEdges is the complete lookup table of valid transitions — a data
// table, not a switch over the source state, so extending it never touches
// control flow.
var allowedEdges = map[State]map[State]bool{
	NotStarted: {Running: true, Blocked: true},
	Running:    {Passed: true, Failed: true},
	Failed:     {Running: true},
	Blocked:    {NotStarted: true},
}

func isAllowedEdge(from, to State) bool {
	return allowedEdges[from][to]
}

// ErrInvalidTransition reports a transition not present in allowedEdges.
type ErrInvalidTransition struct {
	StageID   string
	FromState State
	ToState   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("stage machine: invalid transition for %s: %s -> %s", e.StageID, e.FromState, e.ToState)
}

// ErrPrerequisite reports that can_start failed for a stage.
type ErrPrerequisite struct {
	StageID string
	Reasons []string
}

func (e *ErrPrerequisite) Error() string {
	return fmt.Sprintf("stage machine: prerequisites not satisfied for %s: %s", e.StageID, strings.Join(e.Reasons, "; "))
}

// gateName is the scope name a waiver must target to cover a given stage's
// own gate. Kept distinct from the stage ID so waiver scope strings read as
// "gate:<stage>" rather than overloading the bare stage identifier.
func gateName(stage stagegraph.StageID) string {
	return "gate:" + string(stage)
}

// Machine is the stage transition validator. The ledger is the single
// source of truth for stage state; Machine keeps an in-memory cache per
// run, lazily hydrated by replaying that run's ledger entries the first
// time this process touches it, and kept consistent thereafter with every
// successful transition.
type Machine struct {
	graph   *stagegraph.Graph
	ledger  *ledger.Ledger
	waivers *waiver.Manager

	pipelineVersion  string
	schemaVersion    string
	toolchainVersion string
	rulesetVersions  map[string]string

	mu     sync.RWMutex
	states map[string]map[stagegraph.StageID]State
}

// New constructs a Machine bound to a graph, ledger, and waiver manager.
func New(graph *stagegraph.Graph, ledger *ledger.Ledger, waivers *waiver.Manager, pipelineVersion, schemaVersion, toolchainVersion string, rulesetVersions map[string]string) *Machine {
	if rulesetVersions == nil {
		rulesetVersions = map[string]string{}
	}
	return &Machine{
		graph:            graph,
		ledger:           ledger,
		waivers:          waivers,
		pipelineVersion:  pipelineVersion,
		schemaVersion:    schemaVersion,
		toolchainVersion: toolchainVersion,
		rulesetVersions:  rulesetVersions,
		states:           make(map[string]map[stagegraph.StageID]State),
	}
}

// ensureHydrated replays runID's ledger history into the in-memory cache the
// first time this process touches that run. The ledger is the single source
// of truth; states is a derived cache, rebuilt by replay rather than
// persisted on its own, so a state machine constructed against an existing
// ledger (e.g. by a fresh CLI invocation) picks up exactly where the prior
// process left off.
func (m *Machine) ensureHydrated(ctx context.Context, runID string) error {
	m.mu.RLock()
	_, ok := m.states[runID]
	m.mu.RUnlock()
	if ok {
		return nil
	}

	entries, err := m.ledger.EntriesForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("stage machine: replay ledger for run %s: %w", runID, err)
	}

	replayed := make(map[stagegraph.StageID]State, len(entries))
	for _, e := range entries {
		replayed[stagegraph.StageID(e.StageID)] = State(e.ToState)
	}

	m.mu.Lock()
	if _, ok := m.states[runID]; !ok {
		m.states[runID] = replayed
	}
	m.mu.Unlock()
	return nil
}

func (m *Machine) stateOf(runID string, stage stagegraph.StageID) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.states[runID]
	if !ok {
		return NotStarted
	}
	s, ok := run[stage]
	if !ok {
		return NotStarted
	}
	return s
}

func (m *Machine) setState(runID string, stage stagegraph.StageID, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.states[runID]
	if !ok {
		run = make(map[stagegraph.StageID]State)
		m.states[runID] = run
	}
	run[stage] = s
}

// GetStates returns every stage's current state for runID, hydrating the
// in-memory cache from the ledger first if this process has not yet touched
// runID.
func (m *Machine) GetStates(ctx context.Context, runID string) (map[stagegraph.StageID]State, error) {
	if err := m.ensureHydrated(ctx, runID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[stagegraph.StageID]State)
	for _, stage := range m.graph.TopologicalOrder() {
		if s, ok := m.states[runID][stage]; ok {
			out[stage] = s
		} else {
			out[stage] = NotStarted
		}
	}
	return out, nil
}

// CanStart reports whether every direct predecessor of stage is either
// PASSED or covered by a valid waiver scoped to that predecessor's gate.
func (m *Machine) CanStart(ctx context.Context, runID string, stage stagegraph.StageID, now time.Time) (bool, []string, error) {
	if err := m.ensureHydrated(ctx, runID); err != nil {
		return false, nil, err
	}
	var reasons []string
	for _, pred := range m.graph.Predecessors(stage) {
		if m.stateOf(runID, pred) == Passed {
			continue
		}
		if m.waivers != nil && m.waivers.HasValidWaiver(gateName(pred), now) {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("predecessor %s is not PASSED and has no valid waiver", pred))
	}
	return len(reasons) == 0, reasons, nil
}

// TransitionParams carries the caller-supplied fields of a transition.
type TransitionParams struct {
	RunID        string
	Stage        stagegraph.StageID
	ToState      State
	Payload      any
	InputHash    string
	OutputHash   string
	ArtifactRefs []string
	WaiverRefs   []string
	TrustContext map[string]string
	Now          time.Time
}

// Transition validates and applies one stage transition, appending exactly
// one ledger entry for it. On RUNNING->FAILED it additionally cascades a
// NOT_STARTED->BLOCKED entry for every transitive dependent of stage that
// is currently NOT_STARTED. On BLOCKED->NOT_STARTED it symmetrically
// unblocks every transitive dependent currently BLOCKED whose own
// predecessors are now satisfied.
//
// A failed validation or ledger append aborts the entire transition: no
// partial state is observable.
func (m *Machine) Transition(ctx context.Context, p TransitionParams) (ledger.Entry, error) {
	if err := m.ensureHydrated(ctx, p.RunID); err != nil {
		return ledger.Entry{}, fmt.Errorf("stage machine: hydrate run %s: %w", p.RunID, err)
	}

	from := m.stateOf(p.RunID, p.Stage)

	if !isAllowedEdge(from, p.ToState) {
		return ledger.Entry{}, &ErrInvalidTransition{StageID: string(p.Stage), FromState: from, ToState: p.ToState}
	}

	if p.ToState == Running {
		ok, reasons, err := m.CanStart(ctx, p.RunID, p.Stage, p.Now)
		if err != nil {
			return ledger.Entry{}, fmt.Errorf("stage machine: check prerequisites for %s: %w", p.Stage, err)
		}
		if !ok {
			return ledger.Entry{}, &ErrPrerequisite{StageID: string(p.Stage), Reasons: reasons}
		}
	}

	entry, err := m.ledger.Append(ctx, p.Now, ledger.NewEntryParams{
		EntryID:          entryID(p.RunID, p.Stage, from, p.ToState, p.Now),
		RunID:            p.RunID,
		StageID:          string(p.Stage),
		FromState:        string(from),
		ToState:          string(p.ToState),
		InputHash:        p.InputHash,
		OutputHash:       p.OutputHash,
		ArtifactRefs:     p.ArtifactRefs,
		WaiverRefs:       p.WaiverRefs,
		PipelineVersion:  m.pipelineVersion,
		SchemaVersion:    m.schemaVersion,
		ToolchainVersion: m.toolchainVersion,
		RulesetVersions:  m.rulesetVersions,
		TrustContext:     p.TrustContext,
		Payload:          p.Payload,
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("stage machine: append transition entry: %w", err)
	}
	metrics.RecordStageTransition(string(p.Stage), string(p.ToState))

	m.setState(p.RunID, p.Stage, p.ToState)

	switch {
	case from == Running && p.ToState == Failed:
		if err := m.cascadeBlock(ctx, p.RunID, p.Stage, p.Now, p.TrustContext); err != nil {
			return ledger.Entry{}, fmt.Errorf("stage machine: cascade block from %s: %w", p.Stage, err)
		}
	case from == Blocked && p.ToState == NotStarted:
		if err := m.cascadeUnblock(ctx, p.RunID, p.Stage, p.Now, p.TrustContext); err != nil {
			return ledger.Entry{}, fmt.Errorf("stage machine: cascade unblock from %s: %w", p.Stage, err)
		}
	}

	return entry, nil
}

func (m *Machine) cascadeBlock(ctx context.Context, runID string, failed stagegraph.StageID, now time.Time, trustContext map[string]string) error {
	for _, dependent := range m.graph.TransitiveDependents(failed) {
		if m.stateOf(runID, dependent) != NotStarted {
			continue
		}
		if _, err := m.ledger.Append(ctx, now, ledger.NewEntryParams{
			EntryID:          entryID(runID, dependent, NotStarted, Blocked, now),
			RunID:            runID,
			StageID:          string(dependent),
			FromState:        string(NotStarted),
			ToState:          string(Blocked),
			PipelineVersion:  m.pipelineVersion,
			SchemaVersion:    m.schemaVersion,
			ToolchainVersion: m.toolchainVersion,
			RulesetVersions:  m.rulesetVersions,
			TrustContext:     trustContext,
			Payload:          map[string]any{"cascade_from": string(failed)},
		}); err != nil {
			return err
		}
		metrics.RecordCascadeBlock(string(dependent))
		m.setState(runID, dependent, Blocked)
	}
	return nil
}

func (m *Machine) cascadeUnblock(ctx context.Context, runID string, unblocked stagegraph.StageID, now time.Time, trustContext map[string]string) error {
	for _, dependent := range m.graph.TransitiveDependents(unblocked) {
		if m.stateOf(runID, dependent) != Blocked {
			continue
		}
		if ok, _, err := m.CanStart(ctx, runID, dependent, now); err != nil {
			return err
		} else if !ok {
			continue
		}
		if _, err := m.ledger.Append(ctx, now, ledger.NewEntryParams{
			EntryID:          entryID(runID, dependent, Blocked, NotStarted, now),
			RunID:            runID,
			StageID:          string(dependent),
			FromState:        string(Blocked),
			ToState:          string(NotStarted),
			PipelineVersion:  m.pipelineVersion,
			SchemaVersion:    m.schemaVersion,
			ToolchainVersion: m.toolchainVersion,
			RulesetVersions:  m.rulesetVersions,
			TrustContext:     trustContext,
			Payload:          map[string]any{"cascade_from": string(unblocked)},
		}); err != nil {
			return err
		}
		m.setState(runID, dependent, NotStarted)
	}
	return nil
}

func entryID(runID string, stage stagegraph.StageID, from, to State, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s/%d", runID, stage, from, to, now.UTC().UnixNano())
}
