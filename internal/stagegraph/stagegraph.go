// Package stagegraph implements the prerequisite graph: a static DAG over
// stage identifiers used by the stage machine to validate start preconditions
// and compute cascade-block sets.
package stagegraph

import "fmt"

// StageID is an opaque stage identifier drawn from the fixed pipeline
// sequence.
type StageID string

// Fixed pipeline stage identifiers, in their canonical order.
const (
	StageIntake          StageID = "s0_intake"
	StagePrerequisites   StageID = "s1_prerequisites"
	StageEnvironment     StageID = "s2_environment"
	StageTestContracting StageID = "s3_test_contracting"
	StageCodePlan        StageID = "s4_code_plan"
	StageImplementation  StageID = "s5_implementation"
	StageAccessibility   StageID = "s55_accessibility"
	StageSecurity        StageID = "s575_security"
	StageVerification    StageID = "s6_verification"
	StageRelease         StageID = "s7_release"
)

// DefaultStageOrder is the canonical pipeline sequence, each stage depending
// directly on the one before it.
var DefaultStageOrder = []StageID{
	StageIntake,
	StagePrerequisites,
	StageEnvironment,
	StageTestContracting,
	StageCodePlan,
	StageImplementation,
	StageAccessibility,
	StageSecurity,
	StageVerification,
	StageRelease,
}

// ErrCycle reports that the declared edges are not a DAG.
type ErrCycle struct {
	Stage StageID
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("stage graph: cycle detected at or reachable from %s", e.Stage)
}

// Graph is a static, immutable DAG of stage predecessors.
type Graph struct {
	predecessors map[StageID]map[StageID]struct{}
	order        []StageID
}

// New builds a Graph from a direct-predecessor mapping. edges need not list
// every stage with no predecessors; any stage referenced only as a value is
// implicitly added with no predecessors of its own. Construction fails if
// the edges contain a cycle.
func New(edges map[StageID][]StageID) (*Graph, error) {
	predecessors := make(map[StageID]map[StageID]struct{})

	addStage := func(s StageID) {
		if _, ok := predecessors[s]; !ok {
			predecessors[s] = make(map[StageID]struct{})
		}
	}

	for stage, preds := range edges {
		addStage(stage)
		for _, p := range preds {
			addStage(p)
			predecessors[stage][p] = struct{}{}
		}
	}

	g := &Graph{predecessors: predecessors}
	order, err := g.computeTopologicalOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// NewDefault builds the Graph for the fixed linear pipeline sequence, where
// each stage's sole direct predecessor is the stage before it.
func NewDefault() *Graph {
	edges := make(map[StageID][]StageID, len(DefaultStageOrder))
	for i, s := range DefaultStageOrder {
		if i == 0 {
			edges[s] = nil
			continue
		}
		edges[s] = []StageID{DefaultStageOrder[i-1]}
	}
	g, err := New(edges)
	if err != nil {
		// Unreachable: the default order is a linear chain, never cyclic.
		panic(err)
	}
	return g
}

// Predecessors returns the direct predecessors of stage, in no particular
// order. Returns nil if stage is not part of the graph.
func (g *Graph) Predecessors(stage StageID) []StageID {
	set, ok := g.predecessors[stage]
	if !ok {
		return nil
	}
	out := make([]StageID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// TransitiveDependents returns every stage whose predecessor chain contains
// stage, i.e. every stage that depends on stage directly or indirectly. Used
// to compute the cascade-block set when stage fails.
func (g *Graph) TransitiveDependents(stage StageID) []StageID {
	dependents := make(map[StageID]struct{})

	var dependsOn func(candidate StageID) bool
	visiting := make(map[StageID]bool)
	memo := make(map[StageID]bool)

	dependsOn = func(candidate StageID) bool {
		if candidate == stage {
			return false
		}
		if v, ok := memo[candidate]; ok {
			return v
		}
		if visiting[candidate] {
			return false
		}
		visiting[candidate] = true
		defer func() { visiting[candidate] = false }()

		for pred := range g.predecessors[candidate] {
			if pred == stage || dependsOn(pred) {
				memo[candidate] = true
				return true
			}
		}
		memo[candidate] = false
		return false
	}

	for s := range g.predecessors {
		if s == stage {
			continue
		}
		if dependsOn(s) {
			dependents[s] = struct{}{}
		}
	}

	out := make([]StageID, 0, len(dependents))
	for s := range dependents {
		out = append(out, s)
	}
	return out
}

// TopologicalOrder returns a valid topological ordering of every stage in
// the graph, computed once at construction.
func (g *Graph) TopologicalOrder() []StageID {
	out := make([]StageID, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Graph) computeTopologicalOrder() ([]StageID, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[StageID]int, len(g.predecessors))
	order := make([]StageID, 0, len(g.predecessors))

	stages := make([]StageID, 0, len(g.predecessors))
	for s := range g.predecessors {
		stages = append(stages, s)
	}

	var visit func(s StageID) error
	visit = func(s StageID) error {
		switch state[s] {
		case done:
			return nil
		case visiting:
			return &ErrCycle{Stage: s}
		}
		state[s] = visiting
		preds := make([]StageID, 0, len(g.predecessors[s]))
		for p := range g.predecessors[s] {
			preds = append(preds, p)
		}
		for _, p := range preds {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[s] = done
		order = append(order, s)
		return nil
	}

	for _, s := range stages {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return order, nil
}
