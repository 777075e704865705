package workflow

import (
	"context"
	"fmt"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/emit"
	"github.com/researchflow/orchestrator/graph/store"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
)

// Runner is the subset of *graph.Engine[ResearchState] the streaming
// controller needs, letting internal/stream depend on this package
// without importing the generic graph.Engine type directly.
type Runner interface {
	Run(ctx context.Context, runID string, initial ResearchState) (ResearchState, error)
}

// Deps bundles everything every node needs, threaded through Build so the
// four graph variants share one construction path. RunStore is the
// generic per-step checkpoint store the graph engine itself uses to
// persist ResearchState after every node (distinct from Store, which
// holds the domain entities); it defaults to an in-memory store when
// nil, matching examples/multi-llm-review/workflow/graph.go's default.
type Deps struct {
	Agents   *AgentRegistry
	Res      *resource.Manager
	Store    domainstore.Store
	Emitter  emit.Emitter
	RunStore store.Store[ResearchState]
	MaxSteps int
}

func (d Deps) maxSteps() int {
	if d.MaxSteps > 0 {
		return d.MaxSteps
	}
	return 200
}

// Build assembles the graph.Engine for one of the four canonical shapes
// named in SPEC_FULL.md §4.3. Node routing lives entirely in each node's
// NodeResult.Route, following examples/multi-llm-review/workflow/graph.go's
// convention of no static edges — Add/StartAt only.
func Build(wfType WorkflowType, d Deps) (*graph.Engine[ResearchState], error) {
	switch wfType {
	case WorkflowResearch:
		return buildResearch(d)
	case WorkflowAnalysis:
		return buildAnalysis(d)
	case WorkflowExecutor:
		return buildExecutor(d)
	case WorkflowMultiAgent:
		return buildMultiAgent(d)
	default:
		return nil, fmt.Errorf("workflow: unknown graph type %q", wfType)
	}
}

// SelectWorkflowType picks the graph variant from the objective's
// Metadata["workflow_type"] when it names one of the four variants. The
// query text is not examined. Defaults to the full research graph
// otherwise.
func SelectWorkflowType(obj *Objective) WorkflowType {
	if obj == nil {
		return WorkflowResearch
	}
	if v, ok := obj.Metadata["workflow_type"].(string); ok {
		switch WorkflowType(v) {
		case WorkflowResearch, WorkflowAnalysis, WorkflowExecutor, WorkflowMultiAgent:
			return WorkflowType(v)
		}
	}
	return WorkflowResearch
}

func newEngine(d Deps) *graph.Engine[ResearchState] {
	runStore := d.RunStore
	if runStore == nil {
		runStore = store.NewMemStore[ResearchState]()
	}
	return graph.New(ReduceResearchState, runStore, d.Emitter, graph.WithMaxSteps(d.maxSteps()))
}

// buildResearch assembles the full pipeline: context analysis through
// decomposition, per-task planning/execution/evaluation, selection, and
// synthesis — every node SPEC_FULL.md §4.2 names.
func buildResearch(d Deps) (*graph.Engine[ResearchState], error) {
	engine := newEngine(d)

	nodes := map[string]graph.Node[ResearchState]{
		"context_analyzer":     &ContextAnalyzerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"objective_decomposer":  &ObjectiveDecomposerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"task_analyzer":         &TaskAnalyzerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"research":              &ResearchNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"processing":            &ProcessingNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"quality_evaluator":      &QualityEvaluatorNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"select_next_task":      &SelectNextTaskNode{Store: d.Store},
		"synthesis":             &SynthesisNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"error_handler":         &ErrorHandlerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
	}
	for id, n := range nodes {
		if err := engine.Add(id, n); err != nil {
			return nil, fmt.Errorf("research graph: add %s: %w", id, err)
		}
	}
	if err := engine.StartAt("context_analyzer"); err != nil {
		return nil, err
	}
	return engine, nil
}

// buildAnalysis is the research graph minus context_analyzer: used when
// the objective already carries a ContextAnalysis (e.g. a follow-up
// objective within the same conversation), entering directly at
// objective_decomposer.
func buildAnalysis(d Deps) (*graph.Engine[ResearchState], error) {
	engine := newEngine(d)

	nodes := map[string]graph.Node[ResearchState]{
		"objective_decomposer": &ObjectiveDecomposerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"task_analyzer":        &TaskAnalyzerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"research":             &ResearchNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"processing":           &ProcessingNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"quality_evaluator":     &QualityEvaluatorNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"select_next_task":     &SelectNextTaskNode{Store: d.Store},
		"synthesis":            &SynthesisNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"error_handler":        &ErrorHandlerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
	}
	for id, n := range nodes {
		if err := engine.Add(id, n); err != nil {
			return nil, fmt.Errorf("analysis graph: add %s: %w", id, err)
		}
	}
	if err := engine.StartAt("objective_decomposer"); err != nil {
		return nil, err
	}
	return engine, nil
}

// buildExecutor skips decomposition entirely: the objective already
// carries one fully-planned Task (e.g. a retry submitted by the HTTP
// surface), entering directly at task_analyzer.
func buildExecutor(d Deps) (*graph.Engine[ResearchState], error) {
	engine := newEngine(d)

	nodes := map[string]graph.Node[ResearchState]{
		"task_analyzer":     &TaskAnalyzerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"research":          &ResearchNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"processing":        &ProcessingNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"quality_evaluator":  &QualityEvaluatorNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"select_next_task":  &SelectNextTaskNode{Store: d.Store},
		"synthesis":         &SynthesisNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
		"error_handler":     &ErrorHandlerNode{Agents: d.Agents, Res: d.Res, Store: d.Store},
	}
	for id, n := range nodes {
		if err := engine.Add(id, n); err != nil {
			return nil, fmt.Errorf("executor graph: add %s: %w", id, err)
		}
	}
	if err := engine.StartAt("task_analyzer"); err != nil {
		return nil, err
	}
	return engine, nil
}

// buildMultiAgent is the full research graph with every node present,
// selected only when the objective's metadata names "multiagent" (see
// SelectWorkflowType); tasks of varied types route across both research
// and processing nodes within one run. Structurally identical to
// buildResearch; kept distinct so
// SPEC_FULL.md §4.3's four named variants each have one obvious
// construction site future node additions can specialize independently.
func buildMultiAgent(d Deps) (*graph.Engine[ResearchState], error) {
	return buildResearch(d)
}
