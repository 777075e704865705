package workflow

import (
	"context"
	"time"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
	"github.com/researchflow/orchestrator/internal/werrors"
)

// ContextAnalyzerNode reads the raw query and writes
// intermediate_data.context_analysis (SPEC_FULL.md §4.2). It transitions
// the objective CREATED -> ANALYZING.
type ContextAnalyzerNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *ContextAnalyzerNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "context_analyzer")

	obj := s.Objective
	if obj == nil {
		return graph.NodeResult[ResearchState]{
			Delta: withError(delta, werrors.New(werrors.KindWorkflowState, "context_analyzer", "missing objective", nil)),
			Route: graph.Goto("error_handler"),
		}
	}
	obj.Status = ObjectiveAnalyzing
	delta.Objective = obj

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", obj.Priority, 30*time.Second)
	if err != nil {
		return graph.NodeResult[ResearchState]{
			Delta: withError(delta, werrors.New(werrors.KindResourceUnavailable, "context_analyzer", "llm pool", err)),
			Route: graph.Goto("error_handler"),
		}
	}
	defer n.Res.Release(resource.KindLLM, handle)

	var analysis ContextAnalysis
	err = runAgentJSON(ctx, n.Agents, "context_analyzer",
		"You analyze a research query and extract its domain, key concepts, and constraints. Respond with JSON only.",
		[]model.Message{{Role: model.RoleUser, Content: obj.Query}},
		&analysis)
	if err != nil {
		we, _ := werrors.AsWorkflowError(err)
		return graph.NodeResult[ResearchState]{
			Delta: withError(delta, we),
			Route: graph.Goto("error_handler"),
		}
	}

	delta.IntermediateData.ContextAnalysis = &analysis

	if err := n.Store.UpsertObjective(ctx, obj); err != nil {
		return graph.NodeResult[ResearchState]{
			Delta: withError(delta, werrors.New(werrors.KindDatabase, "context_analyzer", "persist objective", err)),
			Route: graph.Goto("error_handler"),
		}
	}

	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("objective_decomposer")}
}
