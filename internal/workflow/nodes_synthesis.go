package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
)

type taskSummary struct {
	TaskID        string                   `json:"task_id"`
	Title         string                   `json:"title"`
	ResultSummary string                   `json:"result_summary"`
	Steps         []map[string]interface{} `json:"steps"`
}

// SynthesisNode aggregates every COMPLETED task's results into a final
// report, grounded on graph/nodes.py's synthesis_node. Terminal node:
// completes the Objective.
type SynthesisNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *SynthesisNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "synthesis")

	obj := s.Objective
	if obj == nil {
		return errResult(delta, "synthesis", "missing objective")
	}
	obj.Status = ObjectiveSynthesizing

	var completed []taskSummary
	for _, t := range obj.Tasks {
		if t.Status != TaskCompleted {
			continue
		}
		ts := taskSummary{TaskID: t.TaskID, Title: t.Title, ResultSummary: t.ResultSummary}
		for _, st := range t.Steps {
			if st.Status == StepCompleted {
				ts.Steps = append(ts.Steps, map[string]interface{}{"id": st.StepID, "title": st.Title, "output": st.OutputData})
			}
		}
		completed = append(completed, ts)
	}

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", obj.Priority, 30*time.Second)
	if err != nil {
		return errResult(delta, "synthesis", "llm pool: "+err.Error())
	}
	defer n.Res.Release(resource.KindLLM, handle)

	input := map[string]interface{}{
		"objective_title": obj.Title,
		"objective_query": obj.Query,
		"completed_tasks": completed,
	}
	inputJSON, _ := json.Marshal(input)

	var out struct {
		Summary string `json:"summary"`
	}
	err = runAgentJSON(ctx, n.Agents, "synthesis",
		"You synthesize the results of completed research tasks into one coherent report. Respond with JSON only: {\"summary\"}.",
		[]model.Message{{Role: model.RoleUser, Content: string(inputJSON)}},
		&out)
	if err != nil {
		return wrapAgentErr(delta, "synthesis", err)
	}

	obj.ResultSummary = out.Summary
	obj.Status = ObjectiveCompleted
	now := time.Now()
	obj.CompletedAt = &now

	delta.Objective = obj
	delta.IntermediateData.SynthesisResult = out.Summary
	delta.Messages = []Message{{Role: "system", NodeID: "synthesis", Content: "objective synthesis completed"}}

	if err := n.Store.UpsertObjective(ctx, obj); err != nil {
		return errResult(delta, "synthesis", "persist objective: "+err.Error())
	}

	wf, werr := n.Store.GetWorkflowByObjective(ctx, obj.ObjectiveID)
	if werr == nil {
		wf.Status = ObjectiveCompleted
		wf.CurrentNode = "synthesis"
		wf.CompletedAt = &now
		_ = n.Store.UpsertWorkflow(ctx, wf)
	}

	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Stop()}
}
