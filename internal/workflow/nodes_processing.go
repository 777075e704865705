package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
)

// ProcessingNode executes one non-research Step by dispatching to the
// agent named on the step (falling back to "processing"), grounded on
// graph/nodes.py's processing_node. Handles every TaskType for which
// TaskType.UsesResearchNode is false.
type ProcessingNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *ProcessingNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "processing")

	task := s.CurrentTask()
	step := s.CurrentStep()
	if task == nil || step == nil {
		return errResult(delta, "processing", "no current task/step to execute")
	}

	agentName := step.AgentName
	if agentName == "" {
		agentName = "processing"
	}

	step.Status = StepRunning
	now := time.Now()
	step.StartedAt = &now

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", step.Priority, 30*time.Second)
	if err != nil {
		step.Status = StepFailed
		step.ErrorMessage = err.Error()
		return errResult(delta, "processing", "llm pool: "+err.Error())
	}
	defer n.Res.Release(resource.KindLLM, handle)

	input := map[string]interface{}{
		"step_title":       step.Title,
		"step_description": step.Description,
		"task_title":       task.Title,
		"previous_steps":   completedStepSummaries(task, step.StepID),
		"input_data":       step.InputData,
	}
	inputJSON, _ := json.Marshal(input)

	var out map[string]interface{}
	err = runAgentJSON(ctx, n.Agents, agentName,
		"You process and transform data for one workflow step. Respond with JSON describing the result.",
		[]model.Message{{Role: model.RoleUser, Content: string(inputJSON)}},
		&out)
	if err != nil {
		step.Status = StepFailed
		step.ErrorMessage = err.Error()
		return wrapAgentErr(delta, "processing", err)
	}

	step.OutputData = out
	step.Status = StepCompleted
	completed := time.Now()
	step.CompletedAt = &completed

	delta.Messages = []Message{{Role: "system", NodeID: "processing",
		Content: fmt.Sprintf("step %q processing completed", step.Title)}}

	advanceAfterStepCompletion(&delta, s.Objective, task)

	if err := n.Store.UpsertStep(ctx, step); err != nil {
		return errResult(delta, "processing", "persist step: "+err.Error())
	}
	delta.Objective = s.Objective

	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("quality_evaluator")}
}
