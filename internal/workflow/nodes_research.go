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

// ResearchNode executes one information-gathering Step, grounded on
// graph/nodes.py's research_node. Handles RESEARCH/TESTING-typed tasks
// per TaskType.UsesResearchNode.
type ResearchNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *ResearchNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "research")

	task := s.CurrentTask()
	step := s.CurrentStep()
	if task == nil || step == nil {
		return errResult(delta, "research", "no current task/step to execute")
	}

	step.Status = StepRunning
	now := time.Now()
	step.StartedAt = &now

	handle, err := n.Res.Acquire(ctx, resource.KindAPI, "search", step.Priority, 30*time.Second)
	if err != nil {
		step.Status = StepFailed
		step.ErrorMessage = err.Error()
		return errResult(delta, "research", "api pool: "+err.Error())
	}
	defer n.Res.Release(resource.KindAPI, handle)

	input := map[string]interface{}{
		"step_title":       step.Title,
		"step_description": step.Description,
		"task_title":       task.Title,
		"previous_steps":   completedStepSummaries(task, step.StepID),
	}
	inputJSON, _ := json.Marshal(input)

	var out map[string]interface{}
	err = runAgentJSON(ctx, n.Agents, "research",
		"You gather information to complete a research step. Respond with JSON describing findings.",
		[]model.Message{{Role: model.RoleUser, Content: string(inputJSON)}},
		&out)
	if err != nil {
		step.Status = StepFailed
		step.ErrorMessage = err.Error()
		return wrapAgentErr(delta, "research", err)
	}

	step.OutputData = out
	step.Status = StepCompleted
	completed := time.Now()
	step.CompletedAt = &completed

	delta.Messages = []Message{{Role: "system", NodeID: "research",
		Content: fmt.Sprintf("step %q research completed", step.Title)}}

	advanceAfterStepCompletion(&delta, s.Objective, task)

	if err := n.Store.UpsertStep(ctx, step); err != nil {
		return errResult(delta, "research", "persist step: "+err.Error())
	}
	delta.Objective = s.Objective

	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("quality_evaluator")}
}

// completedStepSummaries collects the output of every COMPLETED sibling
// step other than excludeID, matching research_node's `previous_steps`
// construction.
func completedStepSummaries(task *Task, excludeID string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, s := range task.Steps {
		if s.StepID == excludeID || s.Status != StepCompleted {
			continue
		}
		out = append(out, map[string]interface{}{"id": s.StepID, "title": s.Title, "result": s.OutputData})
	}
	return out
}

// advanceAfterStepCompletion mirrors research_node/processing_node's
// shared tail: if every step of the task is now terminal, complete the
// task, ready any PENDING dependents whose dependencies are now all
// COMPLETED, and clear current task/step; otherwise ready the next
// pending step.
func advanceAfterStepCompletion(delta *ResearchState, obj *Objective, task *Task) {
	if task.AllStepsTerminal() {
		task.Status = TaskCompleted
		now := time.Now()
		task.CompletedAt = &now
		task.ResultSummary = "all steps completed"

		byID := map[string]*Task{}
		for _, t := range obj.Tasks {
			byID[t.TaskID] = t
		}
		for _, depID := range task.Dependents {
			dep, ok := byID[depID]
			if ok && dep.Status == TaskPending && dep.DependsSatisfied(byID) {
				dep.Status = TaskReady
			}
		}

		*delta = clearTaskAndStep(*delta)
		return
	}
	if next := task.FirstPendingStep(); next != nil {
		next.Status = StepReady
		*delta = withStep(*delta, next.StepID)
	}
}
