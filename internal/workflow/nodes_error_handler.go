package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
	"github.com/researchflow/orchestrator/internal/werrors"
)

// recoveryAction is the error_handler agent's verdict on how to proceed,
// matching graph/nodes.py's error_handler_node four actions plus a
// catch-all.
type recoveryAction string

const (
	actionRetryStep      recoveryAction = "retry_step"
	actionSkipStep       recoveryAction = "skip_step"
	actionFailTask       recoveryAction = "fail_task"
	actionRestartWorkflow recoveryAction = "restart_workflow"
)

type errorHandlerOutput struct {
	RecoveryAction recoveryAction `json:"recovery_action"`
	Reason         string         `json:"reason"`
}

// ErrorHandlerNode consults an agent for a recovery action and applies
// it to the current step/task/objective, grounded on graph/nodes.py's
// error_handler_node.
type ErrorHandlerNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *ErrorHandlerNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "error_handler")

	if s.Error == nil {
		delta.Messages = []Message{{Role: "system", NodeID: "error_handler", Content: "no error to handle"}}
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("select_next_task")}
	}
	wfErr := s.Error

	if !wfErr.Kind.Transient() {
		return n.fail(delta, s, "non-transient error: "+wfErr.Error())
	}

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", 90, 10*time.Second)
	if err != nil {
		return n.fail(delta, s, "could not acquire llm to plan recovery: "+err.Error())
	}
	defer n.Res.Release(resource.KindLLM, handle)

	input := map[string]interface{}{
		"error_kind":    wfErr.Kind,
		"error_message": wfErr.Error(),
		"node_history":  s.VisitedNodes,
		"current_task":  s.CurrentTaskID,
		"current_step":  s.CurrentStepID,
	}
	inputJSON, _ := json.Marshal(input)

	var out errorHandlerOutput
	err = runAgentJSON(ctx, n.Agents, "error_handler",
		"You decide how to recover from a workflow error. Respond with JSON only: {\"recovery_action\":\"retry_step|skip_step|fail_task|restart_workflow\",\"reason\"}.",
		[]model.Message{{Role: model.RoleUser, Content: string(inputJSON)}}, &out)
	if err != nil {
		return n.fail(delta, s, "error_handler agent failed: "+err.Error())
	}

	task := s.CurrentTask()
	step := s.CurrentStep()

	switch out.RecoveryAction {
	case actionRetryStep:
		if step != nil && step.RetryCount < step.MaxRetries {
			step.RetryCount++
			step.Status = StepReady
			step.ErrorMessage = ""
			delta.Messages = append(delta.Messages, Message{Role: "system", NodeID: "error_handler",
				Content: "retrying step: " + step.Title})
			delta = clearErrorState(delta)
			next := "processing"
			if task != nil && task.TaskType.UsesResearchNode() {
				next = "research"
			}
			return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto(next)}
		}
		return n.fail(delta, s, "retry budget exhausted for step")

	case actionSkipStep:
		if step == nil || task == nil {
			return n.fail(delta, s, "skip_step requested with no current step")
		}
		step.Status = StepSkipped
		if next := nextStepAfter(task, step.StepID); next != nil {
			next.Status = StepReady
			delta = withStep(delta, next.StepID)
			delta.Messages = append(delta.Messages, Message{Role: "system", NodeID: "error_handler",
				Content: "skipped step, continuing: " + step.Title})
			delta = clearErrorState(delta)
			return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("task_analyzer")}
		}
		task.Status = TaskCompleted
		now := time.Now()
		task.CompletedAt = &now
		delta = clearTaskAndStep(delta)
		delta = clearErrorState(delta)
		delta.Messages = append(delta.Messages, Message{Role: "system", NodeID: "error_handler",
			Content: "skipped final step, task marked complete"})
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("select_next_task")}

	case actionFailTask:
		if task != nil {
			task.Status = TaskFailed
			task.ErrorMessage = wfErr.Error()
		}
		delta = clearTaskAndStep(delta)
		delta = clearErrorState(delta)
		delta.Messages = append(delta.Messages, Message{Role: "system", NodeID: "error_handler", Content: "task marked failed"})
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("select_next_task")}

	case actionRestartWorkflow:
		if s.Objective != nil {
			s.Objective.Status = ObjectiveCreated
			delta.Objective = s.Objective
		}
		delta = clearTaskAndStep(delta)
		delta = clearErrorState(delta)
		delta.VisitedNodes = nil
		delta.Messages = append(delta.Messages, Message{Role: "system", NodeID: "error_handler", Content: "workflow restarted"})
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("context_analyzer")}

	default:
		return n.fail(delta, s, "no recoverable action for error: "+wfErr.Error())
	}
}

// fail escalates to ObjectiveFailed, the terminal path for errors
// error_handler cannot or should not recover from.
func (n *ErrorHandlerNode) fail(delta ResearchState, s ResearchState, reason string) graph.NodeResult[ResearchState] {
	if s.Objective != nil {
		s.Objective.Status = ObjectiveFailed
		s.Objective.ErrorMessage = reason
		delta.Objective = s.Objective
	}
	delta = withError(delta, werrors.New(werrors.KindWorkflowState, "error_handler", reason, nil))
	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Stop()}
}

func nextStepAfter(task *Task, stepID string) *Step {
	for i, st := range task.Steps {
		if st.StepID == stepID && i+1 < len(task.Steps) {
			return task.Steps[i+1]
		}
	}
	return nil
}
