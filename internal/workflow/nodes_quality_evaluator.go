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

// QualityEvaluatorNode scores the current step (or, absent one, the
// current task) and routes on the three-way verdict (SPEC_FULL.md §9's
// Open Question resolution on QualityLevel.Route), grounded on
// graph/nodes.py's quality_evaluator_node.
type QualityEvaluatorNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *QualityEvaluatorNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "quality_evaluator")

	step := s.CurrentStep()
	task := s.CurrentTask()
	if step == nil && task == nil {
		return errResult(delta, "quality_evaluator", "nothing to evaluate")
	}

	var targetID, targetTitle, targetDescription string
	var output map[string]interface{}
	if step != nil {
		targetID, targetTitle, targetDescription, output = step.StepID, step.Title, step.Description, step.OutputData
	} else {
		targetID, targetTitle, targetDescription = task.TaskID, task.Title, task.Description
	}

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", 50, 30*time.Second)
	if err != nil {
		return errResult(delta, "quality_evaluator", "llm pool: "+err.Error())
	}
	defer n.Res.Release(resource.KindLLM, handle)

	input := map[string]interface{}{
		"target_id":          targetID,
		"target_title":       targetTitle,
		"target_description": targetDescription,
		"output_data":        output,
	}
	inputJSON, _ := json.Marshal(input)

	var assessment QualityAssessment
	err = runAgentJSON(ctx, n.Agents, "quality_evaluator",
		"You evaluate the quality of a completed piece of work. Respond with JSON only: {\"score\",\"quality_level\",\"feedback\",\"improvement_suggestions\"}.",
		[]model.Message{{Role: model.RoleUser, Content: string(inputJSON)}},
		&assessment)
	if err != nil {
		return wrapAgentErr(delta, "quality_evaluator", err)
	}

	if step != nil {
		step.QualityAssessment = assessment.QualityLevel
	} else {
		task.QualityAssessment = assessment.QualityLevel
	}

	delta.Messages = []Message{{Role: "system", NodeID: "quality_evaluator",
		Content: fmt.Sprintf("quality evaluation: %s (score %.1f) — %s", assessment.QualityLevel, assessment.Score, assessment.Feedback)}}

	if step != nil {
		if err := n.Store.UpsertStep(ctx, step); err != nil {
			return errResult(delta, "quality_evaluator", "persist step: "+err.Error())
		}
	} else {
		if err := n.Store.UpsertTask(ctx, task); err != nil {
			return errResult(delta, "quality_evaluator", "persist task: "+err.Error())
		}
	}

	switch assessment.QualityLevel.Route() {
	case "pass":
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("select_next_task")}
	case "improve":
		if step != nil && step.RetryCount < step.MaxRetries {
			step.RetryCount++
			step.Status = StepReady
			delta.Messages = append(delta.Messages, Message{Role: "system", NodeID: "quality_evaluator",
				Content: fmt.Sprintf("retrying step %q (attempt %d)", step.Title, step.RetryCount)})
			nextNode := "processing"
			if task != nil && task.TaskType.UsesResearchNode() {
				nextNode = "research"
			}
			return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto(nextNode)}
		}
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("select_next_task")}
	default: // fail
		return errResult(delta, "quality_evaluator", "quality assessment failed: "+assessment.Feedback)
	}
}
