package workflow

import (
	"context"
	"fmt"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/internal/domainstore"
)

// SelectNextTaskNode chooses the next READY task by descending priority
// once the current task has left RUNNING, or routes to synthesis once
// every task is COMPLETED, grounded on graph/nodes.py's
// select_next_task_node.
type SelectNextTaskNode struct {
	Store domainstore.Store
}

func (n *SelectNextTaskNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "select_next_task")

	obj := s.Objective
	if obj == nil {
		return errResult(delta, "select_next_task", "missing objective")
	}

	if current := s.CurrentTask(); current != nil && current.Status == TaskRunning {
		return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("task_analyzer")}
	}

	ready := readyTasksByPriority(obj)
	if len(ready) == 0 {
		if allTasksCompleted(obj) {
			obj.Status = ObjectiveSynthesizing
			delta.Objective = obj
			delta.Messages = []Message{{Role: "system", NodeID: "select_next_task",
				Content: "all tasks completed, proceeding to synthesis"}}
			return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("synthesis")}
		}
		delta.Messages = []Message{{Role: "system", NodeID: "select_next_task",
			Content: "no ready task available; dependencies may be unsatisfied"}}
		return errResult(delta, "select_next_task", "no ready task and objective incomplete")
	}

	next := ready[0]
	delta.CurrentTaskID = next.TaskID
	delta.clearCurrentStep = true // a freshly selected task has no current step yet
	delta.Messages = []Message{{Role: "system", NodeID: "select_next_task",
		Content: fmt.Sprintf("selected task %q as next", next.Title)}}

	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("task_analyzer")}
}

func allTasksCompleted(obj *Objective) bool {
	for _, t := range obj.Tasks {
		if t.Status != TaskCompleted {
			return false
		}
	}
	return len(obj.Tasks) > 0
}
