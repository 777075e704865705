package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
)

type plannedStep struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	AgentName   string                 `json:"agent_name"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type taskAnalysisOutput struct {
	Steps []plannedStep `json:"steps"`
}

// TaskAnalyzerNode picks (or confirms) the current Task and plans its
// Steps, grounded on graph/nodes.py's task_analyzer_node. Transitions
// DECOMPOSING -> PLANNING.
type TaskAnalyzerNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *TaskAnalyzerNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "task_analyzer")

	obj := s.Objective
	if obj == nil {
		return errResult(delta, "task_analyzer", "missing objective")
	}
	obj.Status = ObjectivePlanning
	delta.Objective = obj

	current := s.CurrentTask()
	if current == nil {
		ready := readyTasksByPriority(obj)
		if len(ready) == 0 {
			return errResult(delta, "task_analyzer", "no ready task to analyze")
		}
		current = ready[0]
		delta = withTask(delta, current.TaskID)
	}

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", current.Priority, 30*time.Second)
	if err != nil {
		return errResult(delta, "task_analyzer", "llm pool: "+err.Error())
	}
	defer n.Res.Release(resource.KindLLM, handle)

	var out taskAnalysisOutput
	err = runAgentJSON(ctx, n.Agents, "task_analyzer",
		"You break a task into an ordered list of executable steps. Respond with JSON only: {\"steps\":[{\"title\",\"description\",\"agent_name\"}]}.",
		[]model.Message{{Role: model.RoleUser, Content: fmt.Sprintf("Task: %s\nDescription: %s\nType: %s", current.Title, current.Description, current.TaskType)}},
		&out)
	if err != nil {
		return wrapAgentErr(delta, "task_analyzer", err)
	}

	steps := make([]*Step, 0, len(out.Steps))
	for i, sd := range out.Steps {
		steps = append(steps, &Step{
			StepID:      fmt.Sprintf("step-%s-%d", current.TaskID, i+1),
			TaskID:      current.TaskID,
			Title:       sd.Title,
			Description: sd.Description,
			Status:      StepPending,
			AgentName:   sd.AgentName,
			Metadata:    sd.Metadata,
			MaxRetries:  3,
		})
	}
	current.Steps = steps

	if len(current.Steps) > 0 && current.Status == TaskReady {
		current.Status = TaskRunning
		now := time.Now()
		current.StartedAt = &now
		current.Steps[0].Status = StepReady
		delta = withStep(delta, current.Steps[0].StepID)
	}

	delta.Objective = obj
	delta.Messages = []Message{{Role: "system", NodeID: "task_analyzer",
		Content: fmt.Sprintf("task %q planned into %d steps", current.Title, len(current.Steps))}}

	if err := n.Store.UpsertTask(ctx, current); err != nil {
		return errResult(delta, "task_analyzer", "persist task: "+err.Error())
	}

	nextNode := "processing"
	if current.TaskType.UsesResearchNode() {
		nextNode = "research"
	}
	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto(nextNode)}
}

// readyTasksByPriority returns READY tasks sorted by descending priority,
// matching task_analyzer_node's `ready_tasks.sort(key=priority, reverse=True)`.
func readyTasksByPriority(obj *Objective) []*Task {
	var ready []*Task
	for _, t := range obj.Tasks {
		if t.Status == TaskReady {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })
	return ready
}
