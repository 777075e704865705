package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
	"github.com/researchflow/orchestrator/internal/werrors"
)

type decomposedTask struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	TaskType    string                 `json:"task_type"`
	Priority    int                    `json:"priority"`
	DependsOn   []string               `json:"depends_on"` // titles, resolved to IDs below
	Metadata    map[string]interface{} `json:"metadata"`
}

type decomposerOutput struct {
	Tasks []decomposedTask `json:"tasks"`
}

// ObjectiveDecomposerNode splits a complex objective into Tasks (and
// records each task's dependency titles, keyed by task ID), grounded on
// graph/nodes.py's objective_decomposer_node. Transitions
// ANALYZING -> DECOMPOSING.
type ObjectiveDecomposerNode struct {
	Agents *AgentRegistry
	Res    *resource.Manager
	Store  domainstore.Store
}

func (n *ObjectiveDecomposerNode) Run(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	delta := visit(s, "objective_decomposer")

	obj := s.Objective
	if obj == nil {
		return errResult(delta, "objective_decomposer", "missing objective")
	}
	obj.Status = ObjectiveDecomposing

	handle, err := n.Res.Acquire(ctx, resource.KindLLM, "", obj.Priority, 30*time.Second)
	if err != nil {
		return errResult(delta, "objective_decomposer", "llm pool: "+err.Error())
	}
	defer n.Res.Release(resource.KindLLM, handle)

	contextJSON := "{}"
	if s.IntermediateData.ContextAnalysis != nil {
		contextJSON = fmt.Sprintf("%+v", *s.IntermediateData.ContextAnalysis)
	}

	var out decomposerOutput
	err = runAgentJSON(ctx, n.Agents, "objective_decomposer",
		"You break a research objective into an ordered list of concrete tasks. Respond with JSON only: {\"tasks\":[{\"title\",\"description\",\"task_type\",\"priority\",\"depends_on\":[title...]}]}.",
		[]model.Message{{Role: model.RoleUser, Content: fmt.Sprintf("Objective: %s\nQuery: %s\nContext: %s", obj.Title, obj.Query, contextJSON)}},
		&out)
	if err != nil {
		we, _ := werrors.AsWorkflowError(err)
		return graph.NodeResult[ResearchState]{Delta: withError(delta, we), Route: graph.Goto("error_handler")}
	}

	titleToID := map[string]string{}
	tasks := make([]*Task, 0, len(out.Tasks))
	for i, td := range out.Tasks {
		taskID := fmt.Sprintf("task-%s-%d", obj.ObjectiveID, i+1)
		titleToID[td.Title] = taskID
		tasks = append(tasks, &Task{
			TaskID:      taskID,
			ObjectiveID: obj.ObjectiveID,
			Title:       td.Title,
			Description: td.Description,
			TaskType:    TaskType(td.TaskType),
			Priority:    td.Priority,
			Status:      TaskPending,
			Metadata:    td.Metadata,
			CreatedAt:   time.Now(),
		})
	}

	depsByTitle := map[string][]string{}
	for i, td := range out.Tasks {
		if len(td.DependsOn) == 0 {
			continue
		}
		depsByTitle[tasks[i].TaskID] = td.DependsOn
	}
	for taskID, depTitles := range depsByTitle {
		task := taskByID(tasks, taskID)
		for _, depTitle := range depTitles {
			depID, ok := titleToID[depTitle]
			if !ok || depID == taskID {
				continue
			}
			task.DependsOn = append(task.DependsOn, depID)
			if dep := taskByID(tasks, depID); dep != nil {
				dep.Dependents = append(dep.Dependents, taskID)
			}
		}
	}

	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			t.Status = TaskReady
		}
	}

	obj.Tasks = tasks
	delta.Objective = obj
	delta.IntermediateData.TaskDependenciesByTitle = depsByTitle
	delta.Messages = []Message{{Role: "system", NodeID: "objective_decomposer",
		Content: fmt.Sprintf("decomposed objective into %d tasks", len(tasks))}}

	if err := n.Store.UpsertObjective(ctx, obj); err != nil {
		return errResult(delta, "objective_decomposer", "persist objective: "+err.Error())
	}

	return graph.NodeResult[ResearchState]{Delta: delta, Route: graph.Goto("task_analyzer")}
}

func taskByID(tasks []*Task, id string) *Task {
	for _, t := range tasks {
		if t.TaskID == id {
			return t
		}
	}
	return nil
}

// errResult builds a NodeResult routing to error_handler with a
// WorkflowState error, the common path for "a required piece of state
// was missing" failures across every node.
func errResult(delta ResearchState, nodeID, msg string) graph.NodeResult[ResearchState] {
	return graph.NodeResult[ResearchState]{
		Delta: withError(delta, werrors.New(werrors.KindWorkflowState, nodeID, msg, nil)),
		Route: graph.Goto("error_handler"),
	}
}
