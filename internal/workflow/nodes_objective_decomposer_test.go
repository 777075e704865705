package workflow

import (
	"context"
	"testing"

	"github.com/researchflow/orchestrator/internal/domainstore"
)

func TestObjectiveDecomposerNode_BuildsTasksAndDependencies(t *testing.T) {
	reg := NewAgentRegistry(map[string]Agent{
		"objective_decomposer": &fakeAgent{output: `{"tasks":[
			{"title":"survey landscape","description":"d1","task_type":"RESEARCH","priority":70,"depends_on":[]},
			{"title":"write report","description":"d2","task_type":"DOCUMENTATION","priority":50,"depends_on":["survey landscape"]}
		]}`},
	})
	n := &ObjectiveDecomposerNode{Agents: reg, Res: testResourceManager(), Store: domainstore.NewMemStore()}

	obj := &Objective{ObjectiveID: "obj-1", Title: "write about Go generics", Query: "go generics"}
	result := n.Run(context.Background(), ResearchState{Objective: obj})

	if result.Route.To != "task_analyzer" {
		t.Fatalf("expected routing to task_analyzer, got %+v", result.Route)
	}
	tasks := result.Delta.Objective.Tasks
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Status != TaskReady {
		t.Errorf("expected the task with no dependencies to be READY, got %s", tasks[0].Status)
	}
	if tasks[1].Status != TaskPending {
		t.Errorf("expected the dependent task to stay PENDING, got %s", tasks[1].Status)
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].TaskID {
		t.Errorf("expected task 2 to depend on task 1's id, got %v", tasks[1].DependsOn)
	}
	if len(tasks[0].Dependents) != 1 || tasks[0].Dependents[0] != tasks[1].TaskID {
		t.Errorf("expected task 1 to list task 2 as a dependent, got %v", tasks[0].Dependents)
	}
}

func TestObjectiveDecomposerNode_MissingObjective(t *testing.T) {
	n := &ObjectiveDecomposerNode{Agents: NewAgentRegistry(nil), Res: testResourceManager(), Store: domainstore.NewMemStore()}
	result := n.Run(context.Background(), ResearchState{})
	if result.Delta.Error == nil {
		t.Fatalf("expected an error when the objective is missing")
	}
}

func TestObjectiveDecomposerNode_IgnoresUnknownOrSelfDependency(t *testing.T) {
	reg := NewAgentRegistry(map[string]Agent{
		"objective_decomposer": &fakeAgent{output: `{"tasks":[
			{"title":"only task","description":"d","task_type":"OTHER","priority":10,"depends_on":["only task","nonexistent"]}
		]}`},
	})
	n := &ObjectiveDecomposerNode{Agents: reg, Res: testResourceManager(), Store: domainstore.NewMemStore()}

	obj := &Objective{ObjectiveID: "obj-1"}
	result := n.Run(context.Background(), ResearchState{Objective: obj})

	tasks := result.Delta.Objective.Tasks
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if len(tasks[0].DependsOn) != 0 {
		t.Errorf("expected self and unknown dependencies to be dropped, got %v", tasks[0].DependsOn)
	}
	if tasks[0].Status != TaskReady {
		t.Errorf("expected the task to be READY with no real dependencies, got %s", tasks[0].Status)
	}
}
