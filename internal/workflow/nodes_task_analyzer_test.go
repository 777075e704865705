package workflow

import (
	"context"
	"testing"

	"github.com/researchflow/orchestrator/internal/domainstore"
)

func TestReadyTasksByPriority_SortsDescending(t *testing.T) {
	obj := &Objective{Tasks: []*Task{
		{TaskID: "low", Status: TaskReady, Priority: 10},
		{TaskID: "high", Status: TaskReady, Priority: 90},
		{TaskID: "mid", Status: TaskReady, Priority: 50},
		{TaskID: "not-ready", Status: TaskPending, Priority: 100},
	}}

	ready := readyTasksByPriority(obj)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready tasks, got %d", len(ready))
	}
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if ready[i].TaskID != id {
			t.Errorf("ready[%d] = %q, want %q", i, ready[i].TaskID, id)
		}
	}
}

func TestTaskAnalyzerNode_PlansStepsAndSelectsFirst(t *testing.T) {
	reg := NewAgentRegistry(map[string]Agent{
		"task_analyzer": &fakeAgent{output: `{"steps":[
			{"title":"step one","description":"d1","agent_name":"processing"},
			{"title":"step two","description":"d2","agent_name":"processing"}
		]}`},
	})
	n := &TaskAnalyzerNode{Agents: reg, Res: testResourceManager(), Store: domainstore.NewMemStore()}

	task := &Task{TaskID: "task-1", Status: TaskReady, TaskType: TaskOther}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{task}}
	s := ResearchState{Objective: obj, CurrentTaskID: "task-1"}

	result := n.Run(context.Background(), s)
	if result.Route.To != "processing" {
		t.Fatalf("expected routing to processing for a non-research task, got %+v", result.Route)
	}
	if len(task.Steps) != 2 {
		t.Fatalf("expected 2 planned steps, got %d", len(task.Steps))
	}
	if task.Status != TaskRunning {
		t.Errorf("expected task promoted to RUNNING, got %s", task.Status)
	}
	if task.Steps[0].Status != StepReady {
		t.Errorf("expected the first step marked READY, got %s", task.Steps[0].Status)
	}
	if result.Delta.CurrentStepID != task.Steps[0].StepID {
		t.Errorf("expected current step set to the first planned step")
	}
}

func TestTaskAnalyzerNode_RoutesToResearchForResearchTask(t *testing.T) {
	reg := NewAgentRegistry(map[string]Agent{
		"task_analyzer": &fakeAgent{output: `{"steps":[{"title":"s1","description":"d","agent_name":"research"}]}`},
	})
	n := &TaskAnalyzerNode{Agents: reg, Res: testResourceManager(), Store: domainstore.NewMemStore()}

	task := &Task{TaskID: "task-1", Status: TaskReady, TaskType: TaskResearch}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{task}}
	s := ResearchState{Objective: obj, CurrentTaskID: "task-1"}

	result := n.Run(context.Background(), s)
	if result.Route.To != "research" {
		t.Fatalf("expected routing to research, got %+v", result.Route)
	}
}

func TestTaskAnalyzerNode_SelectsReadyTaskWhenNoneCurrent(t *testing.T) {
	reg := NewAgentRegistry(map[string]Agent{
		"task_analyzer": &fakeAgent{output: `{"steps":[{"title":"s1","description":"d","agent_name":"processing"}]}`},
	})
	n := &TaskAnalyzerNode{Agents: reg, Res: testResourceManager(), Store: domainstore.NewMemStore()}

	task := &Task{TaskID: "task-1", Status: TaskReady, TaskType: TaskOther}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{task}}
	s := ResearchState{Objective: obj}

	result := n.Run(context.Background(), s)
	if result.Delta.CurrentTaskID != "task-1" {
		t.Errorf("expected task-1 to be selected, got %q", result.Delta.CurrentTaskID)
	}
}

func TestTaskAnalyzerNode_NoReadyTaskErrors(t *testing.T) {
	n := &TaskAnalyzerNode{Agents: NewAgentRegistry(nil), Res: testResourceManager(), Store: domainstore.NewMemStore()}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{{TaskID: "task-1", Status: TaskBlocked}}}
	result := n.Run(context.Background(), ResearchState{Objective: obj})

	if result.Delta.Error == nil {
		t.Fatalf("expected an error when there is no ready task to analyze")
	}
}
