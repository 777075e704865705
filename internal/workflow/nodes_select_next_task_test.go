package workflow

import (
	"context"
	"testing"

	"github.com/researchflow/orchestrator/internal/domainstore"
)

func TestSelectNextTaskNode_CurrentStillRunningGoesBackToAnalyzer(t *testing.T) {
	n := &SelectNextTaskNode{Store: domainstore.NewMemStore()}
	task := &Task{TaskID: "task-1", Status: TaskRunning}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{task}}
	s := ResearchState{Objective: obj, CurrentTaskID: "task-1"}

	result := n.Run(context.Background(), s)
	if result.Route.To != "task_analyzer" {
		t.Fatalf("expected routing to task_analyzer, got %+v", result.Route)
	}
}

func TestSelectNextTaskNode_PicksHighestPriorityReady(t *testing.T) {
	n := &SelectNextTaskNode{Store: domainstore.NewMemStore()}
	low := &Task{TaskID: "task-low", Status: TaskReady, Priority: 10}
	high := &Task{TaskID: "task-high", Status: TaskReady, Priority: 90}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{low, high}}
	s := ResearchState{Objective: obj}

	result := n.Run(context.Background(), s)
	if result.Route.To != "task_analyzer" {
		t.Fatalf("expected routing to task_analyzer, got %+v", result.Route)
	}
	if result.Delta.CurrentTaskID != "task-high" {
		t.Errorf("expected the highest priority ready task selected, got %q", result.Delta.CurrentTaskID)
	}
}

func TestSelectNextTaskNode_AllCompletedRoutesToSynthesis(t *testing.T) {
	n := &SelectNextTaskNode{Store: domainstore.NewMemStore()}
	task := &Task{TaskID: "task-1", Status: TaskCompleted}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{task}}
	s := ResearchState{Objective: obj}

	result := n.Run(context.Background(), s)
	if result.Route.To != "synthesis" {
		t.Fatalf("expected routing to synthesis, got %+v", result.Route)
	}
	if result.Delta.Objective.Status != ObjectiveSynthesizing {
		t.Errorf("expected objective marked SYNTHESIZING, got %s", result.Delta.Objective.Status)
	}
}

func TestSelectNextTaskNode_NoReadyAndIncompleteErrors(t *testing.T) {
	n := &SelectNextTaskNode{Store: domainstore.NewMemStore()}
	task := &Task{TaskID: "task-1", Status: TaskBlocked}
	obj := &Objective{ObjectiveID: "obj-1", Tasks: []*Task{task}}
	s := ResearchState{Objective: obj}

	result := n.Run(context.Background(), s)
	if result.Delta.Error == nil {
		t.Fatalf("expected an error when no task is ready and the objective is incomplete")
	}
}

func TestSelectNextTaskNode_MissingObjective(t *testing.T) {
	n := &SelectNextTaskNode{Store: domainstore.NewMemStore()}
	result := n.Run(context.Background(), ResearchState{})
	if result.Delta.Error == nil {
		t.Fatalf("expected an error when the objective is missing")
	}
}

func TestAllTasksCompleted(t *testing.T) {
	t.Run("empty task list is not considered complete", func(t *testing.T) {
		if allTasksCompleted(&Objective{}) {
			t.Errorf("expected false for an objective with no tasks")
		}
	})
	t.Run("mixed statuses", func(t *testing.T) {
		obj := &Objective{Tasks: []*Task{{Status: TaskCompleted}, {Status: TaskRunning}}}
		if allTasksCompleted(obj) {
			t.Errorf("expected false when one task is not completed")
		}
	})
	t.Run("all completed", func(t *testing.T) {
		obj := &Objective{Tasks: []*Task{{Status: TaskCompleted}, {Status: TaskCompleted}}}
		if !allTasksCompleted(obj) {
			t.Errorf("expected true when every task is completed")
		}
	})
}
