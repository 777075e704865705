package resource

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestScheduler_PromotesReadyTasks(t *testing.T) {
	store := domainstore.NewMemStore()
	ctx := context.Background()

	obj := &workflow.Objective{
		ObjectiveID: "obj-1",
		Status:      workflow.ObjectiveExecuting,
		Tasks: []*workflow.Task{
			{TaskID: "t1", ObjectiveID: "obj-1", Status: workflow.TaskCompleted},
			{TaskID: "t2", ObjectiveID: "obj-1", Status: workflow.TaskPending, DependsOn: []string{"t1"}},
		},
	}
	if err := store.UpsertObjective(ctx, obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched := NewScheduler(store, time.Second, time.Hour, discardLogger())
	if err := sched.sweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetObjective(ctx, "obj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2 := got.TaskByID("t2")
	if t2 == nil || t2.Status != workflow.TaskReady {
		t.Fatalf("expected t2 promoted to READY, got %+v", t2)
	}
}

func TestScheduler_FailsExpiredRunningTasks(t *testing.T) {
	store := domainstore.NewMemStore()
	ctx := context.Background()

	started := time.Now().Add(-time.Hour)
	obj := &workflow.Objective{
		ObjectiveID: "obj-1",
		Status:      workflow.ObjectiveExecuting,
		Tasks: []*workflow.Task{
			{TaskID: "t1", ObjectiveID: "obj-1", Status: workflow.TaskRunning, StartedAt: &started},
		},
	}
	if err := store.UpsertObjective(ctx, obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched := NewScheduler(store, time.Second, time.Minute, discardLogger())
	if err := sched.sweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetObjective(ctx, "obj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t1 := got.TaskByID("t1")
	if t1 == nil || t1.Status != workflow.TaskFailed {
		t.Fatalf("expected t1 failed after exceeding timeout, got %+v", t1)
	}
}

func TestScheduler_SkipsTerminalObjectives(t *testing.T) {
	store := domainstore.NewMemStore()
	ctx := context.Background()

	obj := &workflow.Objective{
		ObjectiveID: "obj-1",
		Status:      workflow.ObjectiveCompleted,
		Tasks: []*workflow.Task{
			{TaskID: "t1", ObjectiveID: "obj-1", Status: workflow.TaskPending},
		},
	}
	if err := store.UpsertObjective(ctx, obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched := NewScheduler(store, time.Second, time.Minute, discardLogger())
	if err := sched.sweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetObjective(ctx, "obj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t1 := got.TaskByID("t1")
	if t1.Status != workflow.TaskPending {
		t.Fatalf("expected a terminal objective's tasks to be left untouched, got %+v", t1)
	}
}

func TestNewScheduler_DefaultsCheckInterval(t *testing.T) {
	sched := NewScheduler(domainstore.NewMemStore(), 0, time.Minute, discardLogger())
	if sched.CheckInterval != 30*time.Second {
		t.Errorf("expected default check interval of 30s, got %s", sched.CheckInterval)
	}
}
