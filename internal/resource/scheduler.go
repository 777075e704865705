package resource

import (
	"context"
	"log/slog"
	"time"

	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/workflow"
)

// Scheduler runs a periodic sweep over persisted objectives, grounded on
// scheduler/scheduler.py's TaskScheduler._scheduler_loop: every
// checkInterval it marks expired RUNNING tasks FAILED and promotes
// dependency-satisfied PENDING tasks to READY. The source's own
// `_schedule_tasks`/`_check_task_status` are left as TODO stubs;
// SPEC_FULL.md §4.5's fuller description of both sweeps is the
// authoritative target implemented here.
type Scheduler struct {
	Store         domainstore.Store
	CheckInterval time.Duration
	TaskTimeout   time.Duration
	Log           *slog.Logger
}

// NewScheduler constructs a Scheduler with the source's default 30s
// check interval unless overridden by config.
func NewScheduler(store domainstore.Store, checkInterval, taskTimeout time.Duration, log *slog.Logger) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &Scheduler{Store: store, CheckInterval: checkInterval, TaskTimeout: taskTimeout, Log: log}
}

// Run blocks, sweeping every CheckInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.Log.Error("scheduler sweep failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) error {
	objectives, err := s.Store.ListObjectives(ctx, "", 1000, 0)
	if err != nil {
		return err
	}
	for _, obj := range objectives {
		if obj.Status.IsTerminal() {
			continue
		}
		s.checkTaskStatus(obj)
		s.scheduleTasks(obj)
		if err := s.Store.UpsertObjective(ctx, obj); err != nil {
			s.Log.Error("scheduler: persist objective", "objective_id", obj.ObjectiveID, "error", err)
		}
	}
	return nil
}

// checkTaskStatus marks RUNNING tasks whose StartedAt is more than
// TaskTimeout ago as FAILED, the expired-RUNNING-task half of
// SPEC_FULL.md §4.5's scheduler loop.
func (s *Scheduler) checkTaskStatus(obj *workflow.Objective) {
	now := time.Now()
	for _, t := range obj.Tasks {
		if t.Status != workflow.TaskRunning || t.StartedAt == nil {
			continue
		}
		if now.Sub(*t.StartedAt) > s.TaskTimeout {
			t.Status = workflow.TaskFailed
			completed := now
			t.CompletedAt = &completed
			s.Log.Warn("scheduler: task exceeded timeout, marking failed",
				"task_id", t.TaskID, "objective_id", obj.ObjectiveID)
		}
	}
}

// scheduleTasks promotes PENDING tasks whose dependencies are all
// COMPLETED to READY, the dependency-propagation half of the loop.
func (s *Scheduler) scheduleTasks(obj *workflow.Objective) {
	byID := map[string]*workflow.Task{}
	for _, t := range obj.Tasks {
		byID[t.TaskID] = t
	}
	for _, t := range obj.Tasks {
		if t.Status == workflow.TaskPending && t.DependsSatisfied(byID) {
			t.Status = workflow.TaskReady
		}
	}
}
