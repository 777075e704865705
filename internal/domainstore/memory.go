package domainstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/researchflow/orchestrator/internal/workflow"
)

// MemStore is an in-process Store, grounded on graph/store.MemStore's
// mutex-guarded map convention. Intended for tests and single-process
// development, matching the teacher's own framing of its memory store.
type MemStore struct {
	mu          sync.RWMutex
	objectives  map[string]*workflow.Objective
	tasks       map[string]*workflow.Task
	steps       map[string]*workflow.Step
	workflows   map[string]*workflow.Workflow // keyed by ObjectiveID
	checkpoints map[string][]*workflow.WorkflowCheckpoint
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objectives:  map[string]*workflow.Objective{},
		tasks:       map[string]*workflow.Task{},
		steps:       map[string]*workflow.Step{},
		workflows:   map[string]*workflow.Workflow{},
		checkpoints: map[string][]*workflow.WorkflowCheckpoint{},
	}
}

func (m *MemStore) UpsertObjective(ctx context.Context, obj *workflow.Objective) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *obj
	m.objectives[obj.ObjectiveID] = &cp
	for _, t := range obj.Tasks {
		m.upsertTaskLocked(t)
	}
	return nil
}

func (m *MemStore) GetObjective(ctx context.Context, objectiveID string) (*workflow.Objective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objectives[objectiveID]
	if !ok {
		return nil, fmt.Errorf("objective not found: %s", objectiveID)
	}
	result := *obj
	result.Tasks = m.tasksForObjectiveLocked(objectiveID)
	return &result, nil
}

func (m *MemStore) ListObjectives(ctx context.Context, userID string, limit, offset int) ([]*workflow.Objective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Objective
	for _, o := range m.objectives {
		if userID != "" && o.UserID != userID {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *MemStore) UpsertTask(ctx context.Context, task *workflow.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertTaskLocked(task)
	return nil
}

func (m *MemStore) upsertTaskLocked(task *workflow.Task) {
	cp := *task
	m.tasks[task.TaskID] = &cp
	for _, s := range task.Steps {
		scp := *s
		m.steps[s.StepID] = &scp
	}
}

func (m *MemStore) tasksForObjectiveLocked(objectiveID string) []*workflow.Task {
	var out []*workflow.Task
	for _, t := range m.tasks {
		if t.ObjectiveID != objectiveID {
			continue
		}
		cp := *t
		cp.Steps = m.stepsForTaskLocked(t.TaskID)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (m *MemStore) stepsForTaskLocked(taskID string) []*workflow.Step {
	var out []*workflow.Step
	for _, s := range m.steps {
		if s.TaskID != taskID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}

func (m *MemStore) GetTask(ctx context.Context, taskID string) (*workflow.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	cp := *t
	cp.Steps = m.stepsForTaskLocked(taskID)
	return &cp, nil
}

func (m *MemStore) UpsertStep(ctx context.Context, step *workflow.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *step
	m.steps[step.StepID] = &cp
	return nil
}

func (m *MemStore) GetStep(ctx context.Context, stepID string) (*workflow.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[stepID]
	if !ok {
		return nil, fmt.Errorf("step not found: %s", stepID)
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) UpsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ObjectiveID] = &cp
	return nil
}

func (m *MemStore) GetWorkflowByObjective(ctx context.Context, objectiveID string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[objectiveID]
	if !ok {
		return nil, fmt.Errorf("workflow not found for objective: %s", objectiveID)
	}
	cp := *wf
	return &cp, nil
}

func (m *MemStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wf := range m.workflows {
		if wf.WorkflowID == workflowID {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("workflow not found: %s", workflowID)
}

func (m *MemStore) SaveCheckpoint(ctx context.Context, cp *workflow.WorkflowCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	m.checkpoints[cp.WorkflowID] = append(m.checkpoints[cp.WorkflowID], &c)
	return nil
}

func (m *MemStore) LatestCheckpoint(ctx context.Context, workflowID string) (*workflow.WorkflowCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.checkpoints[workflowID]
	if len(list) == 0 {
		return nil, fmt.Errorf("no checkpoints for workflow: %s", workflowID)
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (m *MemStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*workflow.WorkflowCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.checkpoints[workflowID]
	out := make([]*workflow.WorkflowCheckpoint, len(list))
	for i, c := range list {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }
