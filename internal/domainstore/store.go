// Package domainstore persists the Objective/Task/Step/Workflow entity
// graph the research workflow operates over. It mirrors the shape of
// graph/store (one Store interface, a memory/sqlite/mysql implementation
// each) but the schema is the domain's five entities rather than generic
// run checkpoints.
package domainstore

import (
	"context"

	"github.com/researchflow/orchestrator/internal/workflow"
)

// Store is the persistence contract every node handler and the HTTP
// surface depend on. Implementations must be safe for concurrent use.
type Store interface {
	// UpsertObjective creates the objective row if absent, else updates it
	// (and cascades to its Tasks/Steps, matching the source's
	// "get-or-create-then-update" pattern in db/service.py).
	UpsertObjective(ctx context.Context, obj *workflow.Objective) error
	GetObjective(ctx context.Context, objectiveID string) (*workflow.Objective, error)
	ListObjectives(ctx context.Context, userID string, limit, offset int) ([]*workflow.Objective, error)

	UpsertTask(ctx context.Context, task *workflow.Task) error
	GetTask(ctx context.Context, taskID string) (*workflow.Task, error)

	UpsertStep(ctx context.Context, step *workflow.Step) error
	GetStep(ctx context.Context, stepID string) (*workflow.Step, error)

	UpsertWorkflow(ctx context.Context, wf *workflow.Workflow) error
	GetWorkflowByObjective(ctx context.Context, objectiveID string) (*workflow.Workflow, error)
	GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error)

	SaveCheckpoint(ctx context.Context, cp *workflow.WorkflowCheckpoint) error
	LatestCheckpoint(ctx context.Context, workflowID string) (*workflow.WorkflowCheckpoint, error)
	ListCheckpoints(ctx context.Context, workflowID string) ([]*workflow.WorkflowCheckpoint, error)

	Close() error
}
