package domainstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/researchflow/orchestrator/internal/workflow"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store, grounded on graph/store.SQLiteStore's
// WAL-mode, auto-migrating setup. Suited to development and single-process
// deployments per SPEC_FULL.md §4.4.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path and
// runs its migration DDL.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates every table the store requires if it does not already
// exist. Exposed separately so cmd/researchd's "migrate" subcommand can
// run it against a fresh database without opening the server.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS objectives (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			query TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			user_id TEXT,
			tags TEXT,
			metadata TEXT,
			result_summary TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			objective_id TEXT NOT NULL REFERENCES objectives(id),
			title TEXT NOT NULL,
			description TEXT,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			depends_on TEXT,
			dependents TEXT,
			result_summary TEXT,
			quality_assessment TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_objective ON tasks(objective_id)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			title TEXT NOT NULL,
			description TEXT,
			step_type TEXT,
			status TEXT NOT NULL,
			agent_name TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			input_data TEXT,
			output_data TEXT,
			error_message TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			quality_assessment TEXT,
			metadata TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_task ON steps(task_id)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			objective_id TEXT NOT NULL UNIQUE REFERENCES objectives(id),
			workflow_type TEXT NOT NULL,
			status TEXT NOT NULL,
			current_node TEXT,
			is_paused INTEGER NOT NULL DEFAULT 0,
			serialized_state BLOB,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id),
			node_name TEXT NOT NULL,
			state BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow ON workflow_checkpoints(workflow_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertObjective(ctx context.Context, obj *workflow.Objective) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tags, _ := json.Marshal(obj.Tags)
	meta, _ := json.Marshal(obj.Metadata)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO objectives (id, title, description, query, status, priority, user_id, tags, metadata, result_summary, error_message, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, query=excluded.query,
			status=excluded.status, priority=excluded.priority, user_id=excluded.user_id,
			tags=excluded.tags, metadata=excluded.metadata, result_summary=excluded.result_summary,
			error_message=excluded.error_message, started_at=excluded.started_at, completed_at=excluded.completed_at
	`, obj.ObjectiveID, obj.Title, obj.Description, obj.Query, obj.Status, obj.Priority, obj.UserID,
		string(tags), string(meta), obj.ResultSummary, obj.ErrorMessage, obj.CreatedAt, obj.StartedAt, obj.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert objective: %w", err)
	}

	for _, t := range obj.Tasks {
		if err := upsertTaskTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertTaskTx(ctx context.Context, tx *sql.Tx, t *workflow.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)
	dependents, _ := json.Marshal(t.Dependents)
	meta, _ := json.Marshal(t.Metadata)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, objective_id, title, description, task_type, status, priority, depends_on, dependents, result_summary, quality_assessment, metadata, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, task_type=excluded.task_type,
			status=excluded.status, priority=excluded.priority, depends_on=excluded.depends_on,
			dependents=excluded.dependents, result_summary=excluded.result_summary,
			quality_assessment=excluded.quality_assessment, metadata=excluded.metadata,
			started_at=excluded.started_at, completed_at=excluded.completed_at
	`, t.TaskID, t.ObjectiveID, t.Title, t.Description, t.TaskType, t.Status, t.Priority,
		string(dependsOn), string(dependents), t.ResultSummary, t.QualityAssessment, string(meta),
		t.CreatedAt, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	for _, st := range t.Steps {
		if err := upsertStepTx(ctx, tx, st); err != nil {
			return err
		}
	}
	return nil
}

func upsertStepTx(ctx context.Context, tx *sql.Tx, st *workflow.Step) error {
	input, _ := json.Marshal(st.InputData)
	output, _ := json.Marshal(st.OutputData)
	meta, _ := json.Marshal(st.Metadata)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO steps (id, task_id, title, description, step_type, status, agent_name, priority, input_data, output_data, error_message, retry_count, max_retries, quality_assessment, metadata, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, step_type=excluded.step_type,
			status=excluded.status, agent_name=excluded.agent_name, priority=excluded.priority,
			input_data=excluded.input_data, output_data=excluded.output_data,
			error_message=excluded.error_message, retry_count=excluded.retry_count,
			max_retries=excluded.max_retries, quality_assessment=excluded.quality_assessment,
			metadata=excluded.metadata, started_at=excluded.started_at, completed_at=excluded.completed_at
	`, st.StepID, st.TaskID, st.Title, st.Description, st.StepType, st.Status, st.AgentName, st.Priority,
		string(input), string(output), st.ErrorMessage, st.RetryCount, st.MaxRetries, st.QualityAssessment,
		string(meta), st.StartedAt, st.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetObjective(ctx context.Context, objectiveID string) (*workflow.Objective, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, description, query, status, priority, user_id, tags, metadata, result_summary, error_message, created_at, started_at, completed_at FROM objectives WHERE id=?`, objectiveID)
	obj := &workflow.Objective{}
	var tags, meta string
	if err := row.Scan(&obj.ObjectiveID, &obj.Title, &obj.Description, &obj.Query, &obj.Status, &obj.Priority,
		&obj.UserID, &tags, &meta, &obj.ResultSummary, &obj.ErrorMessage, &obj.CreatedAt, &obj.StartedAt, &obj.CompletedAt); err != nil {
		return nil, fmt.Errorf("get objective: %w", err)
	}
	_ = json.Unmarshal([]byte(tags), &obj.Tags)
	_ = json.Unmarshal([]byte(meta), &obj.Metadata)

	tasks, err := s.tasksForObjective(ctx, objectiveID)
	if err != nil {
		return nil, err
	}
	obj.Tasks = tasks
	return obj, nil
}

func (s *SQLiteStore) tasksForObjective(ctx context.Context, objectiveID string) ([]*workflow.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, objective_id, title, description, task_type, status, priority, depends_on, dependents, result_summary, quality_assessment, metadata, created_at, started_at, completed_at FROM tasks WHERE objective_id=? ORDER BY id`, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*workflow.Task
	for rows.Next() {
		t := &workflow.Task{}
		var dependsOn, dependents, meta string
		if err := rows.Scan(&t.TaskID, &t.ObjectiveID, &t.Title, &t.Description, &t.TaskType, &t.Status, &t.Priority,
			&dependsOn, &dependents, &t.ResultSummary, &t.QualityAssessment, &meta, &t.CreatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		_ = json.Unmarshal([]byte(dependsOn), &t.DependsOn)
		_ = json.Unmarshal([]byte(dependents), &t.Dependents)
		_ = json.Unmarshal([]byte(meta), &t.Metadata)

		steps, err := s.stepsForTask(ctx, t.TaskID)
		if err != nil {
			return nil, err
		}
		t.Steps = steps
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) stepsForTask(ctx context.Context, taskID string) ([]*workflow.Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, title, description, step_type, status, agent_name, priority, input_data, output_data, error_message, retry_count, max_retries, quality_assessment, metadata, started_at, completed_at FROM steps WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*workflow.Step
	for rows.Next() {
		st := &workflow.Step{}
		var input, output, meta string
		if err := rows.Scan(&st.StepID, &st.TaskID, &st.Title, &st.Description, &st.StepType, &st.Status, &st.AgentName,
			&st.Priority, &input, &output, &st.ErrorMessage, &st.RetryCount, &st.MaxRetries, &st.QualityAssessment,
			&meta, &st.StartedAt, &st.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		_ = json.Unmarshal([]byte(input), &st.InputData)
		_ = json.Unmarshal([]byte(output), &st.OutputData)
		_ = json.Unmarshal([]byte(meta), &st.Metadata)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) ListObjectives(ctx context.Context, userID string, limit, offset int) ([]*workflow.Objective, error) {
	query := `SELECT id FROM objectives`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*workflow.Objective, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetObjective(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertTask(ctx context.Context, task *workflow.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertTaskTx(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*workflow.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, objective_id, title, description, task_type, status, priority, depends_on, dependents, result_summary, quality_assessment, metadata, created_at, started_at, completed_at FROM tasks WHERE id=?`, taskID)
	t := &workflow.Task{}
	var dependsOn, dependents, meta string
	if err := row.Scan(&t.TaskID, &t.ObjectiveID, &t.Title, &t.Description, &t.TaskType, &t.Status, &t.Priority,
		&dependsOn, &dependents, &t.ResultSummary, &t.QualityAssessment, &meta, &t.CreatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	_ = json.Unmarshal([]byte(dependsOn), &t.DependsOn)
	_ = json.Unmarshal([]byte(dependents), &t.Dependents)
	_ = json.Unmarshal([]byte(meta), &t.Metadata)
	steps, err := s.stepsForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	t.Steps = steps
	return t, nil
}

func (s *SQLiteStore) UpsertStep(ctx context.Context, step *workflow.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertStepTx(ctx, tx, step); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetStep(ctx context.Context, stepID string) (*workflow.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, task_id, title, description, step_type, status, agent_name, priority, input_data, output_data, error_message, retry_count, max_retries, quality_assessment, metadata, started_at, completed_at FROM steps WHERE id=?`, stepID)
	st := &workflow.Step{}
	var input, output, meta string
	if err := row.Scan(&st.StepID, &st.TaskID, &st.Title, &st.Description, &st.StepType, &st.Status, &st.AgentName,
		&st.Priority, &input, &output, &st.ErrorMessage, &st.RetryCount, &st.MaxRetries, &st.QualityAssessment,
		&meta, &st.StartedAt, &st.CompletedAt); err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	_ = json.Unmarshal([]byte(input), &st.InputData)
	_ = json.Unmarshal([]byte(output), &st.OutputData)
	_ = json.Unmarshal([]byte(meta), &st.Metadata)
	return st, nil
}

func (s *SQLiteStore) UpsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, objective_id, workflow_type, status, current_node, is_paused, serialized_state, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(objective_id) DO UPDATE SET
			workflow_type=excluded.workflow_type, status=excluded.status, current_node=excluded.current_node,
			is_paused=excluded.is_paused, serialized_state=excluded.serialized_state,
			started_at=excluded.started_at, completed_at=excluded.completed_at
	`, wf.WorkflowID, wf.ObjectiveID, wf.WorkflowType, wf.Status, wf.CurrentNode, wf.IsPaused,
		wf.SerializedState, wf.CreatedAt, wf.StartedAt, wf.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkflowByObjective(ctx context.Context, objectiveID string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, objective_id, workflow_type, status, current_node, is_paused, serialized_state, created_at, started_at, completed_at FROM workflows WHERE objective_id=?`, objectiveID)
	wf := &workflow.Workflow{}
	if err := row.Scan(&wf.WorkflowID, &wf.ObjectiveID, &wf.WorkflowType, &wf.Status, &wf.CurrentNode, &wf.IsPaused,
		&wf.SerializedState, &wf.CreatedAt, &wf.StartedAt, &wf.CompletedAt); err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, objective_id, workflow_type, status, current_node, is_paused, serialized_state, created_at, started_at, completed_at FROM workflows WHERE id=?`, workflowID)
	wf := &workflow.Workflow{}
	if err := row.Scan(&wf.WorkflowID, &wf.ObjectiveID, &wf.WorkflowType, &wf.Status, &wf.CurrentNode, &wf.IsPaused,
		&wf.SerializedState, &wf.CreatedAt, &wf.StartedAt, &wf.CompletedAt); err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *workflow.WorkflowCheckpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO workflow_checkpoints (id, workflow_id, node_name, state, created_at) VALUES (?,?,?,?,?)`,
		cp.CheckpointID, cp.WorkflowID, cp.NodeName, cp.State, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, workflowID string) (*workflow.WorkflowCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, workflow_id, node_name, state, created_at FROM workflow_checkpoints WHERE workflow_id=? ORDER BY created_at DESC LIMIT 1`, workflowID)
	cp := &workflow.WorkflowCheckpoint{}
	if err := row.Scan(&cp.CheckpointID, &cp.WorkflowID, &cp.NodeName, &cp.State, &cp.CreatedAt); err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*workflow.WorkflowCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, workflow_id, node_name, state, created_at FROM workflow_checkpoints WHERE workflow_id=? ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	var out []*workflow.WorkflowCheckpoint
	for rows.Next() {
		cp := &workflow.WorkflowCheckpoint{}
		if err := rows.Scan(&cp.CheckpointID, &cp.WorkflowID, &cp.NodeName, &cp.State, &cp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
