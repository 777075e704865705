package domainstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/researchflow/orchestrator/internal/workflow"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the production Store, grounded on graph/store.MySQLStore's
// connection-pooling conventions (SPEC_FULL.md §4.4: "distributed systems
// with multiple workers, long-running workflows that survive restarts").
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and runs migrations.
// dsn follows github.com/go-sql-driver/mysql's format, e.g.
// "user:pass@tcp(127.0.0.1:3306)/researchflow?parseTime=true".
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &MySQLStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates every table if it does not already exist.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS objectives (
			id VARCHAR(64) PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			query TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			user_id VARCHAR(64),
			tags JSON,
			metadata JSON,
			result_summary TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME NULL,
			completed_at DATETIME NULL,
			INDEX idx_objectives_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(96) PRIMARY KEY,
			objective_id VARCHAR(64) NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			task_type VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			depends_on JSON,
			dependents JSON,
			result_summary TEXT,
			quality_assessment VARCHAR(32),
			metadata JSON,
			created_at DATETIME NOT NULL,
			started_at DATETIME NULL,
			completed_at DATETIME NULL,
			INDEX idx_tasks_objective (objective_id),
			FOREIGN KEY (objective_id) REFERENCES objectives(id)
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id VARCHAR(128) PRIMARY KEY,
			task_id VARCHAR(96) NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			step_type VARCHAR(64),
			status VARCHAR(32) NOT NULL,
			agent_name VARCHAR(64),
			priority INT NOT NULL DEFAULT 0,
			input_data JSON,
			output_data JSON,
			error_message TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			quality_assessment VARCHAR(32),
			metadata JSON,
			started_at DATETIME NULL,
			completed_at DATETIME NULL,
			INDEX idx_steps_task (task_id),
			FOREIGN KEY (task_id) REFERENCES tasks(id)
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(96) PRIMARY KEY,
			objective_id VARCHAR(64) NOT NULL UNIQUE,
			workflow_type VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			current_node VARCHAR(64),
			is_paused BOOLEAN NOT NULL DEFAULT FALSE,
			serialized_state LONGBLOB,
			created_at DATETIME NOT NULL,
			started_at DATETIME NULL,
			completed_at DATETIME NULL,
			FOREIGN KEY (objective_id) REFERENCES objectives(id)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id VARCHAR(96) PRIMARY KEY,
			workflow_id VARCHAR(96) NOT NULL,
			node_name VARCHAR(64) NOT NULL,
			state LONGBLOB NOT NULL,
			created_at DATETIME NOT NULL,
			INDEX idx_checkpoints_workflow (workflow_id, created_at),
			FOREIGN KEY (workflow_id) REFERENCES workflows(id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) UpsertObjective(ctx context.Context, obj *workflow.Objective) error {
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
		ON DUPLICATE KEY UPDATE
			title=VALUES(title), description=VALUES(description), query=VALUES(query),
			status=VALUES(status), priority=VALUES(priority), user_id=VALUES(user_id),
			tags=VALUES(tags), metadata=VALUES(metadata), result_summary=VALUES(result_summary),
			error_message=VALUES(error_message), started_at=VALUES(started_at), completed_at=VALUES(completed_at)
	`, obj.ObjectiveID, obj.Title, obj.Description, obj.Query, obj.Status, obj.Priority, obj.UserID,
		string(tags), string(meta), obj.ResultSummary, obj.ErrorMessage, obj.CreatedAt, obj.StartedAt, obj.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert objective: %w", err)
	}
	for _, t := range obj.Tasks {
		if err := mysqlUpsertTaskTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func mysqlUpsertTaskTx(ctx context.Context, tx *sql.Tx, t *workflow.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)
	dependents, _ := json.Marshal(t.Dependents)
	meta, _ := json.Marshal(t.Metadata)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, objective_id, title, description, task_type, status, priority, depends_on, dependents, result_summary, quality_assessment, metadata, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			title=VALUES(title), description=VALUES(description), task_type=VALUES(task_type),
			status=VALUES(status), priority=VALUES(priority), depends_on=VALUES(depends_on),
			dependents=VALUES(dependents), result_summary=VALUES(result_summary),
			quality_assessment=VALUES(quality_assessment), metadata=VALUES(metadata),
			started_at=VALUES(started_at), completed_at=VALUES(completed_at)
	`, t.TaskID, t.ObjectiveID, t.Title, t.Description, t.TaskType, t.Status, t.Priority,
		string(dependsOn), string(dependents), t.ResultSummary, t.QualityAssessment, string(meta),
		t.CreatedAt, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	for _, st := range t.Steps {
		if err := mysqlUpsertStepTx(ctx, tx, st); err != nil {
			return err
		}
	}
	return nil
}

func mysqlUpsertStepTx(ctx context.Context, tx *sql.Tx, st *workflow.Step) error {
	input, _ := json.Marshal(st.InputData)
	output, _ := json.Marshal(st.OutputData)
	meta, _ := json.Marshal(st.Metadata)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO steps (id, task_id, title, description, step_type, status, agent_name, priority, input_data, output_data, error_message, retry_count, max_retries, quality_assessment, metadata, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			title=VALUES(title), description=VALUES(description), step_type=VALUES(step_type),
			status=VALUES(status), agent_name=VALUES(agent_name), priority=VALUES(priority),
			input_data=VALUES(input_data), output_data=VALUES(output_data),
			error_message=VALUES(error_message), retry_count=VALUES(retry_count),
			max_retries=VALUES(max_retries), quality_assessment=VALUES(quality_assessment),
			metadata=VALUES(metadata), started_at=VALUES(started_at), completed_at=VALUES(completed_at)
	`, st.StepID, st.TaskID, st.Title, st.Description, st.StepType, st.Status, st.AgentName, st.Priority,
		string(input), string(output), st.ErrorMessage, st.RetryCount, st.MaxRetries, st.QualityAssessment,
		string(meta), st.StartedAt, st.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetObjective(ctx context.Context, objectiveID string) (*workflow.Objective, error) {
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

func (s *MySQLStore) tasksForObjective(ctx context.Context, objectiveID string) ([]*workflow.Task, error) {
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

func (s *MySQLStore) stepsForTask(ctx context.Context, taskID string) ([]*workflow.Step, error) {
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

func (s *MySQLStore) ListObjectives(ctx context.Context, userID string, limit, offset int) ([]*workflow.Objective, error) {
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

func (s *MySQLStore) UpsertTask(ctx context.Context, task *workflow.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := mysqlUpsertTaskTx(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *MySQLStore) GetTask(ctx context.Context, taskID string) (*workflow.Task, error) {
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

func (s *MySQLStore) UpsertStep(ctx context.Context, step *workflow.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := mysqlUpsertStepTx(ctx, tx, step); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *MySQLStore) GetStep(ctx context.Context, stepID string) (*workflow.Step, error) {
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

func (s *MySQLStore) UpsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, objective_id, workflow_type, status, current_node, is_paused, serialized_state, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			workflow_type=VALUES(workflow_type), status=VALUES(status), current_node=VALUES(current_node),
			is_paused=VALUES(is_paused), serialized_state=VALUES(serialized_state),
			started_at=VALUES(started_at), completed_at=VALUES(completed_at)
	`, wf.WorkflowID, wf.ObjectiveID, wf.WorkflowType, wf.Status, wf.CurrentNode, wf.IsPaused,
		wf.SerializedState, wf.CreatedAt, wf.StartedAt, wf.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetWorkflowByObjective(ctx context.Context, objectiveID string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, objective_id, workflow_type, status, current_node, is_paused, serialized_state, created_at, started_at, completed_at FROM workflows WHERE objective_id=?`, objectiveID)
	wf := &workflow.Workflow{}
	if err := row.Scan(&wf.WorkflowID, &wf.ObjectiveID, &wf.WorkflowType, &wf.Status, &wf.CurrentNode, &wf.IsPaused,
		&wf.SerializedState, &wf.CreatedAt, &wf.StartedAt, &wf.CompletedAt); err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *MySQLStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, objective_id, workflow_type, status, current_node, is_paused, serialized_state, created_at, started_at, completed_at FROM workflows WHERE id=?`, workflowID)
	wf := &workflow.Workflow{}
	if err := row.Scan(&wf.WorkflowID, &wf.ObjectiveID, &wf.WorkflowType, &wf.Status, &wf.CurrentNode, &wf.IsPaused,
		&wf.SerializedState, &wf.CreatedAt, &wf.StartedAt, &wf.CompletedAt); err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *MySQLStore) SaveCheckpoint(ctx context.Context, cp *workflow.WorkflowCheckpoint) error {
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

func (s *MySQLStore) LatestCheckpoint(ctx context.Context, workflowID string) (*workflow.WorkflowCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, workflow_id, node_name, state, created_at FROM workflow_checkpoints WHERE workflow_id=? ORDER BY created_at DESC LIMIT 1`, workflowID)
	cp := &workflow.WorkflowCheckpoint{}
	if err := row.Scan(&cp.CheckpointID, &cp.WorkflowID, &cp.NodeName, &cp.State, &cp.CreatedAt); err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *MySQLStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*workflow.WorkflowCheckpoint, error) {
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

func (s *MySQLStore) Close() error { return s.db.Close() }
