// Package workflow implements the research graph: the typed State, the
// Objective/Task/Step entity model, and the node handlers that drive a
// research query from a raw string to a synthesized report.
//
// The shape follows examples/multi-llm-review/workflow in the parent
// module: a Reducer merges node deltas, nodes route purely through
// graph.NodeResult.Route, and the graph is assembled with engine.Add /
// engine.StartAt rather than a dense static edge table.
package workflow

import "time"

// ObjectiveStatus is the lifecycle of a top-level user query.
type ObjectiveStatus string

const (
	ObjectiveCreated      ObjectiveStatus = "CREATED"
	ObjectiveAnalyzing    ObjectiveStatus = "ANALYZING"
	ObjectiveDecomposing  ObjectiveStatus = "DECOMPOSING"
	ObjectivePlanning     ObjectiveStatus = "PLANNING"
	ObjectiveExecuting    ObjectiveStatus = "EXECUTING"
	ObjectiveSynthesizing ObjectiveStatus = "SYNTHESIZING"
	ObjectiveCompleted    ObjectiveStatus = "COMPLETED"
	ObjectiveFailed       ObjectiveStatus = "FAILED"
	ObjectiveCancelled    ObjectiveStatus = "CANCELLED"
	ObjectivePaused       ObjectiveStatus = "PAUSED"
)

// IsTerminal reports whether no further node may advance this objective.
func (s ObjectiveStatus) IsTerminal() bool {
	return s == ObjectiveCompleted || s == ObjectiveFailed || s == ObjectiveCancelled
}

// TaskType selects which execution node (research vs processing) owns a task.
type TaskType string

const (
	TaskResearch      TaskType = "RESEARCH"
	TaskAnalysis      TaskType = "ANALYSIS"
	TaskDevelopment   TaskType = "DEVELOPMENT"
	TaskIntegration   TaskType = "INTEGRATION"
	TaskTesting       TaskType = "TESTING"
	TaskDocumentation TaskType = "DOCUMENTATION"
	TaskEvaluation    TaskType = "EVALUATION"
	TaskOther         TaskType = "OTHER"
)

// UsesResearchNode reports whether tasks of this type are routed to the
// research node (true) or the processing node (false). Per SPEC_FULL.md
// §4.2: RESEARCH/TESTING -> research; everything else -> processing.
func (t TaskType) UsesResearchNode() bool {
	return t == TaskResearch || t == TaskTesting
}

// TaskStatus is the lifecycle of one decomposed unit of work.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskReady     TaskStatus = "READY"
	TaskScheduled TaskStatus = "SCHEDULED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskPaused    TaskStatus = "PAUSED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskBlocked   TaskStatus = "BLOCKED"
)

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle of the smallest executable unit.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepReady     StepStatus = "READY"
	StepRunning   StepStatus = "RUNNING"
	StepPaused    StepStatus = "PAUSED"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepCancelled StepStatus = "CANCELLED"
	StepSkipped   StepStatus = "SKIPPED"
)

func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepSkipped, StepFailed, StepCancelled:
		return true
	default:
		return false
	}
}

// QualityLevel is one of five discrete verdicts gating step/task progression.
type QualityLevel string

const (
	QualityExcellent         QualityLevel = "EXCELLENT"
	QualityGood              QualityLevel = "GOOD"
	QualityAcceptable        QualityLevel = "ACCEPTABLE"
	QualityNeedsImprovement  QualityLevel = "NEEDS_IMPROVEMENT"
	QualityPoor              QualityLevel = "POOR"
)

// Route collapses a QualityLevel into the three-way router label used by
// quality_evaluator (SPEC_FULL.md §4.2, Open Questions resolution).
func (q QualityLevel) Route() string {
	switch q {
	case QualityExcellent, QualityGood, QualityAcceptable:
		return "pass"
	case QualityNeedsImprovement:
		return "improve"
	case QualityPoor:
		return "fail"
	default:
		return "fail"
	}
}

// Objective is the top-level user intent.
type Objective struct {
	ObjectiveID   string
	Title         string
	Description   string
	Query         string
	Status        ObjectiveStatus
	Priority      int
	UserID        string
	Tags          []string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ResultSummary string
	ErrorMessage  string

	Tasks []*Task
}

// TaskByID returns the task with the given id, or nil.
func (o *Objective) TaskByID(id string) *Task {
	for _, t := range o.Tasks {
		if t.TaskID == id {
			return t
		}
	}
	return nil
}

// Task is one unit of work owned by exactly one Objective.
type Task struct {
	TaskID             string
	ObjectiveID        string
	Title              string
	Description        string
	TaskType           TaskType
	Status             TaskStatus
	Priority           int
	DependsOn          []string
	Dependents         []string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ResultSummary      string
	QualityAssessment  QualityLevel
	Metadata           map[string]interface{}

	Steps []*Step
}

// StepByID returns the step with the given id, or nil.
func (t *Task) StepByID(id string) *Step {
	for _, s := range t.Steps {
		if s.StepID == id {
			return s
		}
	}
	return nil
}

// DependsSatisfied reports whether every dependency in depends_on is
// COMPLETED, the defining condition for READY (SPEC_FULL.md §3 invariant).
func (t *Task) DependsSatisfied(byID map[string]*Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := byID[dep]
		if !ok || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// AllStepsTerminal reports whether every step of the task is in a terminal
// status (COMPLETED, SKIPPED, FAILED or CANCELLED; see StepStatus.IsTerminal).
func (t *Task) AllStepsTerminal() bool {
	for _, s := range t.Steps {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// FirstPendingStep returns the earliest step still PENDING, in insertion order.
func (t *Task) FirstPendingStep() *Step {
	for _, s := range t.Steps {
		if s.Status == StepPending {
			return s
		}
	}
	return nil
}

// Step is an executable sub-unit of one Task.
type Step struct {
	StepID            string
	TaskID            string
	Title             string
	Description       string
	StepType          string
	Status            StepStatus
	AgentName         string
	Priority          int
	InputData         map[string]interface{}
	OutputData        map[string]interface{}
	ErrorMessage      string
	RetryCount        int
	MaxRetries        int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	QualityAssessment QualityLevel
	Metadata          map[string]interface{}
}

// WorkflowType is one of the four canonical graph shapes (SPEC_FULL.md §4.3).
type WorkflowType string

const (
	WorkflowResearch   WorkflowType = "research"
	WorkflowAnalysis   WorkflowType = "analysis"
	WorkflowExecutor   WorkflowType = "executor"
	WorkflowMultiAgent WorkflowType = "multiagent"
)

// Workflow is a run of the graph over one Objective.
type Workflow struct {
	WorkflowID      string
	ObjectiveID     string
	WorkflowType    WorkflowType
	Status          ObjectiveStatus
	CurrentNode     string
	IsPaused        bool
	SerializedState []byte
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// WorkflowCheckpoint is an append-only snapshot of serialized_state taken at
// a named node.
type WorkflowCheckpoint struct {
	CheckpointID string
	WorkflowID   string
	NodeName     string
	State        []byte
	CreatedAt    time.Time
}

// ContextAnalysis is the output of context_analyzer, kept as one canonical
// shape per SPEC_FULL.md §9's resolution of the dual-schema open question.
type ContextAnalysis struct {
	Domain            string   `json:"domain"`
	SecondaryDomains  []string `json:"secondary_domains"`
	KeyConcepts       []string `json:"key_concepts"`
	GoalType          string   `json:"goal_type"`
	Region            string   `json:"region"`
	TimeConstraints   string   `json:"time_constraints"`
	Language          string   `json:"language"`
	Complexity        int      `json:"complexity"` // 1..5
	InformationNeeds  []string `json:"information_needs"`
}

// QualityAssessment is the structured output of quality_evaluator.
type QualityAssessment struct {
	Score                  float64      `json:"score"` // 0..10
	QualityLevel           QualityLevel `json:"quality_level"`
	Feedback               string       `json:"feedback"`
	ImprovementSuggestions []string     `json:"improvement_suggestions"`
}
