package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/researchflow/orchestrator/graph/emit"
	"github.com/researchflow/orchestrator/internal/resource"
	"github.com/researchflow/orchestrator/internal/stream"
	"github.com/researchflow/orchestrator/internal/werrors"
	"github.com/researchflow/orchestrator/internal/workflow"
)

// writeJSON encodes v as the response body, matching the corpus's plain
// json.NewEncoder(w).Encode convention (no response-rendering library).
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeWorkflowErr maps a *werrors.WorkflowError onto an HTTP status:
// Validation as 400, NotFound as 404, every other kind as 500. A bare
// error (the form in which the store layer reports a missing entity) is
// written as 404.
func writeWorkflowErr(w http.ResponseWriter, err error) {
	we, ok := werrors.AsWorkflowError(err)
	if !ok {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	switch we.Kind {
	case werrors.KindValidation:
		writeError(w, http.StatusBadRequest, we.Error())
	case werrors.KindNotFound:
		writeError(w, http.StatusNotFound, we.Error())
	default:
		writeError(w, http.StatusInternalServerError, we.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- multiagent streaming ---------------------------------------------

type streamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamRequest struct {
	Messages          []streamMessage        `json:"messages"`
	ThreadID          string                  `json:"thread_id"`
	Locale            string                  `json:"locale"`
	MaxSteps          int                     `json:"max_steps"`
	AutoExecute       bool                    `json:"auto_execute"`
	InterruptFeedback string                  `json:"interrupt_feedback"`
	AdditionalContext map[string]interface{}  `json:"additional_context"`
}

func (req streamRequest) lastUserQuery() string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// handleMultiAgentStream is the single long-lived entry point (§6): it
// seeds a fresh Objective, picks a graph variant, and hands the request
// off to a stream.Controller that drives the engine and frames every
// event as SSE until the run reaches a terminal node or the client goes
// away.
func (s *Server) handleMultiAgentStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	query := req.lastUserQuery()
	if query == "" {
		writeError(w, http.StatusBadRequest, "messages must contain at least one user message")
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	now := time.Now()
	obj := &workflow.Objective{
		ObjectiveID: uuid.NewString(),
		Title:       query,
		Description: query,
		Query:       query,
		Status:      workflow.ObjectiveCreated,
		Priority:    5,
		Metadata:    req.AdditionalContext,
		CreatedAt:   now,
		StartedAt:   &now,
	}
	if err := s.Store.UpsertObjective(r.Context(), obj); err != nil {
		writeError(w, http.StatusInternalServerError, "persist objective: "+err.Error())
		return
	}

	wfType := workflow.SelectWorkflowType(obj)
	wf := &workflow.Workflow{
		WorkflowID:   uuid.NewString(),
		ObjectiveID:  obj.ObjectiveID,
		WorkflowType: wfType,
		Status:       workflow.ObjectiveCreated,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	if err := s.Store.UpsertWorkflow(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "persist workflow: "+err.Error())
		return
	}

	initial := workflow.NewResearchState(obj)
	initial.WorkflowMetadata["thread_id"] = req.ThreadID
	initial.WorkflowMetadata["locale"] = req.Locale
	initial.WorkflowMetadata["workflow_id"] = wf.WorkflowID
	if req.InterruptFeedback != "" {
		initial.WorkflowMetadata["interrupt_feedback"] = req.InterruptFeedback
	}

	maxSteps := req.MaxSteps

	controller := &stream.Controller{
		BuildEngine: func(emitter emit.Emitter) (workflow.Runner, error) {
			deps := s.Deps
			deps.Emitter = emitter
			if maxSteps > 0 {
				deps.MaxSteps = maxSteps
			}
			return workflow.Build(wfType, deps)
		},
	}

	if err := controller.Run(w, r, wf.WorkflowID, initial); err != nil {
		// Controller has already written what it could to the wire; there
		// is nothing left to report to the client over a fresh response.
		return
	}
}

// --- objectives ----------------------------------------------------------

type createObjectiveRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Query       string                 `json:"query"`
	Priority    int                    `json:"priority"`
	UserID      string                 `json:"user_id"`
	Tags        []string               `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *Server) handleCreateObjective(w http.ResponseWriter, r *http.Request) {
	var req createObjectiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title == "" && req.Query == "" {
		writeError(w, http.StatusBadRequest, "title or query is required")
		return
	}
	now := time.Now()
	obj := &workflow.Objective{
		ObjectiveID: uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Query:       req.Query,
		Status:      workflow.ObjectiveCreated,
		Priority:    req.Priority,
		UserID:      req.UserID,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		CreatedAt:   now,
	}
	if obj.Title == "" {
		obj.Title = obj.Query
	}
	if err := s.Store.UpsertObjective(r.Context(), obj); err != nil {
		writeError(w, http.StatusInternalServerError, "persist objective: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

// objectiveProgress is the aggregated view §6 promises alongside an
// objective: task counts by status, plus a percent-done figure derived
// from completed/total tasks. The stream controller's weighted
// node-progress formula needs a live run's visited-node list, which this
// read-only endpoint does not have; task completion ratio is the closest
// static proxy.
type objectiveProgress struct {
	*workflow.Objective
	TaskCounts map[workflow.TaskStatus]int `json:"task_counts"`
	PercentDone int                        `json:"percent_done"`
}

func (s *Server) handleGetObjective(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obj, err := s.Store.GetObjective(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	counts := map[workflow.TaskStatus]int{}
	completed := 0
	for _, t := range obj.Tasks {
		counts[t.Status]++
		if t.Status == workflow.TaskCompleted {
			completed++
		}
	}
	pct := 0
	if len(obj.Tasks) > 0 {
		pct = completed * 100 / len(obj.Tasks)
	}
	writeJSON(w, http.StatusOK, objectiveProgress{Objective: obj, TaskCounts: counts, PercentDone: pct})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obj, err := s.Store.GetObjective(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, obj.Tasks)
}

// handleCancelObjective marks the objective and every one of its
// non-terminal tasks CANCELLED (§3, scenario 4 of §8), and the objective's
// workflow (if any) likewise, so a later stream re-attach sees a closed run.
func (s *Server) handleCancelObjective(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obj, err := s.Store.GetObjective(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if obj.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, obj)
		return
	}
	now := time.Now()
	obj.Status = workflow.ObjectiveCancelled
	obj.CompletedAt = &now
	for _, t := range obj.Tasks {
		if !t.Status.IsTerminal() {
			t.Status = workflow.TaskCancelled
			t.CompletedAt = &now
		}
		for _, st := range t.Steps {
			if !st.Status.IsTerminal() {
				st.Status = workflow.StepCancelled
				st.CompletedAt = &now
			}
		}
	}
	if err := s.Store.UpsertObjective(r.Context(), obj); err != nil {
		writeError(w, http.StatusInternalServerError, "persist cancellation: "+err.Error())
		return
	}
	if wf, err := s.Store.GetWorkflowByObjective(r.Context(), id); err == nil {
		wf.Status = workflow.ObjectiveCancelled
		wf.CompletedAt = &now
		_ = s.Store.UpsertWorkflow(r.Context(), wf)
	}
	writeJSON(w, http.StatusOK, obj)
}

// --- tasks / steps ---------------------------------------------------------

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task.Steps)
}

func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	step, err := s.Store.GetStep(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, step)
}

// handleGetStepResult returns a completed step's output, or 409 if the
// step has not reached a terminal success state yet.
func (s *Server) handleGetStepResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	step, err := s.Store.GetStep(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if step.Status != workflow.StepCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("step %s is not completed (status=%s)", id, step.Status))
		return
	}
	writeJSON(w, http.StatusOK, step.OutputData)
}

// --- workflows / checkpoints ------------------------------------------

func (s *Server) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.Store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := chi.URLParam(r, "id")
	wf, err := s.Store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	wf.IsPaused = paused
	if err := s.Store.UpsertWorkflow(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "persist workflow: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowPause(w http.ResponseWriter, r *http.Request)  { s.setPaused(w, r, true) }
func (s *Server) handleWorkflowResume(w http.ResponseWriter, r *http.Request) { s.setPaused(w, r, false) }

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cps, err := s.Store.ListCheckpoints(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

// handleRestoreCheckpoint starts a *new* workflow row seeded from a
// checkpoint's serialized state id, per §6 — the actual resumed graph
// run is driven the next time the client opens
// /api/v1/multiagent/stream with a thread_id the stream handler
// recognizes; this endpoint only performs the bookkeeping half (new
// Workflow row, unpause, pointed at the checkpoint's node) since
// resuming an engine run requires a live SSE connection to stream into.
func (s *Server) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Checkpoints are looked up by workflow_id in the store; the route
	// param here is a checkpoint_id, so scan the checkpoint's own workflow
	// once we know it. Since checkpoints carry no direct by-id lookup,
	// fall back to treating id as a workflow_id and taking its latest
	// checkpoint — the common single-checkpoint-per-workflow case.
	cp, err := s.Store.LatestCheckpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no checkpoint found for "+id)
		return
	}
	oldWF, err := s.Store.GetWorkflow(r.Context(), cp.WorkflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	now := time.Now()
	newWF := &workflow.Workflow{
		WorkflowID:      uuid.NewString(),
		ObjectiveID:     oldWF.ObjectiveID,
		WorkflowType:    oldWF.WorkflowType,
		Status:          workflow.ObjectiveExecuting,
		CurrentNode:     cp.NodeName,
		IsPaused:        false,
		SerializedState: cp.State,
		CreatedAt:       now,
		StartedAt:       &now,
	}
	if err := s.Store.UpsertWorkflow(r.Context(), newWF); err != nil {
		writeError(w, http.StatusInternalServerError, "persist restored workflow: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newWF)
}

// --- scheduler introspection --------------------------------------------

type poolStatusView struct {
	Kind           resource.Kind `json:"kind"`
	MaxConcurrent  int           `json:"max_concurrent"`
	InUse          int           `json:"in_use"`
	RateLimit      int           `json:"rate_limit"`
	UtilizationPct float64       `json:"utilization_pct"`
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.Res.Status()
	out := make(map[string]poolStatusView, len(statuses))
	for kind, st := range statuses {
		out[string(kind)] = poolStatusView{
			Kind:           st.Kind,
			MaxConcurrent:  st.MaxConcurrent,
			InUse:          st.InUse,
			RateLimit:      st.RateLimit,
			UtilizationPct: st.UtilizationPct,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": out})
}

func (s *Server) handleSchedulerResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Res.Status())
}

type scheduleStepsRequest struct {
	StepIDs  []string `json:"step_ids"`
	Priority int      `json:"priority"`
}

// handleScheduleSteps re-readies a set of steps named by id, the manual
// admission path §6 provides alongside the scheduler's own periodic
// reaping loop.
func (s *Server) handleScheduleSteps(w http.ResponseWriter, r *http.Request) {
	var req scheduleStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	scheduled := make([]*workflow.Step, 0, len(req.StepIDs))
	for _, id := range req.StepIDs {
		step, err := s.Store.GetStep(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "step not found: "+id)
			return
		}
		if step.Status.IsTerminal() {
			continue
		}
		if req.Priority > 0 {
			step.Priority = req.Priority
		}
		step.Status = workflow.StepReady
		if err := s.Store.UpsertStep(r.Context(), step); err != nil {
			writeError(w, http.StatusInternalServerError, "persist step: "+err.Error())
			return
		}
		scheduled = append(scheduled, step)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scheduled": scheduled})
}
