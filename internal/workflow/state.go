package workflow

import "github.com/researchflow/orchestrator/internal/werrors"

// Message is one entry in the state's ordered message log.
type Message struct {
	Role    string
	Content string
	NodeID  string
}

// IntermediateData is the typed cross-node blackboard. SPEC_FULL.md §9 calls
// for a typed map with declared keys in place of the source's
// dict[str, Any]; unknown keys simply have no field here.
type IntermediateData struct {
	ContextAnalysis         *ContextAnalysis
	SynthesisResult         string
	TaskDependenciesByTitle map[string][]string
	TaskAnalysisHistory     map[string][]string // task_id -> prior attempt summaries
	ErrorHistory            []string
}

// ResearchState is the runtime value the graph engine drives forward one
// node at a time (SPEC_FULL.md §3 "Runtime state"). The engine is the sole
// writer; node handlers receive it, mutate the Objective graph in place
// (safe because node execution within one workflow is strictly sequential,
// §5), and return the same pointer as part of their NodeResult.Delta.
type ResearchState struct {
	WorkflowMetadata map[string]interface{}
	Objective        *Objective

	CurrentTaskID    string
	CurrentStepID    string
	clearCurrentTask bool
	clearCurrentStep bool

	Messages         []Message
	IntermediateData IntermediateData

	Error      *werrors.WorkflowError
	clearError bool

	VisitedNodes []string

	// AllocatedResources maps a resource kind ("llm", "database", "worker",
	// or "api:<name>") to the handle currently held by the node in flight,
	// so a deferred release always has something to look up even if the
	// node fails mid-call.
	AllocatedResources map[string]string
}

// NewResearchState seeds a fresh state for a newly created Objective.
func NewResearchState(obj *Objective) ResearchState {
	return ResearchState{
		WorkflowMetadata: map[string]interface{}{},
		Objective:        obj,
		IntermediateData: IntermediateData{
			TaskDependenciesByTitle: map[string][]string{},
			TaskAnalysisHistory:     map[string][]string{},
		},
		AllocatedResources: map[string]string{},
	}
}

// CurrentTask resolves CurrentTaskID against the objective's task list.
func (s ResearchState) CurrentTask() *Task {
	if s.Objective == nil || s.CurrentTaskID == "" {
		return nil
	}
	return s.Objective.TaskByID(s.CurrentTaskID)
}

// CurrentStep resolves CurrentStepID within CurrentTask.
func (s ResearchState) CurrentStep() *Step {
	t := s.CurrentTask()
	if t == nil || s.CurrentStepID == "" {
		return nil
	}
	return t.StepByID(s.CurrentStepID)
}

// withTask returns a delta that sets CurrentTaskID.
func withTask(s ResearchState, taskID string) ResearchState {
	s.CurrentTaskID = taskID
	return s
}

// withStep returns a delta that sets CurrentStepID.
func withStep(s ResearchState, stepID string) ResearchState {
	s.CurrentStepID = stepID
	return s
}

// clearTaskAndStep returns a delta that explicitly clears CurrentTaskID/CurrentStepID.
func clearTaskAndStep(s ResearchState) ResearchState {
	s.CurrentTaskID = ""
	s.CurrentStepID = ""
	s.clearCurrentTask = true
	s.clearCurrentStep = true
	return s
}

// withError returns a delta carrying a WorkflowError for error_handler to act on.
func withError(s ResearchState, err *werrors.WorkflowError) ResearchState {
	s.Error = err
	return s
}

// clearErrorState returns a delta that explicitly clears Error.
func clearErrorState(s ResearchState) ResearchState {
	s.Error = nil
	s.clearError = true
	return s
}

// visit starts a node's delta: an otherwise empty state whose VisitedNodes
// holds just nodeID, which ReduceResearchState appends to the history.
func visit(_ ResearchState, nodeID string) ResearchState {
	return ResearchState{VisitedNodes: []string{nodeID}}
}

// ReduceResearchState merges a node's delta into the accumulated state. The
// merge follows the teacher's "merge by presence" convention
// (examples/multi-llm-review/workflow/state.go): a zero-value field means
// "unchanged", with a handful of explicit clear-flags for fields (current
// task/step/error) that legitimately need to be reset to empty.
func ReduceResearchState(prev, delta ResearchState) ResearchState {
	if delta.Objective != nil {
		prev.Objective = delta.Objective
	}
	if delta.WorkflowMetadata != nil {
		if prev.WorkflowMetadata == nil {
			prev.WorkflowMetadata = map[string]interface{}{}
		}
		for k, v := range delta.WorkflowMetadata {
			prev.WorkflowMetadata[k] = v
		}
	}

	switch {
	case delta.clearCurrentTask:
		prev.CurrentTaskID = ""
	case delta.CurrentTaskID != "":
		prev.CurrentTaskID = delta.CurrentTaskID
	}
	switch {
	case delta.clearCurrentStep:
		prev.CurrentStepID = ""
	case delta.CurrentStepID != "":
		prev.CurrentStepID = delta.CurrentStepID
	}

	prev.Messages = append(prev.Messages, delta.Messages...)

	if delta.IntermediateData.ContextAnalysis != nil {
		prev.IntermediateData.ContextAnalysis = delta.IntermediateData.ContextAnalysis
	}
	if delta.IntermediateData.SynthesisResult != "" {
		prev.IntermediateData.SynthesisResult = delta.IntermediateData.SynthesisResult
	}
	if len(delta.IntermediateData.TaskDependenciesByTitle) > 0 {
		if prev.IntermediateData.TaskDependenciesByTitle == nil {
			prev.IntermediateData.TaskDependenciesByTitle = map[string][]string{}
		}
		for k, v := range delta.IntermediateData.TaskDependenciesByTitle {
			prev.IntermediateData.TaskDependenciesByTitle[k] = v
		}
	}
	if len(delta.IntermediateData.TaskAnalysisHistory) > 0 {
		if prev.IntermediateData.TaskAnalysisHistory == nil {
			prev.IntermediateData.TaskAnalysisHistory = map[string][]string{}
		}
		for k, v := range delta.IntermediateData.TaskAnalysisHistory {
			prev.IntermediateData.TaskAnalysisHistory[k] = append(prev.IntermediateData.TaskAnalysisHistory[k], v...)
		}
	}
	prev.IntermediateData.ErrorHistory = append(prev.IntermediateData.ErrorHistory, delta.IntermediateData.ErrorHistory...)

	switch {
	case delta.clearError:
		prev.Error = nil
	case delta.Error != nil:
		prev.Error = delta.Error
	}

	prev.VisitedNodes = append(prev.VisitedNodes, delta.VisitedNodes...)

	if len(delta.AllocatedResources) > 0 {
		if prev.AllocatedResources == nil {
			prev.AllocatedResources = map[string]string{}
		}
		for k, v := range delta.AllocatedResources {
			if v == "" {
				delete(prev.AllocatedResources, k)
			} else {
				prev.AllocatedResources[k] = v
			}
		}
	}

	return prev
}
