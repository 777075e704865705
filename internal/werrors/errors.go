// Package werrors defines the error taxonomy shared by the workflow graph,
// the resource pools, and the HTTP surface.
package werrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the engine and the
// stream controller must distinguish when deciding how to react.
type Kind string

const (
	KindValidation         Kind = "Validation"
	KindNotFound           Kind = "NotFound"
	KindResourceUnavailable Kind = "ResourceUnavailable"
	KindResourceTimeout    Kind = "ResourceTimeout"
	KindAgent              Kind = "Agent"
	KindDatabase           Kind = "Database"
	KindWorkflowState      Kind = "WorkflowState"
)

// Transient reports whether an error of this kind should be retried by
// error_handler before being escalated.
func (k Kind) Transient() bool {
	switch k {
	case KindResourceUnavailable, KindResourceTimeout, KindAgent, KindDatabase:
		return true
	default:
		return false
	}
}

// WorkflowError is the single error type every node handler returns.
// It carries enough context for error_handler to pick a recovery action
// and for the stream controller to render an `error` SSE event.
type WorkflowError struct {
	Kind    Kind
	Message string
	NodeID  string
	Cause   error
}

func (e *WorkflowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WorkflowError) Unwrap() error { return e.Cause }

// New builds a WorkflowError of the given kind.
func New(kind Kind, nodeID, message string, cause error) *WorkflowError {
	return &WorkflowError{Kind: kind, Message: message, NodeID: nodeID, Cause: cause}
}

// Sentinel errors surfaced by the resource pools; wrapped into a
// WorkflowError by the node that attempted the acquisition.
var (
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrResourceTimeout     = errors.New("resource acquire timed out")
)

// AsWorkflowError unwraps err looking for a *WorkflowError, returning ok=false
// if none is found anywhere in the chain.
func AsWorkflowError(err error) (*WorkflowError, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
