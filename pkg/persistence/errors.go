// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow document was not found by id.
	ErrFlowNotFound = errors.New("flow document not found")

	// ErrPublishedFlowNotFound indicates a flow group has no published version.
	ErrPublishedFlowNotFound = errors.New("published flow version not found")

	// ErrDraftFlowNotFound indicates a flow group has no draft version.
	ErrDraftFlowNotFound = errors.New("draft flow version not found")

	// ErrExecutionNotFound indicates an execution was not found by id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepSealed indicates an attempt to rewrite a step that already
	// reached a final status; steps are write-once.
	ErrStepSealed = errors.New("execution step already sealed")

	// ErrPublishedImmutable indicates an attempt to overwrite a published
	// flow document version.
	ErrPublishedImmutable = errors.New("published flow version is immutable")
)

// FlowError wraps flow-document storage errors with operation context.
type FlowError struct {
	Op         string // Operation being performed ("GetByID", "Save", ...)
	DocumentID string
	FlowID     string
	Err        error
}

func (e *FlowError) Error() string {
	target := e.DocumentID
	if e.FlowID != "" {
		target = fmt.Sprintf("group %s", e.FlowID)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, target, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a flow storage error for a document-level operation.
func NewFlowError(op, documentID string, err error) *FlowError {
	return &FlowError{Op: op, DocumentID: documentID, Err: err}
}

// NewFlowGroupError creates a flow storage error for a group-level operation.
func NewFlowGroupError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// ExecutionError wraps execution recorder errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates an execution recorder error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsFlowNotFound checks if an error indicates a missing flow document.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsPublishedFlowNotFound checks if an error indicates a missing published version.
func IsPublishedFlowNotFound(err error) bool {
	return errors.Is(err, ErrPublishedFlowNotFound)
}

// IsDraftFlowNotFound checks if an error indicates a missing draft version.
func IsDraftFlowNotFound(err error) bool {
	return errors.Is(err, ErrDraftFlowNotFound)
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
