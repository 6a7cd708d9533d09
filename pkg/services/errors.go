// Package services provides the business operations behind the HTTP API:
// flow authoring and publishing, and execution control.
package services

import (
	"errors"
	"fmt"

	"github.com/callwise/callflow/pkg/flow"
	"github.com/callwise/callflow/pkg/interpreter"
	"github.com/callwise/callflow/pkg/persistence"
)

// Business logic errors. Validation errors map to 400, conflicts to 409,
// not-found to 404; everything else is a 500.
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrNodesRequired    = errors.New("flow must have at least one node")
	ErrCallIDRequired   = errors.New("call id is required")
	ErrEventRequired    = errors.New("resume event payload is required")

	// Conflicts (409).
	ErrCannotModifyPublished = errors.New("cannot modify a published flow version")
	ErrNotDraft              = flow.ErrNotDraft
	ErrValidationFailed      = flow.ErrValidationFailed
	ErrExecutionNotSuspended = interpreter.ErrExecutionNotSuspended

	// Not found (404).
	ErrFlowNotFound       = persistence.ErrFlowNotFound
	ErrNoPublishedVersion = persistence.ErrPublishedFlowNotFound
	ErrExecutionNotFound  = persistence.ErrExecutionNotFound
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrCallIDRequired) ||
		errors.Is(err, ErrEventRequired)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrNotDraft) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrExecutionNotSuspended)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrNoPublishedVersion) ||
		errors.Is(err, persistence.ErrDraftFlowNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}
