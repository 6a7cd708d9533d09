package services

import (
	"context"
	"fmt"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/flow"
	"github.com/callwise/callflow/pkg/interpreter"
	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

// ExecutionService starts, resumes, and inspects executions. It resolves the
// published version at start time; the execution stays pinned to that version
// for its whole life even if the flow is republished meanwhile.
type ExecutionService struct {
	persistence persistence.Persistence
	interpreter *interpreter.Interpreter
}

func NewExecutionService(p persistence.Persistence, i *interpreter.Interpreter) *ExecutionService {
	return &ExecutionService{
		persistence: p,
		interpreter: i,
	}
}

// StartExecutionRequest binds an inbound call to a flow group.
type StartExecutionRequest struct {
	FlowID string
	Call   models.CallContext
}

// StartExecution resolves the group's published version and runs the call
// through it.
func (s *ExecutionService) StartExecution(ctx context.Context, req StartExecutionRequest) (*models.Execution, error) {
	if req.Call.CallID == "" {
		return nil, ErrCallIDRequired
	}

	doc, err := s.persistence.FlowRepository().GetPublished(ctx, req.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve published version: %w", err)
	}

	if doc == nil {
		return nil, &ServiceError{Op: "StartExecution", Err: ErrNoPublishedVersion}
	}

	return s.interpreter.Start(ctx, doc, req.Call, false)
}

// ResumeExecution delivers an external event to a suspended execution.
func (s *ExecutionService) ResumeExecution(ctx context.Context, executionID string, event map[string]any) (*models.Execution, error) {
	if len(event) == 0 {
		return nil, ErrEventRequired
	}

	return s.interpreter.Resume(ctx, executionID, event)
}

// AbandonExecution finalizes a suspended execution that will never resume.
func (s *ExecutionService) AbandonExecution(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	if reason == "" {
		reason = "abandoned"
	}

	return s.interpreter.Abandon(ctx, executionID, reason)
}

// GetExecution retrieves an execution by id.
func (s *ExecutionService) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return s.persistence.ExecutionRepository().GetExecution(ctx, executionID)
}

// GetExecutionSteps retrieves the ordered step history of an execution.
func (s *ExecutionService) GetExecutionSteps(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	// Surface a 404 for unknown executions instead of an empty history.
	if _, err := s.persistence.ExecutionRepository().GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().StepsByExecution(ctx, executionID)
}

// SimulateRequest dry-runs a document version against a scripted call.
type SimulateRequest struct {
	// DocumentID selects an explicit version; when empty, FlowID's published
	// version is used. Drafts may be simulated by DocumentID.
	DocumentID string
	FlowID     string
	Call       models.CallContext
	Script     dispatcher.SimulationScript
}

// Simulate validates the document, then runs it through the interpreter with
// the mock dispatcher. Documents that fail validation are not simulated.
func (s *ExecutionService) Simulate(ctx context.Context, req SimulateRequest) (*models.SimulationResult, error) {
	if req.Call.CallID == "" {
		return nil, ErrCallIDRequired
	}

	var (
		doc *models.FlowDocument
		err error
	)

	if req.DocumentID != "" {
		doc, err = s.persistence.FlowRepository().GetByID(ctx, req.DocumentID)
	} else {
		doc, err = s.persistence.FlowRepository().GetPublished(ctx, req.FlowID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve document for simulation: %w", err)
	}

	if doc == nil {
		return nil, &ServiceError{Op: "Simulate", Err: ErrFlowNotFound}
	}

	if result := flow.Validate(doc); !result.Valid() {
		return nil, &ServiceError{
			Op:      "Simulate",
			Message: fmt.Sprintf("document has %d validation errors", result.Summary.ErrorCount),
			Err:     ErrValidationFailed,
		}
	}

	return s.interpreter.Simulate(ctx, doc, req.Call, req.Script)
}
