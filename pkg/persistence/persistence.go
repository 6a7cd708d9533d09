// Package persistence provides the storage abstraction for flow documents,
// executions, and execution steps.
package persistence

import (
	"context"
	"time"

	"github.com/callwise/callflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListFlowsOptions filters and paginates flow document listings.
type ListFlowsOptions struct {
	Limit  int
	Offset int
	FlowID string
	Owner  string
	Status *models.FlowStatus
}

// FlowListResult is one page of flow documents.
type FlowListResult struct {
	Documents   []*models.FlowDocument
	TotalCount  int64
	HasNextPage bool
}

// FlowRepository stores immutable flow document versions. GetByID returns
// (nil, nil) when the document does not exist.
type FlowRepository interface {
	Save(ctx context.Context, doc *models.FlowDocument) error
	GetByID(ctx context.Context, id string) (*models.FlowDocument, error)
	List(ctx context.Context, opts ListFlowsOptions) (*FlowListResult, error)
	Delete(ctx context.Context, id string) error

	// GetPublished and GetDraft resolve the current published / latest draft
	// version of a flow group; both return (nil, nil) when absent.
	GetPublished(ctx context.Context, flowID string) (*models.FlowDocument, error)
	GetDraft(ctx context.Context, flowID string) (*models.FlowDocument, error)

	// MaxVersion returns the highest version number recorded for the flow
	// group, 0 when the group has no versions yet.
	MaxVersion(ctx context.Context, flowID string) (int, error)
}

// ExecutionRepository is the execution recorder: executions and their steps
// must be durable before the interpreter advances (write-ahead discipline).
// Steps are write-once per (execution, seq); RecordStep may reseal the same
// step exactly once to move it from running to a final status.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	RecordStep(ctx context.Context, step *models.ExecutionStep) error
	StepsByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error)

	// ListSuspendedBefore returns executions suspended earlier than the
	// cutoff, for the abandonment reaper.
	ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Execution, error)
}
