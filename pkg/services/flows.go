package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/callwise/callflow/pkg/flow"
	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

// FlowService owns the authoring lifecycle of flow documents: drafts are
// created and edited here, then handed to the publishing service.
type FlowService struct {
	persistence persistence.Persistence
	publisher   *flow.PublishingService
	validate    *validator.Validate
}

func NewFlowService(p persistence.Persistence, publisher *flow.PublishingService) *FlowService {
	return &FlowService{
		persistence: p,
		publisher:   publisher,
		validate:    validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *FlowService) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateFlowRequest carries a new draft document.
type CreateFlowRequest struct {
	Name        string         `validate:"required,min=3"`
	Description string
	Timezone    string
	Owner       string
	Nodes       []*models.Node
	Edges       []*models.Edge
}

// CreateFlow creates version 1 of a new flow group as a draft.
func (s *FlowService) CreateFlow(ctx context.Context, req CreateFlowRequest) (*models.FlowDocument, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFlowNameRequired, err)
	}

	if len(req.Nodes) == 0 {
		return nil, ErrNodesRequired
	}

	now := time.Now().UTC()
	doc := &models.FlowDocument{
		ID:          uuid.New().String(),
		FlowID:      uuid.New().String(),
		Version:     1,
		Status:      models.FlowStatusDraft,
		Name:        req.Name,
		Description: req.Description,
		Timezone:    req.Timezone,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Owner:       req.Owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.persistence.FlowRepository().Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	return doc, nil
}

// GetFlow retrieves a document version by id.
func (s *FlowService) GetFlow(ctx context.Context, id string) (*models.FlowDocument, error) {
	doc, err := s.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	if doc == nil {
		return nil, &ServiceError{Op: "GetFlow", Err: ErrFlowNotFound}
	}

	return doc, nil
}

// ListFlowsRequest filters and paginates flow listings.
type ListFlowsRequest struct {
	Limit  int
	Offset int
	FlowID string
	Owner  string
	Status *models.FlowStatus
}

// ListFlows retrieves document versions with filtering and pagination.
func (s *FlowService) ListFlows(ctx context.Context, req ListFlowsRequest) (*persistence.FlowListResult, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	result, err := s.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		Limit:  req.Limit,
		Offset: req.Offset,
		FlowID: req.FlowID,
		Owner:  req.Owner,
		Status: req.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return result, nil
}

// UpdateFlowRequest carries replacement content for a draft.
type UpdateFlowRequest struct {
	Name        string `validate:"omitempty,min=3"`
	Description *string
	Timezone    *string
	Nodes       []*models.Node
	Edges       []*models.Edge
}

// UpdateFlow replaces the content of a draft version. Published and archived
// versions are immutable.
func (s *FlowService) UpdateFlow(ctx context.Context, id string, req UpdateFlowRequest) (*models.FlowDocument, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	doc, err := s.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}

	if doc.Status != models.FlowStatusDraft {
		return nil, &ServiceError{Op: "UpdateFlow", Err: ErrCannotModifyPublished}
	}

	if req.Name != "" {
		doc.Name = req.Name
	}

	if req.Description != nil {
		doc.Description = *req.Description
	}

	if req.Timezone != nil {
		doc.Timezone = *req.Timezone
	}

	if req.Nodes != nil {
		doc.Nodes = req.Nodes
	}

	if req.Edges != nil {
		doc.Edges = req.Edges
	}

	doc.UpdatedAt = time.Now().UTC()

	if err := s.persistence.FlowRepository().Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update flow: %w", err)
	}

	return doc, nil
}

// DeleteFlow removes a draft or archived version. Published versions cannot
// be deleted while active.
func (s *FlowService) DeleteFlow(ctx context.Context, id string) error {
	doc, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}

	if doc.Status == models.FlowStatusPublished {
		return &ServiceError{Op: "DeleteFlow", Err: ErrCannotModifyPublished}
	}

	if err := s.persistence.FlowRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	return nil
}

// ValidateFlow runs static validation on a document version without
// publishing it.
func (s *FlowService) ValidateFlow(ctx context.Context, id string) (*models.ValidationResult, error) {
	doc, err := s.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}

	return flow.Validate(doc), nil
}

// PublishFlow promotes a draft to the published version of its flow group.
func (s *FlowService) PublishFlow(ctx context.Context, id string) (*models.FlowDocument, *models.ValidationResult, error) {
	return s.publisher.Publish(ctx, id)
}

// CreateDraft creates a new editable draft from a group's published version.
func (s *FlowService) CreateDraft(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	return s.publisher.NewDraftFromPublished(ctx, flowID)
}

// GetActiveVersion resolves the published version of a flow group.
func (s *FlowService) GetActiveVersion(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	doc, err := s.persistence.FlowRepository().GetPublished(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active version: %w", err)
	}

	if doc == nil {
		return nil, &ServiceError{Op: "GetActiveVersion", Err: ErrNoPublishedVersion}
	}

	return doc, nil
}
