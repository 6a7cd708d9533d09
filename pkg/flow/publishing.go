package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

var (
	// ErrNotDraft indicates a publish attempt on a non-draft version.
	ErrNotDraft = errors.New("only draft versions can be published")

	// ErrValidationFailed indicates the document did not pass static
	// validation; publishing is gated on a clean validation run.
	ErrValidationFailed = errors.New("flow document failed validation")
)

// PublishingService manages the draft -> published -> archived lifecycle of
// flow document versions. Publishing is atomic from the caller's point of
// view: the prior published version is archived and the draft promoted in
// one call.
type PublishingService struct {
	flows  persistence.FlowRepository
	logger *slog.Logger
}

func NewPublishingService(flows persistence.FlowRepository, logger *slog.Logger) *PublishingService {
	return &PublishingService{
		flows:  flows,
		logger: logger.With("module", "publishing"),
	}
}

// Publish promotes a draft document version to published. The document must
// validate without errors; any previously published version of the same flow
// group is archived. Returns the validation result so callers can surface
// warnings even on success.
func (s *PublishingService) Publish(ctx context.Context, documentID string) (*models.FlowDocument, *models.ValidationResult, error) {
	doc, err := s.flows.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}

	if doc == nil {
		return nil, nil, persistence.NewFlowError("Publish", documentID, persistence.ErrFlowNotFound)
	}

	if doc.Status != models.FlowStatusDraft {
		return nil, nil, fmt.Errorf("document %s has status %s: %w", documentID, doc.Status, ErrNotDraft)
	}

	result := Validate(doc)
	if !result.Valid() {
		return nil, result, fmt.Errorf("document %s has %d validation errors: %w",
			documentID, result.Summary.ErrorCount, ErrValidationFailed)
	}

	previous, err := s.flows.GetPublished(ctx, doc.FlowID)
	if err != nil {
		return nil, result, err
	}

	if previous != nil && previous.ID != doc.ID {
		previous.Status = models.FlowStatusArchived
		previous.UpdatedAt = time.Now().UTC()

		if err := s.flows.Save(ctx, previous); err != nil {
			return nil, result, fmt.Errorf("failed to archive version %d of flow %s: %w",
				previous.Version, doc.FlowID, err)
		}

		s.logger.InfoContext(ctx, "Archived previous published version",
			"flow_id", doc.FlowID, "version", previous.Version)
	}

	now := time.Now().UTC()
	doc.Status = models.FlowStatusPublished
	doc.PublishedAt = &now
	doc.UpdatedAt = now

	if err := s.flows.Save(ctx, doc); err != nil {
		return nil, result, err
	}

	s.logger.InfoContext(ctx, "Published flow version",
		"flow_id", doc.FlowID, "version", doc.Version, "document_id", doc.ID)

	return doc, result, nil
}

// NewDraftFromPublished creates a new draft version of a flow group by deep
// copying its published document. The draft receives a fresh document id and
// the next version number; the published version is left untouched.
func (s *PublishingService) NewDraftFromPublished(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	published, err := s.flows.GetPublished(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if published == nil {
		return nil, persistence.NewFlowGroupError("NewDraftFromPublished", flowID, persistence.ErrPublishedFlowNotFound)
	}

	maxVersion, err := s.flows.MaxVersion(ctx, flowID)
	if err != nil {
		return nil, err
	}

	draft, err := cloneDocument(published)
	if err != nil {
		return nil, persistence.NewFlowGroupError("NewDraftFromPublished", flowID, err)
	}

	now := time.Now().UTC()
	draft.ID = uuid.New().String()
	draft.Version = maxVersion + 1
	draft.Status = models.FlowStatusDraft
	draft.CreatedAt = now
	draft.UpdatedAt = now
	draft.PublishedAt = nil

	if err := s.flows.Save(ctx, draft); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Created draft from published version",
		"flow_id", flowID, "version", draft.Version, "document_id", draft.ID)

	return draft, nil
}

// cloneDocument deep copies a document through JSON so the draft shares no
// node or edge pointers with its source.
func cloneDocument(doc *models.FlowDocument) (*models.FlowDocument, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}

	var clone models.FlowDocument
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}

	return &clone, nil
}
