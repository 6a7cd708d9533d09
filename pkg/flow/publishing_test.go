package flow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
	"github.com/callwise/callflow/pkg/persistence/file"
)

func newPublishingFixture(t *testing.T) (*PublishingService, persistence.FlowRepository) {
	t.Helper()

	repo := file.NewPersistence(t.TempDir()).FlowRepository()

	return NewPublishingService(repo, slog.Default()), repo
}

func validDraft(id, flowID string, version int) *models.FlowDocument {
	now := time.Now().UTC()

	return &models.FlowDocument{
		ID:      id,
		FlowID:  flowID,
		Version: version,
		Status:  models.FlowStatusDraft,
		Name:    "support line",
		Nodes: []*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "end", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "entry", Target: "end"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPublishPromotesDraft(t *testing.T) {
	service, repo := newPublishingFixture(t)
	ctx := context.Background()

	draft := validDraft("doc-1", "flow-1", 1)
	require.NoError(t, repo.Save(ctx, draft))

	published, result, err := service.Publish(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, published)

	assert.Equal(t, models.FlowStatusPublished, published.Status)
	assert.NotNil(t, published.PublishedAt)
	assert.True(t, result.Valid())

	stored, err := repo.GetPublished(ctx, "flow-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "doc-1", stored.ID)
}

func TestPublishArchivesPreviousVersion(t *testing.T) {
	service, repo := newPublishingFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, validDraft("doc-1", "flow-1", 1)))
	_, _, err := service.Publish(ctx, "doc-1")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, validDraft("doc-2", "flow-1", 2)))
	_, _, err = service.Publish(ctx, "doc-2")
	require.NoError(t, err)

	// At most one published version per group; the old one is archived.
	active, err := repo.GetPublished(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-2", active.ID)

	previous, err := repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusArchived, previous.Status)
}

func TestPublishRejectsInvalidDocument(t *testing.T) {
	service, repo := newPublishingFixture(t)
	ctx := context.Background()

	draft := validDraft("doc-1", "flow-1", 1)
	draft.Nodes = draft.Nodes[1:] // Drop the trigger node.
	require.NoError(t, repo.Save(ctx, draft))

	_, result, err := service.Publish(ctx, "doc-1")
	require.ErrorIs(t, err, ErrValidationFailed)
	require.NotNil(t, result)
	assert.False(t, result.Valid())

	// Draft stays a draft after a failed publish.
	stored, err := repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusDraft, stored.Status)
}

func TestPublishRejectsNonDraft(t *testing.T) {
	service, repo := newPublishingFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, validDraft("doc-1", "flow-1", 1)))
	_, _, err := service.Publish(ctx, "doc-1")
	require.NoError(t, err)

	_, _, err = service.Publish(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotDraft)
}

func TestPublishUnknownDocument(t *testing.T) {
	service, _ := newPublishingFixture(t)

	_, _, err := service.Publish(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestNewDraftFromPublished(t *testing.T) {
	service, repo := newPublishingFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, validDraft("doc-1", "flow-1", 1)))
	published, _, err := service.Publish(ctx, "doc-1")
	require.NoError(t, err)

	draft, err := service.NewDraftFromPublished(ctx, "flow-1")
	require.NoError(t, err)

	assert.Equal(t, models.FlowStatusDraft, draft.Status)
	assert.Equal(t, 2, draft.Version)
	assert.NotEqual(t, published.ID, draft.ID)
	assert.Nil(t, draft.PublishedAt)

	// Deep copy: editing the draft leaves the published graph untouched.
	draft.Nodes[0].Subtype = "changed"
	stored, err := repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubtypeInboundCall, stored.Nodes[0].Subtype)
}

func TestNewDraftRequiresPublishedVersion(t *testing.T) {
	service, repo := newPublishingFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, validDraft("doc-1", "flow-1", 1)))

	_, err := service.NewDraftFromPublished(ctx, "flow-1")
	assert.ErrorIs(t, err, persistence.ErrPublishedFlowNotFound)
}
