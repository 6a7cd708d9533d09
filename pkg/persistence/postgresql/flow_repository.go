package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

// FlowRepository stores flow document versions with nodes and edges as JSONB.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `id, flow_id, version, status, name, description, timezone,
	nodes, edges, owner, created_at, updated_at, published_at`

func (fr *FlowRepository) scanDocument(row interface{ Scan(...any) error }) (*models.FlowDocument, error) {
	var (
		doc         models.FlowDocument
		nodesJSON   []byte
		edgesJSON   []byte
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&doc.ID, &doc.FlowID, &doc.Version, &doc.Status, &doc.Name,
		&doc.Description, &doc.Timezone, &nodesJSON, &edgesJSON, &doc.Owner,
		&doc.CreatedAt, &doc.UpdatedAt, &publishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &doc.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes for %s: %w", doc.ID, err)
	}

	if err := json.Unmarshal(edgesJSON, &doc.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges for %s: %w", doc.ID, err)
	}

	if publishedAt.Valid {
		doc.PublishedAt = &publishedAt.Time
	}

	return &doc, nil
}

// GetByID retrieves a document version by id; (nil, nil) when absent.
func (fr *FlowRepository) GetByID(ctx context.Context, id string) (*models.FlowDocument, error) {
	row := fr.db.QueryRowContext(ctx,
		"SELECT "+flowColumns+" FROM flow_documents WHERE id = $1", id)

	doc, err := fr.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return doc, nil
}

// Save upserts a document version. Published versions are immutable: the
// update path refuses to touch a stored non-draft row except to archive it.
func (fr *FlowRepository) Save(ctx context.Context, doc *models.FlowDocument) error {
	existing, err := fr.GetByID(ctx, doc.ID)
	if err != nil {
		return err
	}

	if existing != nil && existing.Status != models.FlowStatusDraft &&
		doc.Status != models.FlowStatusArchived {
		return persistence.NewFlowError("Save", doc.ID, persistence.ErrPublishedImmutable)
	}

	nodesJSON, err := json.Marshal(doc.Nodes)
	if err != nil {
		return persistence.NewFlowError("Save", doc.ID, err)
	}

	edgesJSON, err := json.Marshal(doc.Edges)
	if err != nil {
		return persistence.NewFlowError("Save", doc.ID, err)
	}

	var publishedAt sql.NullTime
	if doc.PublishedAt != nil {
		publishedAt = sql.NullTime{Time: *doc.PublishedAt, Valid: true}
	}

	_, err = fr.db.ExecContext(ctx, `
		INSERT INTO flow_documents (`+flowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			timezone = EXCLUDED.timezone,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at`,
		doc.ID, doc.FlowID, doc.Version, doc.Status, doc.Name, doc.Description,
		doc.Timezone, nodesJSON, edgesJSON, doc.Owner, doc.CreatedAt,
		doc.UpdatedAt, publishedAt,
	)
	if err != nil {
		return persistence.NewFlowError("Save", doc.ID, err)
	}

	return nil
}

// Delete removes a document version.
func (fr *FlowRepository) Delete(ctx context.Context, id string) error {
	_, err := fr.db.ExecContext(ctx, "DELETE FROM flow_documents WHERE id = $1", id)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	return nil
}

// List returns a filtered, paginated page of documents, newest first.
func (fr *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	where := " WHERE 1=1"
	args := []any{}

	if opts.FlowID != "" {
		args = append(args, opts.FlowID)
		where += fmt.Sprintf(" AND flow_id = $%d", len(args))
	}

	if opts.Owner != "" {
		args = append(args, opts.Owner)
		where += fmt.Sprintf(" AND owner = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var totalCount int64

	err := fr.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flow_documents"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count flow documents: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(
		"SELECT "+flowColumns+" FROM flow_documents%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args))

	rows, err := fr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	documents := make([]*models.FlowDocument, 0, opts.Limit)

	for rows.Next() {
		doc, err := fr.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow document: %w", err)
		}

		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow documents: %w", err)
	}

	return &persistence.FlowListResult{
		Documents:   documents,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(documents)) < totalCount,
	}, nil
}

// GetPublished resolves the published version of a flow group.
func (fr *FlowRepository) GetPublished(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	row := fr.db.QueryRowContext(ctx,
		"SELECT "+flowColumns+" FROM flow_documents WHERE flow_id = $1 AND status = $2",
		flowID, models.FlowStatusPublished)

	doc, err := fr.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, persistence.NewFlowGroupError("GetPublished", flowID, err)
	}

	return doc, nil
}

// GetDraft resolves the latest draft version of a flow group.
func (fr *FlowRepository) GetDraft(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	row := fr.db.QueryRowContext(ctx,
		`SELECT `+flowColumns+` FROM flow_documents
		 WHERE flow_id = $1 AND status = $2 ORDER BY version DESC LIMIT 1`,
		flowID, models.FlowStatusDraft)

	doc, err := fr.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, persistence.NewFlowGroupError("GetDraft", flowID, err)
	}

	return doc, nil
}

// MaxVersion returns the highest version recorded for a flow group.
func (fr *FlowRepository) MaxVersion(ctx context.Context, flowID string) (int, error) {
	var maxVersion int

	err := fr.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM flow_documents WHERE flow_id = $1",
		flowID).Scan(&maxVersion)
	if err != nil {
		return 0, persistence.NewFlowGroupError("MaxVersion", flowID, err)
	}

	return maxVersion, nil
}
