package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

// FlowRepository stores each flow document version as one JSON file under
// <root>/flows/<document-id>.json.
type FlowRepository struct {
	root string
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (fr *FlowRepository) flowsDir() string {
	return path.Join(fr.root, "flows")
}

// GetByID retrieves a document version by its id; (nil, nil) when absent.
func (fr *FlowRepository) GetByID(_ context.Context, id string) (*models.FlowDocument, error) {
	filePath := filepath.Clean(path.Join(fr.flowsDir(), id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read flow document %s: %w", id, err)
	}

	var doc models.FlowDocument

	err = json.Unmarshal(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow document %s: %w", id, err)
	}

	return &doc, nil
}

// Save writes a document version. Overwriting a stored published version is
// refused: published versions are immutable.
func (fr *FlowRepository) Save(ctx context.Context, doc *models.FlowDocument) error {
	existing, err := fr.GetByID(ctx, doc.ID)
	if err != nil {
		return err
	}

	if existing != nil && existing.Status != models.FlowStatusDraft &&
		doc.Status != models.FlowStatusArchived {
		return persistence.NewFlowError("Save", doc.ID, persistence.ErrPublishedImmutable)
	}

	err = os.MkdirAll(fr.flowsDir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create flows directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow document %s: %w", doc.ID, err)
	}

	return os.WriteFile(path.Join(fr.flowsDir(), doc.ID+".json"), data, 0600)
}

// Delete removes a document version; deleting a missing document is a no-op.
func (fr *FlowRepository) Delete(_ context.Context, id string) error {
	err := os.Remove(path.Join(fr.flowsDir(), id+".json"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete flow document %s: %w", id, err)
	}

	return nil
}

func (fr *FlowRepository) loadAll(ctx context.Context) ([]*models.FlowDocument, error) {
	if _, err := os.Stat(fr.flowsDir()); os.IsNotExist(err) {
		return nil, nil
	}

	root := os.DirFS(fr.flowsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow documents: %w", err)
	}

	docs := make([]*models.FlowDocument, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-5] // strip .json

		doc, err := fr.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load flow document %s: %w", id, err)
		}

		if doc != nil {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}

// List returns a filtered, paginated page of documents sorted newest first.
func (fr *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	all, err := fr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.FlowDocument, 0, len(all))

	for _, doc := range all {
		if opts.FlowID != "" && doc.FlowID != opts.FlowID {
			continue
		}

		if opts.Owner != "" && doc.Owner != opts.Owner {
			continue
		}

		if opts.Status != nil && doc.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, doc)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	totalCount := int64(len(filtered))

	startIdx := opts.Offset
	if startIdx >= len(filtered) {
		return &persistence.FlowListResult{
			Documents:  make([]*models.FlowDocument, 0),
			TotalCount: totalCount,
		}, nil
	}

	endIdx := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.FlowListResult{
		Documents:   filtered[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// GetPublished returns the published version of a flow group, (nil, nil) when
// the group has none.
func (fr *FlowRepository) GetPublished(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	all, err := fr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, doc := range all {
		if doc.FlowID == flowID && doc.Status == models.FlowStatusPublished {
			return doc, nil
		}
	}

	return nil, nil
}

// GetDraft returns the latest draft of a flow group, (nil, nil) when absent.
func (fr *FlowRepository) GetDraft(ctx context.Context, flowID string) (*models.FlowDocument, error) {
	all, err := fr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var latest *models.FlowDocument

	for _, doc := range all {
		if doc.FlowID != flowID || doc.Status != models.FlowStatusDraft {
			continue
		}

		if latest == nil || doc.Version > latest.Version {
			latest = doc
		}
	}

	return latest, nil
}

// MaxVersion returns the highest version recorded for a flow group.
func (fr *FlowRepository) MaxVersion(ctx context.Context, flowID string) (int, error) {
	all, err := fr.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	maxVersion := 0

	for _, doc := range all {
		if doc.FlowID == flowID && doc.Version > maxVersion {
			maxVersion = doc.Version
		}
	}

	return maxVersion, nil
}
