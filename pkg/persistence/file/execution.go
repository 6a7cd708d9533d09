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
	"time"

	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

// ExecutionRepository records executions and their steps as JSON files:
// <root>/executions/<id>.json for the execution row and
// <root>/executions/<id>.steps/<seq>.json for each step.
type ExecutionRepository struct {
	root string
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) executionsDir() string {
	return path.Join(er.root, "executions")
}

func (er *ExecutionRepository) stepsDir(executionID string) string {
	return path.Join(er.executionsDir(), executionID+".steps")
}

// SaveExecution durably writes the execution row. The write goes through a
// temp file and rename so a crash never leaves a torn row behind.
func (er *ExecutionRepository) SaveExecution(_ context.Context, execution *models.Execution) error {
	err := os.MkdirAll(er.executionsDir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	target := path.Join(er.executionsDir(), execution.ID+".json")
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	return os.Rename(tmp, target)
}

// GetExecution loads an execution row by id.
func (er *ExecutionRepository) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	filePath := filepath.Clean(path.Join(er.executionsDir(), id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("GetExecution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var execution models.Execution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

// RecordStep durably writes one step. A step already in a final status is
// sealed and may not be rewritten.
func (er *ExecutionRepository) RecordStep(ctx context.Context, step *models.ExecutionStep) error {
	dir := er.stepsDir(step.ExecutionID)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create steps directory: %w", err)
	}

	target := path.Join(dir, fmt.Sprintf("%06d.json", step.Seq))

	if body, err := os.ReadFile(filepath.Clean(target)); err == nil {
		var existing models.ExecutionStep

		if err := json.Unmarshal(body, &existing); err == nil {
			if existing.Status == models.StepStatusCompleted || existing.Status == models.StepStatusFailed {
				return persistence.NewExecutionError("RecordStep", step.ExecutionID, persistence.ErrStepSealed)
			}
		}
	}

	data, err := json.MarshalIndent(step, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal step %s: %w", step.ID, err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write step %s: %w", step.ID, err)
	}

	return os.Rename(tmp, target)
}

// StepsByExecution returns the ordered step history of an execution.
func (er *ExecutionRepository) StepsByExecution(_ context.Context, executionID string) ([]*models.ExecutionStep, error) {
	dir := er.stepsDir(executionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.ExecutionStep{}, nil
	}

	entries, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list steps for execution %s: %w", executionID, err)
	}

	steps := make([]*models.ExecutionStep, 0, len(entries))

	for _, entry := range entries {
		body, err := os.ReadFile(filepath.Clean(path.Join(dir, entry)))
		if err != nil {
			return nil, fmt.Errorf("failed to read step %s: %w", entry, err)
		}

		var step models.ExecutionStep

		err = json.Unmarshal(body, &step)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s: %w", entry, err)
		}

		steps = append(steps, &step)
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Seq < steps[j].Seq })

	return steps, nil
}

// ListSuspendedBefore returns executions suspended earlier than the cutoff.
func (er *ExecutionRepository) ListSuspendedBefore(_ context.Context, cutoff time.Time) ([]*models.Execution, error) {
	if _, err := os.Stat(er.executionsDir()); os.IsNotExist(err) {
		return nil, nil
	}

	entries, err := fs.Glob(os.DirFS(er.executionsDir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	var suspended []*models.Execution

	for _, entry := range entries {
		body, err := os.ReadFile(filepath.Clean(path.Join(er.executionsDir(), entry)))
		if err != nil {
			return nil, fmt.Errorf("failed to read execution %s: %w", entry, err)
		}

		var execution models.Execution

		if err := json.Unmarshal(body, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution %s: %w", entry, err)
		}

		if execution.Status != models.ExecutionStatusSuspended || execution.SuspendedAt == nil {
			continue
		}

		if execution.SuspendedAt.Before(cutoff) {
			suspended = append(suspended, &execution)
		}
	}

	return suspended, nil
}
