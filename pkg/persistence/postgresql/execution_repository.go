package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

// ExecutionRepository records executions and their write-once steps.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `id, flow_id, flow_version, document_id, call_id, status,
	current_node_id, context, waiting_on, simulated, started_at, suspended_at,
	completed_at, error_message`

// SaveExecution upserts the execution row.
func (er *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	var suspendedAt, completedAt sql.NullTime
	if execution.SuspendedAt != nil {
		suspendedAt = sql.NullTime{Time: *execution.SuspendedAt, Valid: true}
	}

	if execution.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *execution.CompletedAt, Valid: true}
	}

	_, err = er.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_node_id = EXCLUDED.current_node_id,
			context = EXCLUDED.context,
			waiting_on = EXCLUDED.waiting_on,
			suspended_at = EXCLUDED.suspended_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message`,
		execution.ID, execution.FlowID, execution.FlowVersion,
		execution.DocumentID, execution.CallID, execution.Status,
		execution.CurrentNodeID, contextJSON, execution.WaitingOn,
		execution.Simulated, execution.StartedAt, suspendedAt, completedAt,
		execution.ErrorMessage,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

func scanExecution(row interface{ Scan(...any) error }) (*models.Execution, error) {
	var (
		execution   models.Execution
		contextJSON []byte
		suspendedAt sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID, &execution.FlowID, &execution.FlowVersion,
		&execution.DocumentID, &execution.CallID, &execution.Status,
		&execution.CurrentNodeID, &contextJSON, &execution.WaitingOn,
		&execution.Simulated, &execution.StartedAt, &suspendedAt, &completedAt,
		&execution.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context for %s: %w", execution.ID, err)
	}

	if suspendedAt.Valid {
		execution.SuspendedAt = &suspendedAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}

// GetExecution loads an execution row by id.
func (er *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := er.db.QueryRowContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetExecution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("GetExecution", id, err)
	}

	return execution, nil
}

// RecordStep durably writes one step. Steps already in a final status are
// sealed; rewriting them is refused.
func (er *ExecutionRepository) RecordStep(ctx context.Context, step *models.ExecutionStep) error {
	var existingStatus models.StepStatus

	err := er.db.QueryRowContext(ctx,
		"SELECT status FROM execution_steps WHERE execution_id = $1 AND seq = $2",
		step.ExecutionID, step.Seq).Scan(&existingStatus)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First write for this seq.
	case err != nil:
		return persistence.NewExecutionError("RecordStep", step.ExecutionID, err)
	case existingStatus == models.StepStatusCompleted || existingStatus == models.StepStatusFailed:
		return persistence.NewExecutionError("RecordStep", step.ExecutionID, persistence.ErrStepSealed)
	}

	inputJSON, err := json.Marshal(step.Input)
	if err != nil {
		return persistence.NewExecutionError("RecordStep", step.ExecutionID, err)
	}

	outputJSON, err := json.Marshal(step.Output)
	if err != nil {
		return persistence.NewExecutionError("RecordStep", step.ExecutionID, err)
	}

	var completedAt sql.NullTime
	if step.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *step.CompletedAt, Valid: true}
	}

	_, err = er.db.ExecContext(ctx, `
		INSERT INTO execution_steps
			(id, execution_id, seq, node_id, node_kind, node_subtype, status,
			 input, output, started_at, completed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (execution_id, seq) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message`,
		step.ID, step.ExecutionID, step.Seq, step.NodeID, step.NodeKind,
		step.NodeSubtype, step.Status, inputJSON, outputJSON, step.StartedAt,
		completedAt, step.ErrorMessage,
	)
	if err != nil {
		return persistence.NewExecutionError("RecordStep", step.ExecutionID, err)
	}

	return nil
}

// StepsByExecution returns the ordered step history of an execution.
func (er *ExecutionRepository) StepsByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	rows, err := er.db.QueryContext(ctx, `
		SELECT id, execution_id, seq, node_id, node_kind, node_subtype, status,
		       input, output, started_at, completed_at, error_message
		FROM execution_steps WHERE execution_id = $1 ORDER BY seq ASC`,
		executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("StepsByExecution", executionID, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*models.ExecutionStep

	for rows.Next() {
		var (
			step        models.ExecutionStep
			inputJSON   []byte
			outputJSON  []byte
			completedAt sql.NullTime
		)

		err := rows.Scan(
			&step.ID, &step.ExecutionID, &step.Seq, &step.NodeID,
			&step.NodeKind, &step.NodeSubtype, &step.Status, &inputJSON,
			&outputJSON, &step.StartedAt, &completedAt, &step.ErrorMessage,
		)
		if err != nil {
			return nil, persistence.NewExecutionError("StepsByExecution", executionID, err)
		}

		if err := json.Unmarshal(inputJSON, &step.Input); err != nil {
			return nil, persistence.NewExecutionError("StepsByExecution", executionID, err)
		}

		if err := json.Unmarshal(outputJSON, &step.Output); err != nil {
			return nil, persistence.NewExecutionError("StepsByExecution", executionID, err)
		}

		if completedAt.Valid {
			step.CompletedAt = &completedAt.Time
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError("StepsByExecution", executionID, err)
	}

	return steps, nil
}

// ListSuspendedBefore returns executions suspended earlier than the cutoff.
func (er *ExecutionRepository) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Execution, error) {
	rows, err := er.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status = $1 AND suspended_at < $2",
		models.ExecutionStatusSuspended, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspended executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suspended []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suspended execution: %w", err)
		}

		suspended = append(suspended, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suspended executions: %w", err)
	}

	return suspended, nil
}
