package interpreter

import (
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/callwise/callflow/pkg/models"
)

// Lifecycle triggers.
const (
	triggerRun      = "run"
	triggerSuspend  = "suspend"
	triggerResume   = "resume"
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerAbandon  = "abandon"
)

// newLifecycle builds the execution status machine positioned at the given
// status. Illegal transitions (resuming a completed execution, abandoning a
// running one) are rejected by the machine rather than by scattered checks.
func newLifecycle(status models.ExecutionStatus) *stateless.StateMachine {
	machine := stateless.NewStateMachine(status)

	machine.Configure(models.ExecutionStatusInitiated).
		Permit(triggerRun, models.ExecutionStatusRunning).
		Permit(triggerFail, models.ExecutionStatusFailed)

	machine.Configure(models.ExecutionStatusRunning).
		Permit(triggerSuspend, models.ExecutionStatusSuspended).
		Permit(triggerComplete, models.ExecutionStatusCompleted).
		Permit(triggerFail, models.ExecutionStatusFailed)

	machine.Configure(models.ExecutionStatusSuspended).
		Permit(triggerResume, models.ExecutionStatusRunning).
		Permit(triggerFail, models.ExecutionStatusFailed).
		Permit(triggerAbandon, models.ExecutionStatusAbandoned)

	return machine
}

// transition applies one lifecycle trigger to the execution, updating its
// status on success.
func transition(execution *models.Execution, trigger string) error {
	machine := newLifecycle(execution.Status)

	if err := machine.Fire(trigger); err != nil {
		return fmt.Errorf("execution %s cannot %s from %s: %w",
			execution.ID, trigger, execution.Status, err)
	}

	execution.Status = machine.MustState().(models.ExecutionStatus)

	return nil
}
