package interpreter

import (
	"context"
	"fmt"
	"time"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

// Simulate dry-runs a document against a script. The run goes through the
// same loop as live executions; only the dispatcher and classifier are
// swapped for mocks, so a flow that simulates cleanly exercises exactly the
// code that will carry real calls. Simulated executions are recorded with the
// Simulated flag and publish no events.
func (i *Interpreter) Simulate(ctx context.Context, doc *models.FlowDocument, call models.CallContext, script dispatcher.SimulationScript) (*models.SimulationResult, error) {
	mock := dispatcher.NewSimulationDispatcher(script, i.logger)

	clock := i.now
	if script.At != nil {
		pinned := *script.At
		clock = func() time.Time { return pinned }
	}

	sim := &Interpreter{
		flows:      i.flows,
		recorder:   i.recorder,
		actions:    mock,
		classifier: mock,
		logger:     i.logger,
		tracer:     i.tracer,
		now:        clock,
		maxSteps:   i.maxSteps,
	}

	started := time.Now()

	execution, err := sim.Start(ctx, doc, call, true)
	if err != nil {
		return nil, err
	}

	// Mock actions never suspend; the run always lands on a final status.
	if !execution.Status.Terminal() {
		return nil, fmt.Errorf("simulation of document %s stopped in status %s", doc.ID, execution.Status)
	}

	steps, err := i.recorder.StepsByExecution(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	outcome, _ := execution.Context["outcome"].(string)
	if execution.Status != models.ExecutionStatusCompleted {
		outcome = execution.ErrorMessage
	}

	return &models.SimulationResult{
		Execution:     execution,
		Steps:         steps,
		TotalSteps:    len(steps),
		TotalDuration: time.Since(started),
		FinalOutcome:  outcome,
		Successful:    execution.Status == models.ExecutionStatusCompleted,
	}, nil
}
