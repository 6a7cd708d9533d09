// Package interpreter runs flow executions as resumable tick bursts. Each
// tick processes the current node, records its step, and persists the updated
// execution before the next tick; suspension and failure are durable states,
// not in-memory conditions, so a restarted process picks up exactly where the
// recorder says the execution stands.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/eventbus"
	"github.com/callwise/callflow/pkg/events"
	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
)

var (
	// ErrExecutionNotSuspended indicates a resume or abandon attempt on an
	// execution that is not waiting for an event.
	ErrExecutionNotSuspended = errors.New("execution is not suspended")

	// ErrNoEntryNode indicates the document has no trigger node to start from.
	ErrNoEntryNode = errors.New("flow document has no entry node")
)

// failureNoMatchingBranch prefixes failure messages for branch evaluations
// that matched no edge and found no default.
const failureNoMatchingBranch = "NO_MATCHING_BRANCH"

const defaultMaxSteps = 1000

// Interpreter advances executions through their flow graphs. It is safe for
// concurrent use; ticks of the same execution are serialized by a
// per-execution lock.
type Interpreter struct {
	flows      persistence.FlowRepository
	recorder   persistence.ExecutionRepository
	actions    dispatcher.ActionDispatcher
	classifier dispatcher.Classifier
	bus        eventbus.EventBus
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	maxSteps   int
	locks      sync.Map
}

type Option func(*Interpreter)

// WithClock pins the interpreter's wall clock, used by simulations and tests.
func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) {
		i.now = now
	}
}

// WithMaxSteps bounds the number of steps a single execution may record,
// protecting against runaway cycles in published graphs.
func WithMaxSteps(n int) Option {
	return func(i *Interpreter) {
		i.maxSteps = n
	}
}

func New(
	flows persistence.FlowRepository,
	recorder persistence.ExecutionRepository,
	actions dispatcher.ActionDispatcher,
	classifier dispatcher.Classifier,
	bus eventbus.EventBus,
	logger *slog.Logger,
	opts ...Option,
) *Interpreter {
	interpreter := &Interpreter{
		flows:      flows,
		recorder:   recorder,
		actions:    actions,
		classifier: classifier,
		bus:        bus,
		logger:     logger.With("module", "interpreter"),
		tracer:     otel.Tracer("callflow/interpreter"),
		now:        time.Now,
		maxSteps:   defaultMaxSteps,
	}

	for _, opt := range opts {
		opt(interpreter)
	}

	return interpreter
}

// Start creates an execution bound to the document and runs it until it
// completes, fails, or suspends. The returned execution reflects whichever of
// those states it reached.
func (i *Interpreter) Start(ctx context.Context, doc *models.FlowDocument, call models.CallContext, simulated bool) (*models.Execution, error) {
	entry := doc.EntryNode()
	if entry == nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, ErrNoEntryNode)
	}

	ctx, span := i.tracer.Start(ctx, "execution.start", trace.WithAttributes(
		attribute.String("flow.id", doc.FlowID),
		attribute.Int("flow.version", doc.Version),
		attribute.String("call.id", call.CallID),
	))
	defer span.End()

	execution := &models.Execution{
		ID:            uuid.New().String(),
		FlowID:        doc.FlowID,
		FlowVersion:   doc.Version,
		DocumentID:    doc.ID,
		CallID:        call.CallID,
		Status:        models.ExecutionStatusInitiated,
		CurrentNodeID: entry.ID,
		Context:       call.Seed(),
		Simulated:     simulated,
		StartedAt:     i.now().UTC(),
	}

	if err := i.recorder.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	i.publish(ctx, events.ExecutionStarted, execution, nil)

	lock := i.lockFor(execution.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := transition(execution, triggerRun); err != nil {
		return nil, err
	}

	i.logger.InfoContext(ctx, "Started execution",
		"execution_id", execution.ID, "flow_id", doc.FlowID, "version", doc.Version,
		"call_id", call.CallID, "simulated", simulated)

	return i.run(ctx, doc, execution, 1, nil)
}

// Resume feeds an external event to a suspended execution and runs it
// forward. The event payload seals the suspended step, joins the context
// snapshot, and is visible to the next branch evaluation.
func (i *Interpreter) Resume(ctx context.Context, executionID string, event map[string]any) (*models.Execution, error) {
	lock := i.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	execution, err := i.recorder.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusSuspended {
		return nil, fmt.Errorf("execution %s has status %s: %w",
			executionID, execution.Status, ErrExecutionNotSuspended)
	}

	doc, err := i.flows.GetByID(ctx, execution.DocumentID)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		return nil, persistence.NewFlowError("Resume", execution.DocumentID, persistence.ErrFlowNotFound)
	}

	ctx, span := i.tracer.Start(ctx, "execution.resume", trace.WithAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("node.id", execution.CurrentNodeID),
	))
	defer span.End()

	node := doc.NodeByID(execution.CurrentNodeID)
	if node == nil {
		return i.fail(ctx, execution, nil,
			fmt.Sprintf("suspended node %s no longer exists in document %s", execution.CurrentNodeID, doc.ID))
	}

	waiting, err := i.waitingStep(ctx, execution)
	if err != nil {
		return nil, err
	}

	// Seal the suspended step with the event that woke it.
	completedAt := i.now().UTC()
	waiting.Status = models.StepStatusCompleted
	waiting.CompletedAt = &completedAt
	waiting.Output = mergedCopy(waiting.Output, event)

	if err := i.recorder.RecordStep(ctx, waiting); err != nil {
		return nil, err
	}

	mergeAppendOnly(execution.Context, event)

	if err := transition(execution, triggerResume); err != nil {
		return nil, err
	}

	next := i.continuationEdge(doc, node, event)
	if next == nil {
		return i.fail(ctx, execution, nil,
			fmt.Sprintf("%s: node %s has no continuation edge for resume event", failureNoMatchingBranch, node.ID))
	}

	execution.CurrentNodeID = next.Target
	execution.WaitingOn = ""
	execution.SuspendedAt = nil

	if err := i.recorder.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	i.publish(ctx, events.ExecutionResumed, execution, event)
	i.logger.InfoContext(ctx, "Resumed execution", "execution_id", executionID, "node_id", node.ID)

	return i.run(ctx, doc, execution, waiting.Seq+1, event)
}

// Abandon finalizes a suspended execution that will never receive its event,
// sealing the waiting step as failed. Called by the reaper, not by flows.
func (i *Interpreter) Abandon(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	lock := i.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	execution, err := i.recorder.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusSuspended {
		return nil, fmt.Errorf("execution %s has status %s: %w",
			executionID, execution.Status, ErrExecutionNotSuspended)
	}

	waiting, err := i.waitingStep(ctx, execution)
	if err != nil {
		return nil, err
	}

	completedAt := i.now().UTC()
	waiting.Status = models.StepStatusFailed
	waiting.CompletedAt = &completedAt
	waiting.ErrorMessage = "abandoned while suspended"

	if err := i.recorder.RecordStep(ctx, waiting); err != nil {
		return nil, err
	}

	if err := transition(execution, triggerAbandon); err != nil {
		return nil, err
	}

	execution.CompletedAt = &completedAt
	execution.ErrorMessage = reason

	if err := i.recorder.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	i.publish(ctx, events.ExecutionAbandoned, execution, map[string]any{"reason": reason})
	i.logger.InfoContext(ctx, "Abandoned execution", "execution_id", executionID, "reason", reason)

	i.releaseLock(executionID)

	return execution, nil
}

// run is the tick-burst loop: process nodes until the execution suspends or
// reaches a final status. pendingEvent is consumed by the first node of the
// burst only.
func (i *Interpreter) run(ctx context.Context, doc *models.FlowDocument, execution *models.Execution, nextSeq int, pendingEvent map[string]any) (*models.Execution, error) {
	for burst := 0; ; burst++ {
		if nextSeq > i.maxSteps {
			return i.fail(ctx, execution, nil,
				fmt.Sprintf("step budget of %d exceeded, graph likely cycles without exit", i.maxSteps))
		}

		node := doc.NodeByID(execution.CurrentNodeID)
		if node == nil {
			return i.fail(ctx, execution, nil,
				fmt.Sprintf("current node %s not found in document %s", execution.CurrentNodeID, doc.ID))
		}

		step := &models.ExecutionStep{
			ID:          uuid.New().String(),
			ExecutionID: execution.ID,
			Seq:         nextSeq,
			NodeID:      node.ID,
			NodeKind:    node.Kind,
			NodeSubtype: node.Subtype,
			Status:      models.StepStatusRunning,
			Input:       stepInput(node, pendingEvent),
			StartedAt:   i.now().UTC(),
		}

		// Write-ahead: the step exists durably before the node acts.
		if err := i.recorder.RecordStep(ctx, step); err != nil {
			return nil, err
		}

		next, suspended, inlineEvent, err := i.processNode(ctx, doc, execution, node, step, pendingEvent)
		if err != nil {
			return i.fail(ctx, execution, step, err.Error())
		}

		if suspended {
			return i.suspend(ctx, execution, node)
		}

		if node.Kind == models.NodeKindTerminal {
			return i.complete(ctx, execution, node)
		}

		if next == nil {
			// The step is already sealed completed; only the execution fails.
			return i.fail(ctx, execution, nil,
				fmt.Sprintf("%s: node %s has no outgoing edge to follow", failureNoMatchingBranch, node.ID))
		}

		execution.CurrentNodeID = next.Target

		// Durable cursor before the next tick.
		if err := i.recorder.SaveExecution(ctx, execution); err != nil {
			return nil, err
		}

		pendingEvent = inlineEvent
		nextSeq++
	}
}

// processNode executes one node and seals its step unless it suspended. It
// returns the edge to follow next and, for actions answered inline, the event
// payload the next node consumes as if it had arrived on a resume.
func (i *Interpreter) processNode(ctx context.Context, doc *models.FlowDocument, execution *models.Execution, node *models.Node, step *models.ExecutionStep, pendingEvent map[string]any) (*models.Edge, bool, map[string]any, error) {
	switch node.Kind {
	case models.NodeKindTrigger:
		if err := i.sealStep(ctx, step, nil); err != nil {
			return nil, false, nil, err
		}

		return followEdge(doc, node), false, nil, nil

	case models.NodeKindAction:
		result, err := i.actions.Dispatch(ctx, node, execution.Context)
		if err != nil {
			return nil, false, nil, err
		}

		mergeAppendOnly(execution.Context, result.Output)

		if result.Suspended {
			// The step stays running; the resume event seals it.
			return nil, true, nil, nil
		}

		if err := i.sealStep(ctx, step, result.Output); err != nil {
			return nil, false, nil, err
		}

		if len(result.Event) > 0 {
			return i.continuationEdge(doc, node, result.Event), false, result.Event, nil
		}

		return followEdge(doc, node), false, nil, nil

	case models.NodeKindConditional:
		label, err := evaluateConditional(doc, node, execution.Context, pendingEvent, i.now())
		if err != nil {
			return nil, false, nil, err
		}

		edge := branchEdge(doc, node, label)
		if edge == nil {
			return nil, false, nil, fmt.Errorf("%s: node %s has no edge for label %q and no default",
				failureNoMatchingBranch, node.ID, label)
		}

		if err := i.sealStep(ctx, step, map[string]any{"branch": label}); err != nil {
			return nil, false, nil, err
		}

		return edge, false, nil, nil

	case models.NodeKindAI:
		label, err := i.classifier.Classify(ctx, node, execution.Context)
		if errors.Is(err, dispatcher.ErrAsyncCompletion) {
			return nil, true, nil, nil
		}

		if err != nil {
			return nil, false, nil, err
		}

		edge := branchEdge(doc, node, label)
		if edge == nil {
			return nil, false, nil, fmt.Errorf("%s: node %s has no edge for label %q and no default",
				failureNoMatchingBranch, node.ID, label)
		}

		if err := i.sealStep(ctx, step, map[string]any{"label": label}); err != nil {
			return nil, false, nil, err
		}

		return edge, false, nil, nil

	case models.NodeKindTerminal:
		mergeAppendOnly(execution.Context, map[string]any{"outcome": node.Subtype})

		if err := i.sealStep(ctx, step, map[string]any{"outcome": node.Subtype}); err != nil {
			return nil, false, nil, err
		}

		return nil, false, nil, nil

	default:
		return nil, false, nil, fmt.Errorf("unknown node kind %q on node %s", node.Kind, node.ID)
	}
}

func (i *Interpreter) suspend(ctx context.Context, execution *models.Execution, node *models.Node) (*models.Execution, error) {
	if err := transition(execution, triggerSuspend); err != nil {
		return nil, err
	}

	suspendedAt := i.now().UTC()
	execution.WaitingOn = node.Subtype
	execution.SuspendedAt = &suspendedAt

	if err := i.recorder.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	i.publish(ctx, events.ExecutionSuspended, execution, map[string]any{"waiting_on": node.Subtype})
	i.logger.InfoContext(ctx, "Suspended execution",
		"execution_id", execution.ID, "node_id", node.ID, "waiting_on", node.Subtype)

	return execution, nil
}

func (i *Interpreter) complete(ctx context.Context, execution *models.Execution, node *models.Node) (*models.Execution, error) {
	if err := transition(execution, triggerComplete); err != nil {
		return nil, err
	}

	completedAt := i.now().UTC()
	execution.CompletedAt = &completedAt

	if err := i.recorder.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	i.publish(ctx, events.ExecutionCompleted, execution, map[string]any{"outcome": node.Subtype})
	i.logger.InfoContext(ctx, "Completed execution",
		"execution_id", execution.ID, "outcome", node.Subtype)

	i.releaseLock(execution.ID)

	return execution, nil
}

// fail finalizes the execution as failed, sealing the in-flight step when
// there is one. The failed execution is returned with a nil error: the
// failure is a recorded outcome, not a transport problem.
func (i *Interpreter) fail(ctx context.Context, execution *models.Execution, step *models.ExecutionStep, message string) (*models.Execution, error) {
	completedAt := i.now().UTC()

	if step != nil {
		step.Status = models.StepStatusFailed
		step.CompletedAt = &completedAt
		step.ErrorMessage = message

		if err := i.recorder.RecordStep(ctx, step); err != nil {
			return nil, err
		}
	}

	if err := transition(execution, triggerFail); err != nil {
		return nil, err
	}

	execution.CompletedAt = &completedAt
	execution.ErrorMessage = message

	if err := i.recorder.SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	i.publish(ctx, events.ExecutionFailed, execution, map[string]any{"error": message})
	i.logger.WarnContext(ctx, "Failed execution", "execution_id", execution.ID, "error", message)

	i.releaseLock(execution.ID)

	return execution, nil
}

func (i *Interpreter) sealStep(ctx context.Context, step *models.ExecutionStep, output map[string]any) error {
	completedAt := i.now().UTC()
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &completedAt
	step.Output = output

	return i.recorder.RecordStep(ctx, step)
}

// waitingStep returns the running step the execution suspended on: the last
// recorded step.
func (i *Interpreter) waitingStep(ctx context.Context, execution *models.Execution) (*models.ExecutionStep, error) {
	steps, err := i.recorder.StepsByExecution(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("suspended execution %s has no recorded steps", execution.ID)
	}

	last := steps[len(steps)-1]
	if last.Status != models.StepStatusRunning {
		return nil, fmt.Errorf("suspended execution %s: last step %d has status %s, want running",
			execution.ID, last.Seq, last.Status)
	}

	return last, nil
}

// continuationEdge picks where a resumed execution goes next. AI nodes branch
// on the event's label; actions may branch on an optional result label and
// otherwise continue along their default edge.
func (i *Interpreter) continuationEdge(doc *models.FlowDocument, node *models.Node, event map[string]any) *models.Edge {
	if node.Kind == models.NodeKindAI {
		label, _ := event["label"].(string)

		return branchEdge(doc, node, label)
	}

	if result, ok := event["result"].(string); ok && result != "" {
		if edge := branchEdge(doc, node, result); edge != nil {
			return edge
		}
	}

	return followEdge(doc, node)
}

func (i *Interpreter) lockFor(executionID string) *sync.Mutex {
	lock, _ := i.locks.LoadOrStore(executionID, &sync.Mutex{})

	return lock.(*sync.Mutex)
}

// releaseLock drops the per-execution lock entry once the execution reached a
// final status. A late caller racing the delete gets a fresh mutex and then
// rejects the execution on its durable status, so correctness does not depend
// on the entry.
func (i *Interpreter) releaseLock(executionID string) {
	i.locks.Delete(executionID)
}

func (i *Interpreter) publish(ctx context.Context, eventType events.EventType, execution *models.Execution, metadata map[string]any) {
	if i.bus == nil || execution.Simulated {
		return
	}

	event := &events.ExecutionEvent{
		Type:        eventType,
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		FlowVersion: execution.FlowVersion,
		CallID:      execution.CallID,
		NodeID:      execution.CurrentNodeID,
		Status:      execution.Status,
		Timestamp:   i.now().UTC(),
		Metadata:    metadata,
	}

	if err := i.bus.Publish(ctx, event); err != nil {
		i.logger.ErrorContext(ctx, "Failed to publish execution event",
			"execution_id", execution.ID, "event_type", eventType, "error", err)
	}
}

// stepInput snapshots what the node was given: its config plus the event
// that woke the execution, when there is one.
func stepInput(node *models.Node, pendingEvent map[string]any) map[string]any {
	if len(node.Config) == 0 && len(pendingEvent) == 0 {
		return nil
	}

	input := make(map[string]any, len(node.Config)+len(pendingEvent))
	for key, value := range node.Config {
		input[key] = value
	}

	for key, value := range pendingEvent {
		input[key] = value
	}

	return input
}

// mergeAppendOnly adds missing keys from src to dst. The context snapshot is
// append-only: keys already present are never overwritten.
func mergeAppendOnly(dst, src map[string]any) {
	for key, value := range src {
		if _, exists := dst[key]; !exists {
			dst[key] = value
		}
	}
}

func mergedCopy(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}

	for key, value := range extra {
		out[key] = value
	}

	return out
}
