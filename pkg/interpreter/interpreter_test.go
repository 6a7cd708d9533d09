package interpreter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/eventbus"
	"github.com/callwise/callflow/pkg/events"
	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/persistence"
	"github.com/callwise/callflow/pkg/persistence/file"
)

// scriptedDispatcher plays fixed results per node id.
type scriptedDispatcher struct {
	outputs map[string]map[string]any
	suspend map[string]bool
	fail    map[string]error
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, node *models.Node, _ map[string]any) (*dispatcher.Result, error) {
	if err := d.fail[node.ID]; err != nil {
		return nil, err
	}

	return &dispatcher.Result{
		Output:    d.outputs[node.ID],
		Suspended: d.suspend[node.ID],
	}, nil
}

type scriptedClassifier struct {
	labels map[string]string
}

func (c *scriptedClassifier) Classify(_ context.Context, node *models.Node, _ map[string]any) (string, error) {
	label, ok := c.labels[node.ID]
	if !ok {
		return "", dispatcher.ErrAsyncCompletion
	}

	return label, nil
}

// recordingBus captures published lifecycle events.
type recordingBus struct {
	mu     sync.Mutex
	events []*events.ExecutionEvent
}

func (b *recordingBus) Publish(_ context.Context, event *events.ExecutionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) Subscribe(context.Context, eventbus.EventHandler) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		out = append(out, event.Type)
	}

	return out
}

type fixture struct {
	interpreter *Interpreter
	flows       persistence.FlowRepository
	recorder    persistence.ExecutionRepository
	dispatcher  *scriptedDispatcher
	classifier  *scriptedClassifier
	bus         *recordingBus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	d := &scriptedDispatcher{
		outputs: map[string]map[string]any{},
		suspend: map[string]bool{},
		fail:    map[string]error{},
	}
	c := &scriptedClassifier{labels: map[string]string{}}
	bus := &recordingBus{}

	return &fixture{
		interpreter: New(store.FlowRepository(), store.ExecutionRepository(), d, c, bus, slog.Default(), opts...),
		flows:       store.FlowRepository(),
		recorder:    store.ExecutionRepository(),
		dispatcher:  d,
		classifier:  c,
		bus:         bus,
	}
}

func publishedDoc(t *testing.T, f *fixture, nodes []*models.Node, edges []*models.Edge) *models.FlowDocument {
	t.Helper()

	now := time.Now().UTC()
	doc := &models.FlowDocument{
		ID:          "doc-1",
		FlowID:      "flow-1",
		Version:     1,
		Status:      models.FlowStatusPublished,
		Name:        "test flow",
		Nodes:       nodes,
		Edges:       edges,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}
	require.NoError(t, f.flows.Save(context.Background(), doc))

	return doc
}

func testCall() models.CallContext {
	return models.CallContext{
		CallID:     "call-1",
		From:       "+15551230001",
		To:         "+15551239999",
		ReceivedAt: time.Now().UTC(),
	}
}

// linearFlow is entry -> speak -> end.
func linearFlow() ([]*models.Node, []*models.Edge) {
	return []*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "speak", Kind: models.NodeKindAction, Subtype: models.SubtypeTextToSpeech, Config: map[string]any{"text": "hello"}},
			{ID: "end", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
		}, []*models.Edge{
			{ID: "e1", Source: "entry", Target: "speak"},
			{ID: "e2", Source: "speak", Target: "end"},
		}
}

// menuFlow is entry -> collect (suspends) -> menu -> (1: end, timeout: end).
func menuFlow() ([]*models.Node, []*models.Edge) {
	return []*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "collect", Kind: models.NodeKindAction, Subtype: models.SubtypeCollectInput, Config: map[string]any{"max_digits": 1}},
			{ID: "menu", Kind: models.NodeKindConditional, Subtype: models.SubtypeIVRMenu, Config: map[string]any{"digits": []any{"1"}, "timeout_seconds": 5}},
			{ID: "end", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
		}, []*models.Edge{
			{ID: "e1", Source: "entry", Target: "collect"},
			{ID: "e2", Source: "collect", Target: "menu"},
			{ID: "e3", Source: "menu", Target: "end", Label: "1"},
			{ID: "e4", Source: "menu", Target: "end", Label: "timeout"},
		}
}

func TestStartRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	nodes, edges := linearFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.outputs["speak"] = map[string]any{"spoken_text": "hello"}

	execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, "hangup", execution.Context["outcome"])

	steps, err := f.recorder.StepsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	for i, step := range steps {
		assert.Equal(t, i+1, step.Seq)
		assert.Equal(t, models.StepStatusCompleted, step.Status)
	}

	assert.Equal(t, "entry", steps[0].NodeID)
	assert.Equal(t, "speak", steps[1].NodeID)
	assert.Equal(t, "end", steps[2].NodeID)

	assert.Equal(t, []events.EventType{events.ExecutionStarted, events.ExecutionCompleted}, f.bus.types())
}

func TestSuspendAndResume(t *testing.T) {
	f := newFixture(t)
	nodes, edges := menuFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.suspend["collect"] = true

	ctx := context.Background()

	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuspended, execution.Status)
	assert.Equal(t, models.SubtypeCollectInput, execution.WaitingOn)
	assert.Equal(t, "collect", execution.CurrentNodeID)
	require.NotNil(t, execution.SuspendedAt)

	// The waiting step stays running until the event arrives.
	steps, err := f.recorder.StepsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, models.StepStatusRunning, steps[1].Status)

	resumed, err := f.interpreter.Resume(ctx, execution.ID, map[string]any{"digits": "1"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Empty(t, resumed.WaitingOn)
	assert.Nil(t, resumed.SuspendedAt)
	assert.Equal(t, "1", resumed.Context["digits"])

	steps, err = f.recorder.StepsByExecution(ctx, resumed.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)

	// The suspended step was sealed with the event payload.
	assert.Equal(t, models.StepStatusCompleted, steps[1].Status)
	assert.Equal(t, "1", steps[1].Output["digits"])

	assert.Equal(t, "menu", steps[2].NodeID)
	assert.Equal(t, "1", steps[2].Output["branch"])

	assert.Equal(t, []events.EventType{
		events.ExecutionStarted,
		events.ExecutionSuspended,
		events.ExecutionResumed,
		events.ExecutionCompleted,
	}, f.bus.types())
}

func TestResumeSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	nodes, edges := menuFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.suspend["collect"] = true

	ctx := context.Background()

	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)

	// A fresh interpreter over the same store stands in for a restarted
	// process: nothing about the suspension lives in memory.
	restarted := New(f.flows, f.recorder, f.dispatcher, f.classifier, f.bus, slog.Default())

	resumed, err := restarted.Resume(ctx, execution.ID, map[string]any{"input_timeout": true})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)

	steps, err := f.recorder.StepsByExecution(ctx, resumed.ID)
	require.NoError(t, err)
	assert.Equal(t, "timeout", steps[2].Output["branch"])
}

func TestNoMatchingBranchFailsExecution(t *testing.T) {
	f := newFixture(t)
	nodes, edges := menuFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.suspend["collect"] = true

	ctx := context.Background()

	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)

	// "9" matches no edge and the menu has no default.
	failed, err := f.interpreter.Resume(ctx, execution.ID, map[string]any{"digits": "9"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, failureNoMatchingBranch)
	assert.NotNil(t, failed.CompletedAt)

	steps, err := f.recorder.StepsByExecution(ctx, failed.ID)
	require.NoError(t, err)
	last := steps[len(steps)-1]
	assert.Equal(t, models.StepStatusFailed, last.Status)

	assert.Equal(t, events.ExecutionFailed, f.bus.types()[len(f.bus.types())-1])
}

func TestContextIsAppendOnly(t *testing.T) {
	f := newFixture(t)
	nodes, edges := linearFlow()
	doc := publishedDoc(t, f, nodes, edges)

	// The action tries to overwrite a seeded key.
	f.dispatcher.outputs["speak"] = map[string]any{"caller": "spoofed", "extra": "kept"}

	execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
	require.NoError(t, err)

	assert.Equal(t, "+15551230001", execution.Context["caller"])
	assert.Equal(t, "kept", execution.Context["extra"])
}

func TestAbandonSuspendedExecution(t *testing.T) {
	f := newFixture(t)
	nodes, edges := menuFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.suspend["collect"] = true

	ctx := context.Background()

	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)

	abandoned, err := f.interpreter.Abandon(ctx, execution.ID, "suspended longer than 30m")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusAbandoned, abandoned.Status)
	assert.NotNil(t, abandoned.CompletedAt)

	steps, err := f.recorder.StepsByExecution(ctx, abandoned.ID)
	require.NoError(t, err)
	last := steps[len(steps)-1]
	assert.Equal(t, models.StepStatusFailed, last.Status)
	assert.Equal(t, "abandoned while suspended", last.ErrorMessage)

	// A late event for an abandoned execution is rejected.
	_, err = f.interpreter.Resume(ctx, execution.ID, map[string]any{"digits": "1"})
	assert.ErrorIs(t, err, ErrExecutionNotSuspended)
}

func TestResumeRejectsFinishedExecution(t *testing.T) {
	f := newFixture(t)
	nodes, edges := linearFlow()
	doc := publishedDoc(t, f, nodes, edges)

	execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	_, err = f.interpreter.Resume(context.Background(), execution.ID, map[string]any{"digits": "1"})
	assert.ErrorIs(t, err, ErrExecutionNotSuspended)
}

func TestBusinessHoursBoundary(t *testing.T) {
	buildDoc := func(f *fixture) *models.FlowDocument {
		return publishedDoc(t, f,
			[]*models.Node{
				{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
				{ID: "hours", Kind: models.NodeKindConditional, Subtype: models.SubtypeBusinessHours, Config: map[string]any{
					"schedule": map[string]any{
						"monday": []any{map[string]any{"start": "09:00", "end": "17:00"}},
					},
				}},
				{ID: "open", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
				{ID: "closed", Kind: models.NodeKindTerminal, Subtype: models.SubtypeVoicemail},
			},
			[]*models.Edge{
				{ID: "e1", Source: "entry", Target: "hours"},
				{ID: "e2", Source: "hours", Target: "open", Label: "within"},
				{ID: "e3", Source: "hours", Target: "closed", Label: "outside"},
			},
		)
	}

	cases := []struct {
		name    string
		clock   string
		outcome string
	}{
		{"exactly at opening", "2026-01-05T09:00:00Z", "hangup"},
		{"exactly at closing", "2026-01-05T17:00:00Z", "voicemail"},
		{"one minute before closing", "2026-01-05T16:59:00Z", "hangup"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			at, err := time.Parse(time.RFC3339, tc.clock)
			require.NoError(t, err)

			f := newFixture(t, WithClock(func() time.Time { return at }))
			doc := buildDoc(f)

			execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
			assert.Equal(t, tc.outcome, execution.Context["outcome"])
		})
	}
}

func TestAIClassifySuspendsAndResumesOnLabel(t *testing.T) {
	f := newFixture(t)
	doc := publishedDoc(t, f,
		[]*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "intent", Kind: models.NodeKindAI, Subtype: models.SubtypeClassify, Config: map[string]any{"labels": []any{"sales", "support"}}},
			{ID: "sales", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
			{ID: "support", Kind: models.NodeKindTerminal, Subtype: models.SubtypeVoicemail},
		},
		[]*models.Edge{
			{ID: "e1", Source: "entry", Target: "intent"},
			{ID: "e2", Source: "intent", Target: "sales", Label: "sales"},
			{ID: "e3", Source: "intent", Target: "support", Label: "support"},
		},
	)

	ctx := context.Background()

	// The classifier has no label: classification is asynchronous.
	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuspended, execution.Status)
	assert.Equal(t, models.SubtypeClassify, execution.WaitingOn)

	resumed, err := f.interpreter.Resume(ctx, execution.ID, map[string]any{"label": "support"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, "voicemail", resumed.Context["outcome"])
}

func TestStepBudgetStopsRunawayCycle(t *testing.T) {
	f := newFixture(t, WithMaxSteps(10))
	doc := publishedDoc(t, f,
		[]*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "a", Kind: models.NodeKindAction, Subtype: models.SubtypePlayAudio, Config: map[string]any{"audio_ref": "loop"}},
			{ID: "b", Kind: models.NodeKindAction, Subtype: models.SubtypePlayAudio, Config: map[string]any{"audio_ref": "loop"}},
			{ID: "end", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
		},
		[]*models.Edge{
			{ID: "e1", Source: "entry", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
	)

	execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "step budget")
}

func TestDeadEndNodeIsRecordedFailure(t *testing.T) {
	at, err := time.Parse(time.RFC3339, "2026-01-05T10:00:00Z") // Monday, within hours.
	require.NoError(t, err)

	f := newFixture(t, WithClock(func() time.Time { return at }))

	// The within branch leads to an action with no way forward.
	doc := publishedDoc(t, f,
		[]*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "hours", Kind: models.NodeKindConditional, Subtype: models.SubtypeBusinessHours, Config: map[string]any{
				"schedule": map[string]any{
					"monday": []any{map[string]any{"start": "09:00", "end": "17:00"}},
				},
			}},
			{ID: "stuck", Kind: models.NodeKindAction, Subtype: models.SubtypePlayAudio, Config: map[string]any{"audio_ref": "greeting"}},
			{ID: "closed", Kind: models.NodeKindTerminal, Subtype: models.SubtypeVoicemail},
		},
		[]*models.Edge{
			{ID: "e1", Source: "entry", Target: "hours"},
			{ID: "e2", Source: "hours", Target: "stuck", Label: "within"},
			{ID: "e3", Source: "hours", Target: "closed", Label: "outside"},
		},
	)

	execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, failureNoMatchingBranch)
	assert.NotNil(t, execution.CompletedAt)

	// The dead-end node did its work; only the execution fails.
	steps, err := f.recorder.StepsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	last := steps[len(steps)-1]
	assert.Equal(t, "stuck", last.NodeID)
	assert.Equal(t, models.StepStatusCompleted, last.Status)

	assert.Equal(t, events.ExecutionFailed, f.bus.types()[len(f.bus.types())-1])
}

func TestLockReleasedOnFinalStatus(t *testing.T) {
	f := newFixture(t)
	nodes, edges := menuFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.suspend["collect"] = true

	ctx := context.Background()

	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)

	// Suspended executions keep their lock entry; it may still be needed.
	_, held := f.interpreter.locks.Load(execution.ID)
	assert.True(t, held)

	resumed, err := f.interpreter.Resume(ctx, execution.ID, map[string]any{"digits": "1"})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, resumed.Status)

	_, held = f.interpreter.locks.Load(execution.ID)
	assert.False(t, held)
}

func TestLockReleasedOnAbandon(t *testing.T) {
	f := newFixture(t)
	nodes, edges := menuFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.suspend["collect"] = true

	ctx := context.Background()

	execution, err := f.interpreter.Start(ctx, doc, testCall(), false)
	require.NoError(t, err)

	_, err = f.interpreter.Abandon(ctx, execution.ID, "gave up")
	require.NoError(t, err)

	_, held := f.interpreter.locks.Load(execution.ID)
	assert.False(t, held)
}

func TestActionFailureFailsExecution(t *testing.T) {
	f := newFixture(t)
	nodes, edges := linearFlow()
	doc := publishedDoc(t, f, nodes, edges)
	f.dispatcher.fail["speak"] = fmt.Errorf("telephony speak command failed: 502 Bad Gateway")

	execution, err := f.interpreter.Start(context.Background(), doc, testCall(), false)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "502")
}
