package interpreter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

// routingFlow exercises every branching kind: business hours, collected
// digits, and an AI intent classifier.
func routingFlow() ([]*models.Node, []*models.Edge) {
	return []*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "hours", Kind: models.NodeKindConditional, Subtype: models.SubtypeBusinessHours, Config: map[string]any{
				"schedule": map[string]any{
					"monday": []any{map[string]any{"start": "09:00", "end": "17:00"}},
				},
			}},
			{ID: "collect", Kind: models.NodeKindAction, Subtype: models.SubtypeCollectInput, Config: map[string]any{"max_digits": 1}},
			{ID: "menu", Kind: models.NodeKindConditional, Subtype: models.SubtypeIVRMenu, Config: map[string]any{"digits": []any{"1", "2"}}},
			{ID: "intent", Kind: models.NodeKindAI, Subtype: models.SubtypeClassify, Config: map[string]any{"labels": []any{"sales", "support"}}},
			{ID: "hangup", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
			{ID: "voicemail", Kind: models.NodeKindTerminal, Subtype: models.SubtypeVoicemail},
		}, []*models.Edge{
			{ID: "e1", Source: "entry", Target: "hours"},
			{ID: "e2", Source: "hours", Target: "collect", Label: "within"},
			{ID: "e3", Source: "hours", Target: "voicemail", Label: "outside"},
			{ID: "e4", Source: "collect", Target: "menu"},
			{ID: "e5", Source: "menu", Target: "intent", Label: "1"},
			{ID: "e6", Source: "menu", Target: "voicemail", Label: "2"},
			{ID: "e7", Source: "intent", Target: "hangup", Label: "sales"},
			{ID: "e8", Source: "intent", Target: "voicemail", Label: "support"},
		}
}

func nodeSequence(result *models.SimulationResult) []string {
	out := make([]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		out = append(out, step.NodeID)
	}

	return out
}

func TestSimulateHappyPath(t *testing.T) {
	f := newFixture(t)
	nodes, edges := routingFlow()
	doc := publishedDoc(t, f, nodes, edges)

	at := mustParseTime(t, "2026-01-05T10:00:00Z") // Monday, within hours.
	script := dispatcher.SimulationScript{
		Inputs: map[string]map[string]any{"collect": {"digits": "1"}},
		Labels: map[string]string{"intent": "sales"},
		At:     &at,
	}

	result, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	assert.True(t, result.Successful)
	assert.Equal(t, "hangup", result.FinalOutcome)
	assert.True(t, result.Execution.Simulated)
	assert.Equal(t, []string{"entry", "hours", "collect", "menu", "intent", "hangup"}, nodeSequence(result))
	assert.Equal(t, len(result.Steps), result.TotalSteps)

	// Simulations never publish to the bus.
	assert.Empty(t, f.bus.types())
}

// stepTrace is the replay-relevant part of a step: everything except the
// per-run identifiers.
type stepTrace struct {
	NodeID  string
	Kind    models.NodeKind
	Subtype string
	Status  models.StepStatus
	Input   map[string]any
	Output  map[string]any
}

func stepTraces(result *models.SimulationResult) []stepTrace {
	out := make([]stepTrace, 0, len(result.Steps))
	for _, step := range result.Steps {
		out = append(out, stepTrace{
			NodeID:  step.NodeID,
			Kind:    step.NodeKind,
			Subtype: step.NodeSubtype,
			Status:  step.Status,
			Input:   step.Input,
			Output:  step.Output,
		})
	}

	return out
}

func TestSimulateIsDeterministic(t *testing.T) {
	f := newFixture(t)
	nodes, edges := routingFlow()
	doc := publishedDoc(t, f, nodes, edges)

	at := mustParseTime(t, "2026-01-05T10:00:00Z")
	script := dispatcher.SimulationScript{
		Inputs: map[string]map[string]any{"collect": {"digits": "2"}},
		At:     &at,
	}

	first, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	second, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	assert.Equal(t, stepTraces(first), stepTraces(second))
	assert.Equal(t, first.FinalOutcome, second.FinalOutcome)
	assert.Equal(t, "voicemail", first.FinalOutcome)
}

func TestSimulateChainedMenusSeeTheirOwnInput(t *testing.T) {
	f := newFixture(t)

	// Two collect/menu pairs: the second menu must branch on the second
	// scripted input, not the first digits appended to the context.
	doc := publishedDoc(t, f,
		[]*models.Node{
			{ID: "entry", Kind: models.NodeKindTrigger, Subtype: models.SubtypeInboundCall},
			{ID: "collect1", Kind: models.NodeKindAction, Subtype: models.SubtypeCollectInput, Config: map[string]any{"max_digits": 1}},
			{ID: "menu1", Kind: models.NodeKindConditional, Subtype: models.SubtypeIVRMenu, Config: map[string]any{"digits": []any{"1"}}},
			{ID: "collect2", Kind: models.NodeKindAction, Subtype: models.SubtypeCollectInput, Config: map[string]any{"max_digits": 1}},
			{ID: "menu2", Kind: models.NodeKindConditional, Subtype: models.SubtypeIVRMenu, Config: map[string]any{"digits": []any{"1", "2"}}},
			{ID: "hangup", Kind: models.NodeKindTerminal, Subtype: models.SubtypeHangup},
			{ID: "voicemail", Kind: models.NodeKindTerminal, Subtype: models.SubtypeVoicemail},
		},
		[]*models.Edge{
			{ID: "e1", Source: "entry", Target: "collect1"},
			{ID: "e2", Source: "collect1", Target: "menu1"},
			{ID: "e3", Source: "menu1", Target: "collect2", Label: "1"},
			{ID: "e4", Source: "collect2", Target: "menu2"},
			{ID: "e5", Source: "menu2", Target: "hangup", Label: "1"},
			{ID: "e6", Source: "menu2", Target: "voicemail", Label: "2"},
		},
	)

	script := dispatcher.SimulationScript{
		Inputs: map[string]map[string]any{
			"collect1": {"digits": "1"},
			"collect2": {"digits": "2"},
		},
	}

	result, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	assert.True(t, result.Successful)
	assert.Equal(t, "voicemail", result.FinalOutcome)
	assert.Equal(t, []string{"entry", "collect1", "menu1", "collect2", "menu2", "voicemail"}, nodeSequence(result))

	// The second menu branched on the fresh input.
	assert.Equal(t, "2", result.Steps[4].Input["digits"])
	assert.Equal(t, "2", result.Steps[4].Output["branch"])
}

func TestSimulatePinnedClockDrivesBusinessHours(t *testing.T) {
	f := newFixture(t)
	nodes, edges := routingFlow()
	doc := publishedDoc(t, f, nodes, edges)

	// Saturday: no schedule entry, so the outside branch is taken and the
	// collect node is never reached.
	at := mustParseTime(t, "2026-01-10T10:00:00Z")
	script := dispatcher.SimulationScript{At: &at}

	result, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	assert.True(t, result.Successful)
	assert.Equal(t, "voicemail", result.FinalOutcome)
	assert.Equal(t, []string{"entry", "hours", "voicemail"}, nodeSequence(result))
}

func TestSimulateMissingScriptInputFails(t *testing.T) {
	f := newFixture(t)
	nodes, edges := routingFlow()
	doc := publishedDoc(t, f, nodes, edges)

	at := mustParseTime(t, "2026-01-05T10:00:00Z")
	script := dispatcher.SimulationScript{At: &at} // No input for "collect".

	result, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	assert.False(t, result.Successful)
	assert.Equal(t, models.ExecutionStatusFailed, result.Execution.Status)
	assert.Contains(t, result.FinalOutcome, "no input for suspending node")
}

func TestSimulateMissingLabelFails(t *testing.T) {
	f := newFixture(t)
	nodes, edges := routingFlow()
	doc := publishedDoc(t, f, nodes, edges)

	at := mustParseTime(t, "2026-01-05T10:00:00Z")
	script := dispatcher.SimulationScript{
		Inputs: map[string]map[string]any{"collect": {"digits": "1"}},
		At:     &at,
	}

	result, err := f.interpreter.Simulate(context.Background(), doc, testCall(), script)
	require.NoError(t, err)

	assert.False(t, result.Successful)
	assert.Contains(t, result.FinalOutcome, "no label for ai node")
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return parsed
}
