package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/callwise/callflow/pkg/models"
)

// SimulationScript supplies the external world for a dry run: the DTMF input,
// queue outcomes, and classification labels that would normally arrive as
// events while the execution is suspended. Keys are node ids.
type SimulationScript struct {
	// Inputs maps a suspending node id to the event payload the simulation
	// feeds it, e.g. {"digits": "2"} for a collect_input node.
	Inputs map[string]map[string]any `json:"inputs,omitempty"`

	// Labels maps an AI node id to the classification label to take.
	Labels map[string]string `json:"labels,omitempty"`

	// At pins the wall clock for the run so business-hours branches are
	// deterministic. Zero means the current time.
	At *time.Time `json:"at,omitempty"`
}

// SimulationDispatcher is the mock ActionDispatcher used by dry runs. It
// performs no side effects: every action reports success immediately, and
// suspending actions resolve from the script instead of parking the call.
// The interpreter runs the same code path as for live executions.
type SimulationDispatcher struct {
	script SimulationScript
	logger *slog.Logger
}

func NewSimulationDispatcher(script SimulationScript, logger *slog.Logger) *SimulationDispatcher {
	return &SimulationDispatcher{
		script: script,
		logger: logger.With("module", "simulation"),
	}
}

func (d *SimulationDispatcher) Dispatch(ctx context.Context, node *models.Node, _ map[string]any) (*Result, error) {
	output := map[string]any{
		"simulated": true,
		"action":    node.Subtype,
	}

	var event map[string]any

	if node.Suspends() {
		scripted, ok := d.script.Inputs[node.ID]
		if !ok {
			return nil, fmt.Errorf("simulation script has no input for suspending node %s (%s)", node.ID, node.Subtype)
		}

		// The scripted payload stands in for the event a live execution
		// would receive on resume; it must reach the next node the same
		// way, not only through the append-only context snapshot.
		event = scripted

		for key, value := range scripted {
			output[key] = value
		}
	}

	d.logger.DebugContext(ctx, "Simulated action", "node_id", node.ID, "subtype", node.Subtype)

	return &Result{Output: output, Event: event}, nil
}

// Classify resolves AI branches from the script.
func (d *SimulationDispatcher) Classify(_ context.Context, node *models.Node, _ map[string]any) (string, error) {
	label, ok := d.script.Labels[node.ID]
	if !ok {
		return "", fmt.Errorf("simulation script has no label for ai node %s", node.ID)
	}

	return label, nil
}
