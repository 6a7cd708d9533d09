// Package dispatcher defines the boundary between the flow interpreter and
// the systems that actually act on a call: the telephony platform, agent
// queues, and AI classifiers. The interpreter never talks to a vendor
// directly; it hands the node to a dispatcher and acts on the result.
package dispatcher

import (
	"context"
	"errors"

	"github.com/callwise/callflow/pkg/models"
)

// ErrAsyncCompletion signals that an operation's outcome arrives later as an
// external event. The interpreter suspends the execution and waits for a
// resume carrying the event payload.
var ErrAsyncCompletion = errors.New("result arrives asynchronously")

// Result is what a dispatched action produced.
type Result struct {
	// Output is merged into the execution context snapshot. Keys already
	// present in the snapshot are preserved, not overwritten.
	Output map[string]any

	// Suspended reports that the action parked the call; the execution
	// waits for an external event before continuing.
	Suspended bool

	// Event carries an external event resolved inline, for dispatchers that
	// answer a normally-suspending action synchronously. The interpreter
	// hands it to the next node exactly as a resume event.
	Event map[string]any
}

// ActionDispatcher invokes one action node against the outside world.
// Implementations must be safe for concurrent use: the interpreter runs many
// executions at once.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, node *models.Node, executionContext map[string]any) (*Result, error)
}

// Classifier resolves the branch label for an AI node. Live implementations
// return ErrAsyncCompletion when classification happens out of band; the
// label then arrives via a resume event.
type Classifier interface {
	Classify(ctx context.Context, node *models.Node, executionContext map[string]any) (string, error)
}
