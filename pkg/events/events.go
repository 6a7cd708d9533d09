// Package events defines the execution lifecycle events published to the
// message bus.
package events

import (
	"time"

	"github.com/callwise/callflow/pkg/models"
)

// Topic is the bus topic all execution lifecycle events are published on.
const Topic = "callflow.executions"

// EventType identifies an execution lifecycle transition.
type EventType string

const (
	ExecutionStarted   EventType = "execution.started"
	ExecutionSuspended EventType = "execution.suspended"
	ExecutionResumed   EventType = "execution.resumed"
	ExecutionCompleted EventType = "execution.completed"
	ExecutionFailed    EventType = "execution.failed"
	ExecutionAbandoned EventType = "execution.abandoned"
)

// ExecutionEvent is one lifecycle transition of an execution. Events with the
// same ExecutionID are published in transition order.
type ExecutionEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id"`
	FlowVersion int                    `json:"flow_version"`
	CallID      string                 `json:"call_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	Status      models.ExecutionStatus `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}
