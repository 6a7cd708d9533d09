// Package web provides the HTTP surface of the call flow engine: flow
// authoring, publishing, execution control, and simulation.
package web

import (
	"time"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

// CreateFlowRequest is the request body for creating a new draft flow.
type CreateFlowRequest struct {
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Timezone    string         `json:"timezone"`
	Owner       string         `json:"owner"`
	Nodes       []*models.Node `json:"nodes"       validate:"required,min=1"`
	Edges       []*models.Edge `json:"edges"`
}

// UpdateFlowRequest is the request body for editing a draft. All fields are
// optional to support partial updates.
type UpdateFlowRequest struct {
	Name        string         `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string        `json:"description,omitempty"`
	Timezone    *string        `json:"timezone,omitempty"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
	Edges       []*models.Edge `json:"edges,omitempty"`
}

// StartExecutionRequest binds an inbound call to a flow group.
type StartExecutionRequest struct {
	FlowID     string `json:"flow_id"     validate:"required"`
	CallID     string `json:"call_id"     validate:"required"`
	From       string `json:"from"`
	To         string `json:"to"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// ResumeExecutionRequest delivers an external event to a suspended execution.
type ResumeExecutionRequest struct {
	Event map[string]any `json:"event" validate:"required"`
}

// SimulateRequest is the request body for a dry run.
type SimulateRequest struct {
	FlowID     string                      `json:"flow_id,omitempty"`
	DocumentID string                      `json:"document_id,omitempty"`
	CallID     string                      `json:"call_id"            validate:"required"`
	From       string                      `json:"from"`
	To         string                      `json:"to"`
	Scenario   string                      `json:"scenario,omitempty"`
	Script     dispatcher.SimulationScript `json:"script"`
}

// CallContext converts the request into the interpreter's call snapshot.
func (r StartExecutionRequest) CallContext() models.CallContext {
	return models.CallContext{
		CallID:     r.CallID,
		From:       r.From,
		To:         r.To,
		CampaignID: r.CampaignID,
		ReceivedAt: time.Now().UTC(),
	}
}

// CallContext converts the simulation request into a call snapshot. A pinned
// script clock also pins the call's received time.
func (r SimulateRequest) CallContext() models.CallContext {
	receivedAt := time.Now().UTC()
	if r.Script.At != nil {
		receivedAt = *r.Script.At
	}

	return models.CallContext{
		CallID:     r.CallID,
		From:       r.From,
		To:         r.To,
		ReceivedAt: receivedAt,
		Scenario:   r.Scenario,
	}
}
