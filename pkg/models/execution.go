package models

import "time"

// ExecutionStatus is the lifecycle state of one flow execution.
type ExecutionStatus string

const (
	ExecutionStatusInitiated ExecutionStatus = "initiated"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusAbandoned ExecutionStatus = "abandoned"
)

// Terminal reports whether the status permits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusAbandoned:
		return true
	default:
		return false
	}
}

// Execution is one running (or finished) instantiation of a published flow
// version, bound to a live call or a simulation. It is mutated exclusively by
// the interpreter; Context is append-only — keys are never overwritten.
type Execution struct {
	ID            string          `json:"id"`
	FlowID        string          `json:"flow_id"`
	FlowVersion   int             `json:"flow_version"`
	DocumentID    string          `json:"document_id"` // Published FlowDocument this execution is bound to
	CallID        string          `json:"call_id"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id,omitempty"`
	Context       map[string]any  `json:"context,omitempty"`
	WaitingOn     string          `json:"waiting_on,omitempty"` // Node subtype the execution suspended at
	Simulated     bool            `json:"simulated,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	SuspendedAt   *time.Time      `json:"suspended_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// StepStatus is the lifecycle state of one execution step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ExecutionStep is the write-once audit record of one node's processing
// within an execution. Steps are totally ordered by Seq.
type ExecutionStep struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	Seq          int            `json:"seq"`
	NodeID       string         `json:"node_id"`
	NodeKind     NodeKind       `json:"node_kind"`
	NodeSubtype  string         `json:"node_subtype"`
	Status       StepStatus     `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// CallContext is the per-call input snapshot an execution starts from.
type CallContext struct {
	CallID     string    `json:"call_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	CampaignID string    `json:"campaign_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Scenario   string    `json:"scenario,omitempty"` // Simulation scenario label, empty for live calls
}

// Seed returns the initial execution context derived from the call snapshot.
func (c CallContext) Seed() map[string]any {
	seed := map[string]any{
		"call_id":     c.CallID,
		"caller":      c.From,
		"called":      c.To,
		"received_at": c.ReceivedAt.UTC().Format(time.RFC3339),
	}

	if c.CampaignID != "" {
		seed["campaign_id"] = c.CampaignID
	}

	if c.Scenario != "" {
		seed["scenario"] = c.Scenario
	}

	return seed
}

// SimulationResult is the outcome of a dry run: the full ordered step history
// plus a summary.
type SimulationResult struct {
	Execution     *Execution       `json:"execution"`
	Steps         []*ExecutionStep `json:"steps"`
	TotalSteps    int              `json:"total_steps"`
	TotalDuration time.Duration    `json:"total_duration"`
	FinalOutcome  string           `json:"final_outcome"`
	Successful    bool             `json:"successful"`
}
