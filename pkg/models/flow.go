// Package models defines the core domain models for call flow orchestration.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow document version.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Editable, not executable
	FlowStatusPublished FlowStatus = "published" // Current active version, executable, immutable
	FlowStatusArchived  FlowStatus = "archived"  // Historical published version, not executable
)

// FlowDocument is one version of a call flow: a directed graph of nodes and
// labeled edges describing how a live call is routed. FlowID is the stable
// identity shared by all versions of the same flow; Version increases
// monotonically per FlowID. A published version is immutable; edits create a
// new draft.
type FlowDocument struct {
	ID          string     `json:"id"`
	FlowID      string     `json:"flow_id"`
	Version     int        `json:"version"`
	Status      FlowStatus `json:"status"      validate:"required"`
	Name        string     `json:"name"        validate:"required,min=3"`
	Description string     `json:"description"`
	Timezone    string     `json:"timezone"` // IANA zone used by business-hours conditionals
	Nodes       []*Node    `json:"nodes"`
	Edges       []*Edge    `json:"edges"`
	Owner       string     `json:"owner"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// EntryNode returns the flow's single trigger node, or nil when the document
// has none. Documents with zero or multiple trigger nodes are rejected by the
// validator before they can be published.
func (d *FlowDocument) EntryNode() *Node {
	for _, node := range d.Nodes {
		if node.Kind == NodeKindTrigger {
			return node
		}
	}

	return nil
}

// NodeByID returns the node with the given id, or nil.
func (d *FlowDocument) NodeByID(id string) *Node {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node, in document order.
func (d *FlowDocument) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range d.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// Location resolves the document timezone, falling back to UTC.
func (d *FlowDocument) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}
