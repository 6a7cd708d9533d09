package models

// NodeKind is the closed set of node categories the interpreter dispatches on.
type NodeKind string

const (
	NodeKindTrigger     NodeKind = "trigger"     // Entry point (inbound call event)
	NodeKindAction      NodeKind = "action"      // Side-effecting telephony operation
	NodeKindConditional NodeKind = "conditional" // Branch on context or wall-clock time
	NodeKindAI          NodeKind = "ai"          // Branch on an external classification
	NodeKindTerminal    NodeKind = "terminal"    // Ends the call
)

// Node subtypes. Each subtype has its own config shape, decoded in config.go.
const (
	SubtypeInboundCall = "inbound_call"

	SubtypeExternalTransfer = "external_transfer"
	SubtypeQueueTransfer    = "queue_transfer"
	SubtypePlayAudio        = "play_audio"
	SubtypeTextToSpeech     = "text_to_speech"
	SubtypeCollectInput     = "collect_input"

	SubtypeBusinessHours   = "business_hours"
	SubtypeIVRMenu         = "ivr_menu"
	SubtypeCallerCondition = "caller_condition"

	SubtypeClassify = "classify"

	SubtypeHangup    = "hangup"
	SubtypeVoicemail = "voicemail"
)

// Node is one vertex of a flow graph.
type Node struct {
	ID      string         `json:"id"      validate:"required"`
	Kind    NodeKind       `json:"kind"    validate:"required"`
	Subtype string         `json:"subtype" validate:"required"`
	Name    string         `json:"name"`
	Config  map[string]any `json:"config,omitempty"`
}

// Suspends reports whether executing this node parks the call until an
// external event arrives. Only these subtypes may suspend an execution.
func (n *Node) Suspends() bool {
	switch n.Subtype {
	case SubtypeCollectInput, SubtypeQueueTransfer, SubtypeClassify:
		return true
	default:
		return false
	}
}

// Edge is a directed, optionally labeled connection between two nodes. The
// label selects the branch on conditional and AI nodes ("1", "within",
// "timeout", ...); the reserved label "default" is the fallback branch.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`
}

// EdgeLabelDefault marks the fallback edge taken when no branch label matches.
const EdgeLabelDefault = "default"

// EdgeLabelTimeout routes an IVR menu that timed out without input.
const EdgeLabelTimeout = "timeout"

// Branch labels produced by business-hours conditionals.
const (
	BranchWithinHours  = "within"
	BranchOutsideHours = "outside"
)
