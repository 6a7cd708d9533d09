package models

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeConfigError reports a missing or malformed config key on a node.
type NodeConfigError struct {
	NodeID  string
	Subtype string
	Key     string
	Reason  string
}

func (e *NodeConfigError) Error() string {
	return fmt.Sprintf("node %s (%s): config key %q %s", e.NodeID, e.Subtype, e.Key, e.Reason)
}

func missingKey(n *Node, key string) error {
	return &NodeConfigError{NodeID: n.ID, Subtype: n.Subtype, Key: key, Reason: "is required"}
}

func badKey(n *Node, key, reason string) error {
	return &NodeConfigError{NodeID: n.ID, Subtype: n.Subtype, Key: key, Reason: reason}
}

// TransferConfig configures an external (PSTN/SIP URI) transfer.
type TransferConfig struct {
	Destination string // E.164 number or SIP URI
	CallerID    string
}

// QueueTransferConfig configures a transfer into an agent queue.
type QueueTransferConfig struct {
	QueueID  string
	Priority int
}

// PlayAudioConfig references a stored prompt to play to the caller.
type PlayAudioConfig struct {
	AudioRef string
	Loop     int
}

// TTSConfig configures a synthesized speech prompt.
type TTSConfig struct {
	Text  string
	Voice string
}

// CollectInputConfig configures bare digit collection (no menu semantics).
type CollectInputConfig struct {
	MinDigits int
	MaxDigits int
	PromptRef string
}

// BusinessHoursConfig configures a within/outside wall-clock check.
type BusinessHoursConfig struct {
	Schedule WeeklySchedule
	Timezone string // Overrides the document timezone when set
}

// IVRMenuConfig configures a DTMF menu.
type IVRMenuConfig struct {
	Digits         []string // Enabled digits: "0"-"9", "*", "#"
	TimeoutSeconds int
	PromptRef      string
}

// CallerConditionConfig configures an expression branch over the call context.
type CallerConditionConfig struct {
	Expression string   // expr-lang expression evaluated against the context snapshot
	Labels     []string // Branch labels the expression may yield
}

// ClassifyConfig configures an AI classification branch.
type ClassifyConfig struct {
	Labels []string
	Model  string
}

func (n *Node) TransferConfig() (*TransferConfig, error) {
	dest, ok := stringValue(n.Config, "destination")
	if !ok || dest == "" {
		return nil, missingKey(n, "destination")
	}

	callerID, _ := stringValue(n.Config, "caller_id")

	return &TransferConfig{Destination: dest, CallerID: callerID}, nil
}

func (n *Node) QueueTransferConfig() (*QueueTransferConfig, error) {
	queueID, ok := stringValue(n.Config, "queue_id")
	if !ok || queueID == "" {
		return nil, missingKey(n, "queue_id")
	}

	priority, _ := intValue(n.Config, "priority")

	return &QueueTransferConfig{QueueID: queueID, Priority: priority}, nil
}

func (n *Node) PlayAudioConfig() (*PlayAudioConfig, error) {
	ref, ok := stringValue(n.Config, "audio_ref")
	if !ok || ref == "" {
		return nil, missingKey(n, "audio_ref")
	}

	loop, _ := intValue(n.Config, "loop")

	return &PlayAudioConfig{AudioRef: ref, Loop: loop}, nil
}

func (n *Node) TTSConfig() (*TTSConfig, error) {
	text, ok := stringValue(n.Config, "text")
	if !ok || text == "" {
		return nil, missingKey(n, "text")
	}

	voice, _ := stringValue(n.Config, "voice")

	return &TTSConfig{Text: text, Voice: voice}, nil
}

func (n *Node) CollectInputConfig() (*CollectInputConfig, error) {
	maxDigits, ok := intValue(n.Config, "max_digits")
	if !ok || maxDigits <= 0 {
		return nil, missingKey(n, "max_digits")
	}

	minDigits, ok := intValue(n.Config, "min_digits")
	if !ok || minDigits <= 0 {
		minDigits = 1
	}

	promptRef, _ := stringValue(n.Config, "prompt_ref")

	return &CollectInputConfig{MinDigits: minDigits, MaxDigits: maxDigits, PromptRef: promptRef}, nil
}

func (n *Node) BusinessHoursConfig() (*BusinessHoursConfig, error) {
	raw, ok := n.Config["schedule"]
	if !ok {
		return nil, missingKey(n, "schedule")
	}

	schedule, err := ParseWeeklySchedule(raw)
	if err != nil {
		return nil, badKey(n, "schedule", err.Error())
	}

	tz, _ := stringValue(n.Config, "timezone")

	return &BusinessHoursConfig{Schedule: schedule, Timezone: tz}, nil
}

func (n *Node) IVRMenuConfig() (*IVRMenuConfig, error) {
	digits, ok := stringSlice(n.Config, "digits")
	if !ok || len(digits) == 0 {
		return nil, missingKey(n, "digits")
	}

	for _, d := range digits {
		if !validDigit(d) {
			return nil, badKey(n, "digits", fmt.Sprintf("contains invalid digit %q", d))
		}
	}

	timeout, _ := intValue(n.Config, "timeout_seconds")
	promptRef, _ := stringValue(n.Config, "prompt_ref")

	return &IVRMenuConfig{Digits: digits, TimeoutSeconds: timeout, PromptRef: promptRef}, nil
}

func (n *Node) CallerConditionConfig() (*CallerConditionConfig, error) {
	expression, ok := stringValue(n.Config, "expression")
	if !ok || expression == "" {
		return nil, missingKey(n, "expression")
	}

	labels, ok := stringSlice(n.Config, "labels")
	if !ok || len(labels) == 0 {
		return nil, missingKey(n, "labels")
	}

	return &CallerConditionConfig{Expression: expression, Labels: labels}, nil
}

func (n *Node) ClassifyConfig() (*ClassifyConfig, error) {
	labels, ok := stringSlice(n.Config, "labels")
	if !ok || len(labels) == 0 {
		return nil, missingKey(n, "labels")
	}

	model, _ := stringValue(n.Config, "model")

	return &ClassifyConfig{Labels: labels, Model: model}, nil
}

// BranchLabels returns the branch labels a conditional or AI node declares in
// its config. The validator requires a matching outgoing edge (or a default
// edge) for each. Returns nil for node kinds that do not branch.
func (n *Node) BranchLabels() ([]string, error) {
	switch n.Subtype {
	case SubtypeBusinessHours:
		if _, err := n.BusinessHoursConfig(); err != nil {
			return nil, err
		}

		return []string{BranchWithinHours, BranchOutsideHours}, nil
	case SubtypeIVRMenu:
		cfg, err := n.IVRMenuConfig()
		if err != nil {
			return nil, err
		}

		labels := NormalizeDigits(cfg.Digits)
		if cfg.TimeoutSeconds > 0 {
			labels = append(labels, EdgeLabelTimeout)
		}

		return labels, nil
	case SubtypeCallerCondition:
		cfg, err := n.CallerConditionConfig()
		if err != nil {
			return nil, err
		}

		return cfg.Labels, nil
	case SubtypeClassify:
		cfg, err := n.ClassifyConfig()
		if err != nil {
			return nil, err
		}

		return cfg.Labels, nil
	default:
		return nil, nil
	}
}

// NormalizeDigits canonicalizes digit labels so "01" and "1" compare equal and
// "*"/"#" pass through untouched.
func NormalizeDigits(digits []string) []string {
	out := make([]string, 0, len(digits))
	for _, d := range digits {
		out = append(out, NormalizeDigit(d))
	}

	return out
}

// NormalizeDigit canonicalizes a single digit label.
func NormalizeDigit(d string) string {
	d = strings.TrimSpace(d)
	if v, err := strconv.Atoi(d); err == nil {
		return strconv.Itoa(v)
	}

	return d
}

func validDigit(d string) bool {
	d = NormalizeDigit(d)
	if d == "*" || d == "#" {
		return true
	}

	return len(d) == 1 && d[0] >= '0' && d[0] <= '9'
}

func stringValue(config map[string]any, key string) (string, bool) {
	v, ok := config[key].(string)

	return v, ok
}

func intValue(config map[string]any, key string) (int, bool) {
	switch v := config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)

		return n, err == nil
	default:
		return 0, false
	}
}

func stringSlice(config map[string]any, key string) ([]string, bool) {
	switch v := config[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}

			out = append(out, s)
		}

		return out, true
	default:
		return nil, false
	}
}
