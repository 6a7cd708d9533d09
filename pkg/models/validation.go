package models

// Validation issue codes. Errors block publishing; warnings do not.
const (
	CodeNoEntryNode          = "NO_ENTRY_NODE"
	CodeMultipleEntryNodes   = "MULTIPLE_ENTRY_NODES"
	CodeDanglingEdge         = "DANGLING_EDGE"
	CodeUnreachableNode      = "UNREACHABLE_NODE"
	CodeNoTerminalReachable  = "NO_TERMINAL_REACHABLE"
	CodeMissingBranch        = "CONDITIONAL_MISSING_BRANCH"
	CodeAmbiguousLabel       = "AMBIGUOUS_LABEL"
	CodeMissingRequiredConf  = "ACTION_MISSING_REQUIRED_CONFIG"
	CodeUnknownNodeSubtype   = "UNKNOWN_NODE_SUBTYPE"
	CodeTerminalWithOutgoing = "TERMINAL_WITH_OUTGOING_EDGE"
	CodeDeadEndNode          = "DEAD_END_NODE"
)

// IssueSeverity distinguishes blocking errors from advisory warnings.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "ERROR"
	SeverityWarning IssueSeverity = "WARNING"
)

// ValidationIssue is one finding of the flow validator.
type ValidationIssue struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
	NodeID   string        `json:"node_id,omitempty"`
	EdgeID   string        `json:"edge_id,omitempty"`
}

// ValidationSummary counts the structural features of the validated document.
type ValidationSummary struct {
	NodeCount     int `json:"node_count"`
	EdgeCount     int `json:"edge_count"`
	EntryNodes    int `json:"entry_nodes"`
	TerminalNodes int `json:"terminal_nodes"`
	ErrorCount    int `json:"error_count"`
	WarningCount  int `json:"warning_count"`
}

// ValidationResult is the full outcome of validating one document version.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
	Summary  ValidationSummary `json:"summary"`
}

// Valid reports whether the document may be published.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends a blocking issue.
func (r *ValidationResult) AddError(issue ValidationIssue) {
	issue.Severity = SeverityError
	r.Errors = append(r.Errors, issue)
	r.Summary.ErrorCount = len(r.Errors)
}

// AddWarning appends an advisory issue.
func (r *ValidationResult) AddWarning(issue ValidationIssue) {
	issue.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, issue)
	r.Summary.WarningCount = len(r.Warnings)
}
