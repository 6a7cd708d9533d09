package flow

import (
	"fmt"
	"slices"

	"github.com/callwise/callflow/pkg/models"
)

// Validate statically analyzes one flow document version. It is a pure
// function: malformed-but-parseable documents produce issues, never errors.
// Cycles are legal (replay-menu loops); only a graph where no terminal stays
// reachable from the entry is rejected.
func Validate(doc *models.FlowDocument) *models.ValidationResult {
	result := &models.ValidationResult{
		Errors:   []models.ValidationIssue{},
		Warnings: []models.ValidationIssue{},
	}
	result.Summary.NodeCount = len(doc.Nodes)
	result.Summary.EdgeCount = len(doc.Edges)

	checkEntryNodes(doc, result)
	checkDanglingEdges(doc, result)
	checkNodeConfigs(doc, result)
	checkEdgeLabels(doc, result)
	checkReachability(doc, result)

	return result
}

func checkEntryNodes(doc *models.FlowDocument, result *models.ValidationResult) {
	var entries []*models.Node

	for _, node := range doc.Nodes {
		switch node.Kind {
		case models.NodeKindTrigger:
			entries = append(entries, node)
		case models.NodeKindTerminal:
			result.Summary.TerminalNodes++
		}
	}

	result.Summary.EntryNodes = len(entries)

	switch {
	case len(entries) == 0:
		result.AddError(models.ValidationIssue{
			Code:    models.CodeNoEntryNode,
			Message: "flow has no trigger node",
		})
	case len(entries) > 1:
		for _, node := range entries[1:] {
			result.AddError(models.ValidationIssue{
				Code:    models.CodeMultipleEntryNodes,
				Message: fmt.Sprintf("flow has more than one trigger node; extra trigger %s", node.ID),
				NodeID:  node.ID,
			})
		}
	}
}

func checkDanglingEdges(doc *models.FlowDocument, result *models.ValidationResult) {
	known := make(map[string]bool, len(doc.Nodes))
	for _, node := range doc.Nodes {
		known[node.ID] = true
	}

	for _, edge := range doc.Edges {
		if !known[edge.Source] {
			result.AddError(models.ValidationIssue{
				Code:    models.CodeDanglingEdge,
				Message: fmt.Sprintf("edge %s references unknown source node %q", edge.ID, edge.Source),
				EdgeID:  edge.ID,
			})
		}

		if !known[edge.Target] {
			result.AddError(models.ValidationIssue{
				Code:    models.CodeDanglingEdge,
				Message: fmt.Sprintf("edge %s references unknown target node %q", edge.ID, edge.Target),
				EdgeID:  edge.ID,
			})
		}
	}
}

// checkNodeConfigs verifies subtype-specific required config per node. The
// closed switch over subtypes keeps the required-key checks exhaustive.
func checkNodeConfigs(doc *models.FlowDocument, result *models.ValidationResult) {
	for _, node := range doc.Nodes {
		var err error

		switch node.Subtype {
		case models.SubtypeInboundCall, models.SubtypeHangup, models.SubtypeVoicemail:
			// No required config.
		case models.SubtypeExternalTransfer:
			_, err = node.TransferConfig()
		case models.SubtypeQueueTransfer:
			_, err = node.QueueTransferConfig()
		case models.SubtypePlayAudio:
			_, err = node.PlayAudioConfig()
		case models.SubtypeTextToSpeech:
			_, err = node.TTSConfig()
		case models.SubtypeCollectInput:
			_, err = node.CollectInputConfig()
		case models.SubtypeBusinessHours:
			_, err = node.BusinessHoursConfig()
		case models.SubtypeIVRMenu:
			_, err = node.IVRMenuConfig()
		case models.SubtypeCallerCondition:
			_, err = node.CallerConditionConfig()
		case models.SubtypeClassify:
			_, err = node.ClassifyConfig()
		default:
			result.AddError(models.ValidationIssue{
				Code:    models.CodeUnknownNodeSubtype,
				Message: fmt.Sprintf("node %s has unknown subtype %q", node.ID, node.Subtype),
				NodeID:  node.ID,
			})

			continue
		}

		if err != nil {
			result.AddError(models.ValidationIssue{
				Code:    models.CodeMissingRequiredConf,
				Message: err.Error(),
				NodeID:  node.ID,
			})
		}
	}
}

// checkEdgeLabels verifies that branching nodes cover every declared branch
// (or carry an explicit default), that labels are unambiguous, and that only
// terminal nodes end the graph.
func checkEdgeLabels(doc *models.FlowDocument, result *models.ValidationResult) {
	for _, node := range doc.Nodes {
		outgoing := doc.OutgoingEdges(node.ID)

		if node.Kind == models.NodeKindTerminal && len(outgoing) > 0 {
			result.AddError(models.ValidationIssue{
				Code:    models.CodeTerminalWithOutgoing,
				Message: fmt.Sprintf("terminal node %s has outgoing edges", node.ID),
				NodeID:  node.ID,
			})

			continue
		}

		// A reached dead end always fails the execution at run time.
		if node.Kind != models.NodeKindTerminal && len(outgoing) == 0 {
			result.AddWarning(models.ValidationIssue{
				Code:    models.CodeDeadEndNode,
				Message: fmt.Sprintf("non-terminal node %s has no outgoing edge", node.ID),
				NodeID:  node.ID,
			})

			continue
		}

		seen := make(map[string]bool, len(outgoing))
		hasDefault := false

		for _, edge := range outgoing {
			label := edge.Label
			if node.Subtype == models.SubtypeIVRMenu {
				label = models.NormalizeDigit(label)
			}

			if label == models.EdgeLabelDefault {
				hasDefault = true
			}

			if label != "" && seen[label] {
				result.AddError(models.ValidationIssue{
					Code:    models.CodeAmbiguousLabel,
					Message: fmt.Sprintf("node %s has two outgoing edges labeled %q", node.ID, label),
					NodeID:  node.ID,
				})
			}

			seen[label] = true
		}

		branches, err := node.BranchLabels()
		if err != nil {
			// Already reported by checkNodeConfigs.
			continue
		}

		if branches == nil || hasDefault {
			continue
		}

		var missing []string

		for _, branch := range branches {
			if !seen[branch] {
				missing = append(missing, branch)
			}
		}

		if len(missing) > 0 {
			slices.Sort(missing)
			result.AddError(models.ValidationIssue{
				Code: models.CodeMissingBranch,
				Message: fmt.Sprintf(
					"node %s declares branches %v with no matching edge and no default edge", node.ID, missing),
				NodeID: node.ID,
			})
		}
	}
}

func checkReachability(doc *models.FlowDocument, result *models.ValidationResult) {
	entry := doc.EntryNode()
	if entry == nil {
		// Without an entry the reachability checks are meaningless.
		return
	}

	g := buildGraph(doc)
	fromEntry := g.reachable(g.index[entry.ID], false)

	for i, node := range doc.Nodes {
		if !fromEntry[i] {
			result.AddWarning(models.ValidationIssue{
				Code:    models.CodeUnreachableNode,
				Message: fmt.Sprintf("node %s is not reachable from the entry node", node.ID),
				NodeID:  node.ID,
			})
		}
	}

	var terminals []int

	for i, node := range doc.Nodes {
		if node.Kind == models.NodeKindTerminal {
			terminals = append(terminals, i)
		}
	}

	// At least one terminal must be forward-reachable from the entry. The
	// backward sweep from all terminals intersected with the forward set
	// answers that without enumerating paths.
	toTerminal := g.reachableFromAll(terminals, true)
	ok := false

	for i := range doc.Nodes {
		if fromEntry[i] && toTerminal[i] && doc.Nodes[i].Kind == models.NodeKindTerminal {
			ok = true

			break
		}
	}

	if !ok {
		result.AddError(models.ValidationIssue{
			Code:    models.CodeNoTerminalReachable,
			Message: "no terminal node is reachable from the entry node",
		})
	}
}
