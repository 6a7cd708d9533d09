package interpreter

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"

	"github.com/callwise/callflow/pkg/models"
)

// evaluateConditional resolves the branch label for a conditional node.
// pendingEvent is the payload of the event that just resumed the execution,
// if any; it takes precedence over the context snapshot so re-prompts see
// fresh input rather than the first value ever appended.
func evaluateConditional(doc *models.FlowDocument, node *models.Node, executionContext, pendingEvent map[string]any, now time.Time) (string, error) {
	switch node.Subtype {
	case models.SubtypeBusinessHours:
		return evaluateBusinessHours(doc, node, now)
	case models.SubtypeIVRMenu:
		return evaluateIVRMenu(node, executionContext, pendingEvent)
	case models.SubtypeCallerCondition:
		return evaluateCallerCondition(node, executionContext)
	default:
		return "", fmt.Errorf("unknown conditional subtype %q on node %s", node.Subtype, node.ID)
	}
}

func evaluateBusinessHours(doc *models.FlowDocument, node *models.Node, now time.Time) (string, error) {
	cfg, err := node.BusinessHoursConfig()
	if err != nil {
		return "", err
	}

	location := doc.Location()

	if cfg.Timezone != "" {
		override, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return "", fmt.Errorf("node %s has invalid timezone %q: %w", node.ID, cfg.Timezone, err)
		}

		location = override
	}

	if cfg.Schedule.Within(now.In(location)) {
		return models.BranchWithinHours, nil
	}

	return models.BranchOutsideHours, nil
}

func evaluateIVRMenu(node *models.Node, executionContext, pendingEvent map[string]any) (string, error) {
	cfg, err := node.IVRMenuConfig()
	if err != nil {
		return "", err
	}

	// Timeouts are only meaningful on the event that resumed the execution;
	// a stale timeout in the snapshot must not break later menus.
	if timedOut, _ := pendingEvent["input_timeout"].(bool); timedOut {
		if cfg.TimeoutSeconds > 0 {
			return models.EdgeLabelTimeout, nil
		}

		return "", fmt.Errorf("node %s received an input timeout but declares none", node.ID)
	}

	digits, ok := lookupString(pendingEvent, executionContext, "digits")
	if !ok || digits == "" {
		return "", fmt.Errorf("node %s has no digits to branch on", node.ID)
	}

	return models.NormalizeDigit(digits), nil
}

func evaluateCallerCondition(node *models.Node, executionContext map[string]any) (string, error) {
	cfg, err := node.CallerConditionConfig()
	if err != nil {
		return "", err
	}

	program, err := expr.Compile(cfg.Expression, expr.AllowUndefinedVariables())
	if err != nil {
		return "", fmt.Errorf("node %s has invalid expression: %w", node.ID, err)
	}

	result, err := expr.Run(program, executionContext)
	if err != nil {
		return "", fmt.Errorf("node %s expression failed: %w", node.ID, err)
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case bool:
		// Boolean expressions branch on "true"/"false" labels.
		return fmt.Sprintf("%t", v), nil
	default:
		return "", fmt.Errorf("node %s expression yielded %T, want a branch label", node.ID, result)
	}
}

// branchEdge selects the outgoing edge matching the label, falling back to
// the default edge. Returns nil when neither exists.
func branchEdge(doc *models.FlowDocument, node *models.Node, label string) *models.Edge {
	var fallback *models.Edge

	for _, edge := range doc.OutgoingEdges(node.ID) {
		switch {
		case edge.Label == label || models.NormalizeDigit(edge.Label) == label:
			return edge
		case edge.Label == models.EdgeLabelDefault && fallback == nil:
			fallback = edge
		}
	}

	return fallback
}

// followEdge selects the single continuation edge of a non-branching node:
// its unlabeled or default edge, or its only outgoing edge.
func followEdge(doc *models.FlowDocument, node *models.Node) *models.Edge {
	edges := doc.OutgoingEdges(node.ID)

	for _, edge := range edges {
		if edge.Label == "" || edge.Label == models.EdgeLabelDefault {
			return edge
		}
	}

	if len(edges) == 1 {
		return edges[0]
	}

	return nil
}

func lookupString(pendingEvent, executionContext map[string]any, key string) (string, bool) {
	if v, ok := pendingEvent[key].(string); ok {
		return v, true
	}

	v, ok := executionContext[key].(string)

	return v, ok
}
