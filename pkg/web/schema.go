package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// flowDocumentSchema is the structural contract for flow bodies at the API
// boundary. Semantic checks (entry nodes, reachability, branch coverage)
// belong to the validator; this only rejects malformed shapes before they
// reach the service layer.
const flowDocumentSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"description": {"type": "string"},
		"timezone": {"type": "string"},
		"owner": {"type": "string"},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "kind", "subtype"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"kind": {"enum": ["trigger", "action", "conditional", "ai", "terminal"]},
					"subtype": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"config": {"type": "object"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["source", "target"],
				"properties": {
					"id": {"type": "string"},
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1},
					"label": {"type": "string"}
				}
			}
		}
	}
}`

var compiledFlowSchema = gojsonschema.NewStringLoader(flowDocumentSchema)

// validateFlowShape checks the raw request body against the document schema
// and returns a readable summary of what is malformed.
func validateFlowShape(body []byte) error {
	result, err := gojsonschema.Validate(compiledFlowSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		details = append(details, issue.String())
	}

	return fmt.Errorf("malformed flow document: %s", strings.Join(details, "; "))
}
