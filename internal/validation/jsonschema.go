package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// builtinParameterSchemas holds the JSON Schema (Draft 2020-12) for the
// parameters of every node type the runner ships with. Node types absent
// from this map are not parameter-checked: plugin or custom node types
// are expected to carry their own validation inside their executor.
var builtinParameterSchemas = map[string]string{
	"code": `{
		"type": "object",
		"required": ["code"],
		"properties": { "code": { "type": "string", "minLength": 1 } }
	}`,
	"executeCommand": `{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": { "type": "string", "minLength": 1 },
			"allowNetwork": { "type": "boolean" },
			"timeoutSeconds": { "type": "integer", "minimum": 0 }
		}
	}`,
	"if": `{
		"type": "object",
		"required": ["condition"],
		"properties": { "condition": { "type": "string", "minLength": 1 } }
	}`,
	"switch": `{
		"type": "object",
		"required": ["cases"],
		"properties": {
			"cases": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["condition"],
					"properties": { "condition": { "type": "string" } }
				}
			}
		}
	}`,
	"httpRequest": `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": { "type": "string", "minLength": 1 },
			"method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"] },
			"bodyEncoding": { "type": "string", "enum": ["json", "form", "raw"] },
			"followRedirects": { "type": "boolean" },
			"maxRedirects": { "type": "integer", "minimum": 0 },
			"tlsSkipVerify": { "type": "boolean" },
			"failOnErrorStatus": { "type": "boolean" },
			"timeout": { "type": "string" },
			"headers": { "type": "object" },
			"authentication": { "type": "object" }
		}
	}`,
	"jq": `{
		"type": "object",
		"required": ["query"],
		"properties": { "query": { "type": "string", "minLength": 1 } }
	}`,
	"set": `{
		"type": "object",
		"properties": { "fields": { "type": "object" } }
	}`,
	"merge": `{
		"type": "object",
		"properties": { "otherSource": { "type": "string" } }
	}`,
	"limit": `{
		"type": "object",
		"properties": {
			"maxItems": { "type": "integer" },
			"keepLast": { "type": "boolean" }
		}
	}`,
	"wait": `{
		"type": "object",
		"properties": { "seconds": { "type": "integer", "minimum": 0 } }
	}`,
	"splitInBatches": `{
		"type": "object",
		"properties": { "batchSize": { "type": "integer", "minimum": 1 } }
	}`,
	"fsTrigger": `{
		"type": "object",
		"required": ["path"],
		"properties": { "path": { "type": "string", "minLength": 1 } }
	}`,
}

// ParameterValidator checks a node's Parameters map against the JSON
// Schema registered for its node type. It is safe for concurrent use.
type ParameterValidator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewParameterValidator compiles the builtin parameter schemas once at
// construction time.
func NewParameterValidator() (*ParameterValidator, error) {
	pv := &ParameterValidator{schemas: make(map[string]*jsonschema.Schema, len(builtinParameterSchemas))}

	for nodeType, raw := range builtinParameterSchemas {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal parameter schema for %q: %w", nodeType, err)
		}

		url := "runner://node-params/" + nodeType
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add parameter schema resource for %q: %w", nodeType, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile parameter schema for %q: %w", nodeType, err)
		}
		pv.schemas[nodeType] = compiled
	}

	return pv, nil
}

// ValidateParameters checks node.Parameters against the schema registered
// for nodeType. A node type with no registered schema passes untouched.
func (pv *ParameterValidator) ValidateParameters(nodeType string, params map[string]any) error {
	pv.mu.RLock()
	compiled, ok := pv.schemas[nodeType]
	pv.mu.RUnlock()
	if !ok {
		return nil
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeWorkflowValidation, "failed to serialize parameters").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toParameterError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// that numeric values become json.Number, as required by the jsonschema
// library's Validate.
func toJSONValue(v map[string]any) (any, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toParameterError converts a jsonschema.ValidationError into the
// engine's error type, collecting every leaf violation with its
// instance location.
func toParameterError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeWorkflowValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeWorkflowValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeWorkflowValidation, violations[0])
	}

	msg := fmt.Sprintf("parameters failed validation with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeWorkflowValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
