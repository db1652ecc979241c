package validation

import (
	"fmt"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Issue is one structural or parameter violation found while checking a
// workflow, located by a path into the definition.
type Issue struct {
	Path    string
	Code    schema.ErrorCode
	Message string
}

// Result aggregates the issues found across every validation stage.
// Errors block execution; warnings are informational only.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

func (r *Result) AddError(path string, code schema.ErrorCode, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message})
}

func (r *Result) AddWarning(path string, code schema.ErrorCode, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: message})
}

// Valid reports whether the result carries no errors. Warnings don't count.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts an invalid Result into a single aggregated
// WorkflowValidation error, or nil if there are no errors.
func (r *Result) ToError() error {
	if r.Valid() {
		return nil
	}
	if len(r.Errors) == 1 {
		e := r.Errors[0]
		return schema.NewErrorf(schema.ErrCodeWorkflowValidation, "%s: %s", e.Path, e.Message)
	}

	violations := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		violations[i] = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return schema.NewErrorf(schema.ErrCodeWorkflowValidation, "workflow failed validation with %d errors", len(r.Errors)).
		WithDetails(map[string]any{"violations": violations})
}

// WorkflowValidator orchestrates the three-stage validation pipeline run
// once before a workflow's first execution pass:
//  1. Semantic: duplicate node names, unresolved edge endpoints, self-loops,
//     unregistered node types.
//  2. DAG: dependency cycles, unreachable nodes (skipped if stage 1 failed,
//     since a dangling edge makes the adjacency meaningless).
//  3. Parameters: each node's Parameters against its type's JSON Schema.
type WorkflowValidator struct {
	params *ParameterValidator
	types  NodeTypeLookup
}

// NewWorkflowValidator creates a WorkflowValidator. types may be nil to
// skip the node-type-registered check.
func NewWorkflowValidator(types NodeTypeLookup) (*WorkflowValidator, error) {
	pv, err := NewParameterValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{params: pv, types: types}, nil
}

// ValidateWorkflow runs the full pipeline and returns an aggregated error,
// or nil if the workflow is clean.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeWorkflowValidation, "workflow is nil")
	}

	result := validateSemantic(wf, wv.types)
	if !result.Valid() {
		return result.ToError()
	}

	result.Merge(validateDAG(wf))
	if !result.Valid() {
		return result.ToError()
	}

	result.Merge(wv.validateAllParameters(wf))
	return result.ToError()
}

func (wv *WorkflowValidator) validateAllParameters(wf *schema.Workflow) *Result {
	result := &Result{}
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if err := wv.params.ValidateParameters(n.Type, n.Parameters); err != nil {
			result.AddError(fmt.Sprintf("nodes[%s].parameters", n.Name), schema.ErrCodeWorkflowValidation, err.Error())
		}
	}
	return result
}

// ValidateParameters satisfies the Validator interface directly, for
// callers that want to check one node's parameters in isolation.
func (wv *WorkflowValidator) ValidateParameters(nodeType string, params map[string]any) error {
	return wv.params.ValidateParameters(nodeType, params)
}
