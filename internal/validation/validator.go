package validation

import "github.com/Dalaqa25/automation-runner/pkg/schema"

// Validator checks a workflow graph for correctness before the engine
// runs its first pass, and checks ad hoc parameter maps against the
// schema registered for a node type.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateParameters(nodeType string, params map[string]any) error
}
