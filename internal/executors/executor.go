package executors

import (
	"context"
	"encoding/json"

	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Executor is the uniform node contract from :
// execute(node, inputItems, ctx) -> outputItems | NodeError.
type Executor interface {
	// Type returns the node type this executor handles (e.g. "httpRequest").
	Type() string
	// Execute runs the node against its gathered main-channel input.
	// Implementations read auxiliary channel outputs, if any, via
	// ec.Outputs[name] directly rather than through input.
	Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error)
}

// Schema optionally describes an executor's parameter contract, used by
// internal/validation to check node.Parameters before execution.
type Schema interface {
	ParameterSchema() json.RawMessage
}

// resolveParams evaluates every {{ ... }} expression in node.Parameters
// against the live execution context, returning a resolved
// copy. Parameter substitution and token injection (C1, C2) have already
// run before the engine starts; this is the per-invocation C3 pass.
func resolveParams(params map[string]any, input schema.Items, ec *schema.ExecutionContext) (map[string]any, error) {
	scope := expressions.Scope{CurrentInput: input, EC: ec}
	resolved, err := resolveTree(params, scope)
	if err != nil {
		return nil, err
	}
	m, _ := resolved.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func resolveTree(node any, scope expressions.Scope) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			sub, err := resolveTree(val, scope)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			sub, err := resolveTree(val, scope)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case string:
		if !expressions.HasInterpolation(v) {
			return v, nil
		}
		return expressions.Eval(v, scope)
	default:
		return v, nil
	}
}

// --- shared param accessors (grounded on the teacher's action param helpers) ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return defaultVal
	}
}

// credentialMissing builds the NodeError the engine's failure policy
// recognizes as the credential-missing pattern.
func credentialMissing(nodeType, what string) error {
	return schema.NewNodeError(schema.ErrCodeCredentialMissing, nodeType+": "+what+" not provided")
}
