package executors

import (
	"context"
	"time"

	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

const defaultCodeTimeout = 10 * time.Second

// Code implements the "code" node: a user-supplied expr-lang expression
// evaluated once per input item against {item, json, tokens}. expr-lang
// runs in-process, so the only resource limit that applies is a
// per-item wall clock budget, not process isolation.
type Code struct {
	engine  *expressions.ExprEngine
	timeout time.Duration
}

func NewCode(engine *expressions.ExprEngine, timeout time.Duration) *Code {
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	}
	return &Code{engine: engine, timeout: timeout}
}

func (n *Code) Type() string { return "code" }

func (n *Code) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	snippet := stringParam(node.Parameters, "code", "")
	if snippet == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "code: missing required parameter 'code'")
	}

	items := input
	if len(items) == 0 {
		items = schema.Items{{JSON: map[string]any{}}}
	}

	out := make(schema.Items, 0, len(items))
	for _, item := range items {
		runCtx, cancel := context.WithTimeout(ctx, n.timeout)
		result, err := n.engine.Evaluate(runCtx, snippet, map[string]any{
			"item":   item.JSON,
			"json":   item.JSON,
			"tokens": ec.Tokens,
		})
		cancel()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "code: %v", err).WithCause(err)
		}
		out = append(out, schema.Item{JSON: result})
	}
	return out, nil
}
