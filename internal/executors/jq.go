package executors

import (
	"context"

	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// JQ implements the "jq" node: runs a jq filter against each input item's
// json payload and emits one output item per jq result. A filter that
// yields multiple results per item fans that item out into multiple
// output items, in jq's own emission order.
type JQ struct {
	engine *expressions.GoJQEngine
}

func NewJQ(engine *expressions.GoJQEngine) *JQ { return &JQ{engine: engine} }

func (n *JQ) Type() string { return "jq" }

func (n *JQ) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	filter := stringParam(node.Parameters, "query", "")
	if filter == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq: missing required parameter 'query'")
	}

	out := make(schema.Items, 0, len(input))
	for _, item := range input {
		data, _ := item.JSON.(map[string]any)
		if data == nil {
			data = map[string]any{"value": item.JSON}
		}
		results, err := n.engine.EvaluateAll(ctx, filter, data)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			out = append(out, schema.Item{JSON: r})
		}
	}
	return out, nil
}
