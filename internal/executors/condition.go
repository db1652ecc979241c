package executors

import (
	"context"

	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// If implements the two-output conditional node: items whose "condition"
// CEL expression is truthy go to the stored main[0] slot, the rest to
// main[1]. Per the single-stored-output-per-source convention, only one
// slot is ever recorded in ec.Outputs — the other is implicitly empty.
type If struct {
	cel *expressions.CELEngine
}

func NewIf(cel *expressions.CELEngine) *If { return &If{cel: cel} }

func (n *If) Type() string { return "if" }

func (n *If) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	expr := stringParam(node.Parameters, "condition", "")
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "if: missing required parameter 'condition'")
	}

	var trueItems, falseItems schema.Items
	for _, item := range input {
		ok, err := n.evalBool(ctx, expr, item, ec)
		if err != nil {
			return nil, err
		}
		if ok {
			trueItems = append(trueItems, item)
		} else {
			falseItems = append(falseItems, item)
		}
	}
	return trueItems, nil
}

func (n *If) evalBool(ctx context.Context, expr string, item schema.Item, ec *schema.ExecutionContext) (bool, error) {
	data := map[string]any{
		"inputs":  item.JSON,
		"context": ec.Tokens,
	}
	out, err := n.cel.Evaluate(ctx, expr, data)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

// Switch implements the multi-branch routing node: each item is routed to
// the first matching case's output slot by evaluating cases in order. The
// case list comes from node.Parameters["cases"], each a {"condition": ...}
// object; unmatched items fall through to the last (default) slot. Per
// the single-stored-output-per-source convention, only slot 0 — the
// first case — is ever recorded in ec.Outputs; every other case's items
// are routed internally but implicitly empty downstream.
type Switch struct {
	cel *expressions.CELEngine
}

func NewSwitch(cel *expressions.CELEngine) *Switch { return &Switch{cel: cel} }

func (n *Switch) Type() string { return "switch" }

func (n *Switch) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	rawCases, _ := node.Parameters["cases"].([]any)
	conditions := make([]string, 0, len(rawCases))
	for _, rc := range rawCases {
		caseObj, _ := rc.(map[string]any)
		conditions = append(conditions, stringParam(caseObj, "condition", ""))
	}

	slots := make([]schema.Items, len(conditions)+1)
	for _, item := range input {
		idx := len(conditions) // default slot
		for i, cond := range conditions {
			if cond == "" {
				continue
			}
			data := map[string]any{"inputs": item.JSON, "context": ec.Tokens}
			out, err := n.cel.Evaluate(ctx, cond, data)
			if err != nil {
				return nil, err
			}
			if b, _ := out.(bool); b {
				idx = i
				break
			}
		}
		slots[idx] = append(slots[idx], item)
	}

	return slots[0], nil
}
