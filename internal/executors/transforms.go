package executors

import (
	"context"
	"time"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Set implements the "set" node: merges node.Parameters["fields"] onto
// each input item's json object, with each field value resolved against
// that specific item before merging.
type Set struct{}

func NewSet() *Set { return &Set{} }

func (n *Set) Type() string { return "set" }

func (n *Set) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	fields, _ := node.Parameters["fields"].(map[string]any)

	out := make(schema.Items, 0, len(input))
	for _, item := range input {
		resolvedFields, err := resolveParams(fields, schema.Items{item}, ec)
		if err != nil {
			return nil, err
		}
		base, _ := item.JSON.(map[string]any)
		merged := make(map[string]any, len(base)+len(resolvedFields))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range resolvedFields {
			merged[k] = v
		}
		out = append(out, schema.Item{JSON: merged, Binary: item.Binary})
	}
	return out, nil
}

// Merge implements the "merge" node: concatenates the main input with a
// second input sequence read from node.Parameters["otherSource"], a node
// name/id whose stored output supplies the second list.
type Merge struct{}

func NewMerge() *Merge { return &Merge{} }

func (n *Merge) Type() string { return "merge" }

func (n *Merge) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	out := make(schema.Items, 0, len(input))
	out = append(out, input...)

	other := stringParam(node.Parameters, "otherSource", "")
	if other != "" {
		if otherItems, ok := ec.Outputs[other]; ok {
			out = append(out, otherItems...)
		}
	}
	return out, nil
}

// Limit implements the "limit" node: truncates (or, from the tail,
// keeps) the main input to node.Parameters["maxItems"].
type Limit struct{}

func NewLimit() *Limit { return &Limit{} }

func (n *Limit) Type() string { return "limit" }

func (n *Limit) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	max := intParam(node.Parameters, "maxItems", len(input))
	keepLast := boolParam(node.Parameters, "keepLast", false)
	if max < 0 || max >= len(input) {
		return input, nil
	}
	if keepLast {
		return input[len(input)-max:], nil
	}
	return input[:max], nil
}

// Wait implements the "wait" node: pauses for node.Parameters["seconds"]
// (or until ctx is cancelled) before passing its input through unchanged.
type Wait struct{}

func NewWait() *Wait { return &Wait{} }

func (n *Wait) Type() string { return "wait" }

func (n *Wait) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	seconds := intParam(node.Parameters, "seconds", 0)
	if seconds <= 0 {
		return input, nil
	}
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		return input, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SplitInBatches implements the "splitInBatches" node: on each top-level
// invocation it advances one batch through the full item list, keeping
// its cursor in ec.BatchStates[node key]. That state lives only as long as
// the execution context: a new execution context (such as the next
// scheduled run) starts again from the first batch.
type SplitInBatches struct{}

func NewSplitInBatches() *SplitInBatches { return &SplitInBatches{} }

func (n *SplitInBatches) Type() string { return "splitInBatches" }

func (n *SplitInBatches) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	batchSize := intParam(node.Parameters, "batchSize", 1)
	if batchSize <= 0 {
		batchSize = 1
	}

	key := node.Name
	state := ec.BatchStates[key]
	if state == nil {
		state = &schema.BatchState{AllItems: input, Cursor: 0}
		state.TotalBatches = (len(input) + batchSize - 1) / batchSize
		ec.BatchStates[key] = state
	}

	if state.Cursor >= len(state.AllItems) {
		return schema.Items{}, nil
	}
	end := state.Cursor + batchSize
	if end > len(state.AllItems) {
		end = len(state.AllItems)
	}
	batch := state.AllItems[state.Cursor:end]
	state.Cursor = end
	return batch, nil
}
