package executors

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Dalaqa25/automation-runner/internal/isolation"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Manual implements the "manual" trigger: it has no upstream data of its
// own and simply passes the invocation's initial data through: an Items
// value is returned as is, any other value becomes one item, and no
// initial data yields one item with an empty object.
type Manual struct{}

func NewManual() *Manual { return &Manual{} }

func (n *Manual) Type() string { return "manual" }

func (n *Manual) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	if ec.InitialData != nil {
		if items, ok := ec.InitialData.(schema.Items); ok {
			return items, nil
		}
		return schema.Items{{JSON: ec.InitialData}}, nil
	}
	return schema.Items{{JSON: map[string]any{}}}, nil
}

// Schedule implements the "scheduleTrigger" node: the scheduler decides
// when to invoke the workflow, so the node itself only emits the tick
// metadata the scheduler attached to the execution context.
type Schedule struct{}

func NewSchedule() *Schedule { return &Schedule{} }

func (n *Schedule) Type() string { return "scheduleTrigger" }

func (n *Schedule) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	return schema.Items{{JSON: map[string]any{
		"pollingCursor": ec.PollingCursor,
	}}}, nil
}

// FSTrigger implements the "fsTrigger" node: a filesystem-backed polling
// trigger, the local-disk analogue of a cloud drive-change trigger. Each
// tick it lists node.Parameters["path"] and emits one item per entry
// modified after ec.PollingCursor (an RFC3339 timestamp); the scheduler
// persists the new cursor between ticks.
type FSTrigger struct {
	limits isolation.ResourceLimits
}

func NewFSTrigger(limits isolation.ResourceLimits) *FSTrigger {
	return &FSTrigger{limits: limits}
}

func (n *FSTrigger) Type() string { return "fsTrigger" }

func (n *FSTrigger) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	dir := stringParam(node.Parameters, "path", "")
	if dir == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "fsTrigger: missing required parameter 'path'")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "fsTrigger: invalid path %q", dir).WithCause(err)
	}
	if err := n.limits.ValidatePath(abs, isolation.PathAccessRead); err != nil {
		return nil, err
	}

	since := time.Time{}
	if ec.PollingCursor != "" {
		if t, err := time.Parse(time.RFC3339, ec.PollingCursor); err == nil {
			since = t
		}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "fsTrigger: %v", err).WithCause(err)
	}

	latest := since
	var out schema.Items
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(since) {
			continue
		}
		path := filepath.Join(abs, e.Name())
		if ec.ProcessedSet != nil && ec.ProcessedSet[path] {
			// Already emitted in a prior tick; timestamp > cursor alone
			// isn't enough since a later file in the same directory
			// listing can share the cursor's boundary instant.
			continue
		}
		out = append(out, schema.Item{JSON: map[string]any{
			"name":       e.Name(),
			"path":       path,
			"size":       info.Size(),
			"modifiedAt": info.ModTime().UTC().Format(time.RFC3339),
			"isDir":      e.IsDir(),
		}})
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}

	ec.PollingCursor = latest.UTC().Format(time.RFC3339)
	if out == nil {
		return schema.Items{}, nil
	}
	return out, nil
}
