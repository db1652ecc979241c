package executors

import (
	"context"
	"sort"
	"sync"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Registry is a thread-safe lookup table from node type to Executor. It
// satisfies internal/engine.Executor, so it can be handed directly to
// engine.NewEngine: dispatch by node.Type is the registry's whole job.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under its own Type(). Returns an error on
// duplicate registration.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	t := e.Type()
	if t == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", t)
	}
	r.executors[t] = e
	return nil
}

// Get retrieves the executor registered for a node type.
func (r *Registry) Get(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[nodeType]
	return e, ok
}

// Has reports whether a node type has a registered executor.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.Get(nodeType)
	return ok
}

// Types returns every registered node type, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute dispatches a node to its registered executor. A node type with
// no registered executor is an ExecutorFailure, not a panic: malformed
// or unsupported workflows fail the node, not the process.
func (r *Registry) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	e, ok := r.Get(node.Type)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecutorFailure, "no executor registered for node type %q", node.Type)
	}
	return e.Execute(ctx, node, input, ec)
}
