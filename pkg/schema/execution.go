package schema

// NodeError is the error an executor returns when a node fails.
type NodeError struct {
	Kind    ErrorCode
	Message string
}

func (e *NodeError) Error() string { return e.Message }

// NewNodeError builds a NodeError of the given kind.
func NewNodeError(kind ErrorCode, message string) *NodeError {
	return &NodeError{Kind: kind, Message: message}
}

// NodeExecutionError is one entry in ExecutionContext.Errors / the
// top-level result's errors list.
type NodeExecutionError struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

// BatchState is per-node memory for loop/batch nodes such as
// splitInBatches.
type BatchState struct {
	AllItems    Items `json:"allItems"`
	Cursor      int   `json:"cursor"`
	TotalBatches int  `json:"totalBatches"`
}

// ExecutionContext is the per-invocation state threaded through one run
// of a workflow. Outputs, once set for a node, are never mutated.
type ExecutionContext struct {
	Outputs map[string]Items `json:"outputs"`
	Errors  []NodeExecutionError `json:"errors"`

	Workflow *Workflow `json:"-"`

	Tokens      map[string]string `json:"tokens,omitempty"`
	InitialData any               `json:"initialData,omitempty"`

	// RawInitialData is the object/map form of InitialData as the caller
	// set it, before Run normalizes InitialData into a one-item schema.Items
	// sequence for entry-node consumption. Bare-identifier resolution in
	// the expression evaluator traverses this field to reach
	// ctx.initialData.body, since the normalized Items form no longer has
	// a "body" key to descend into.
	RawInitialData any `json:"rawInitialData,omitempty"`

	PollingCursor string          `json:"pollingCursor,omitempty"`
	ProcessedSet  map[string]bool `json:"processedSet,omitempty"`

	BatchStates map[string]*BatchState `json:"batchStates,omitempty"`
	Memory      map[string]any         `json:"memory,omitempty"`
}

// NewExecutionContext builds an empty context ready for one invocation.
func NewExecutionContext(wf *Workflow) *ExecutionContext {
	return &ExecutionContext{
		Outputs:      make(map[string]Items),
		Workflow:     wf,
		Tokens:       make(map[string]string),
		ProcessedSet: make(map[string]bool),
		BatchStates:  make(map[string]*BatchState),
		Memory:       make(map[string]any),
	}
}

// SetOutput records a node's output under both its name and id keys.
// Panics if already set: a node's output is set exactly once per
// execution.
func (ec *ExecutionContext) SetOutput(node *Node, items Items) {
	if items == nil {
		items = Items{}
	}
	for _, key := range dedupKeys(node.Name, node.ID) {
		if _, exists := ec.Outputs[key]; exists {
			panic("schema: output for node " + key + " set more than once in this execution")
		}
		ec.Outputs[key] = items
	}
}

// Executed reports whether the node already has a recorded output
// (possibly empty) in this execution.
func (ec *ExecutionContext) Executed(node *Node) bool {
	if _, ok := ec.Outputs[node.Name]; ok {
		return true
	}
	if node.ID != "" {
		_, ok := ec.Outputs[node.ID]
		return ok
	}
	return false
}

func dedupKeys(a, b string) []string {
	if a == b || b == "" {
		if a == "" {
			return nil
		}
		return []string{a}
	}
	if a == "" {
		return []string{b}
	}
	return []string{a, b}
}

// Result is the top-level invocation result.
type Result struct {
	Success bool                  `json:"success"`
	Outputs map[string]Items      `json:"outputs"`
	Errors  []NodeExecutionError  `json:"errors"`
	Error   string                `json:"error,omitempty"`
}
