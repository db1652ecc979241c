package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Executor dispatches a node to its registered implementation (C4). It is
// satisfied by internal/executors.Registry; the engine depends only on
// this narrow interface so it never imports the executors package.
type Executor interface {
	Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error)
}

// maxPassesFactor bounds the stall safeguard proportional to
// node count.
const maxPassesFactor = 1000

// Engine runs one workflow graph to completion per invocation. It holds no
// per-invocation state of its own — everything it touches beyond the
// Graph lives in the ExecutionContext passed to Run, so one Engine can
// safely be invoked from many goroutines concurrently.
type Engine struct {
	executor Executor
	log      *slog.Logger
}

// NewEngine builds an Engine dispatching nodes through the given executor.
func NewEngine(executor Executor, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{executor: executor, log: log}
}

// Run executes wf against ec.InitialData and returns the top-level result.
// ec must already carry Tokens/ProcessedSet/PollingCursor if this is a
// scheduled tick; Run does not reset them.
func (e *Engine) Run(ctx context.Context, wf *schema.Workflow, ec *schema.ExecutionContext) *schema.Result {
	graph, err := BuildGraph(wf)
	if err != nil {
		return abortResult(err)
	}
	ec.Workflow = wf

	entries := graph.EntryNodes()
	if len(entries) == 0 {
		return abortResult(schema.NewError(schema.ErrCodeWorkflowValidation, "no entry nodes"))
	}

	ec.RawInitialData = ec.InitialData
	ec.InitialData = normalizeInitialData(ec.InitialData)

	maxPasses := len(graph.AllNodes())*maxPassesFactor + maxPassesFactor
	for pass := 0; pass < maxPasses; pass++ {
		progressed := false

		for _, n := range graph.AllNodes() {
			if ec.Executed(n) {
				continue
			}
			if !graph.Ready(ec, n) {
				continue
			}

			input := graph.MainInputs(ec, n)
			isEntry := isEntryNode(entries, n)

			if len(input) == 0 && !isEntry && !schema.IsTriggerLike(n.Type) {
				// Empty-input propagation: a
				// non-trigger node whose every main source produced
				// nothing does not run; it simply propagates emptiness.
				ec.SetOutput(n, schema.Items{})
				progressed = true
				continue
			}

			out, execErr := e.executor.Execute(ctx, n, input, ec)
			if execErr != nil {
				recovered, result := e.handleFailure(n, execErr, ec)
				if !recovered {
					return result
				}
				progressed = true
				continue
			}

			ec.SetOutput(n, out)
			progressed = true
		}

		if !progressed {
			break
		}
	}

	unexecuted := unexecutedNodes(graph, ec)
	if len(unexecuted) > 0 {
		return abortResult(schema.NewErrorf(schema.ErrCodeStall,
			"main loop made no further progress; unexecuted nodes: %s", strings.Join(unexecuted, ", ")))
	}

	return &schema.Result{
		Success: len(ec.Errors) == 0,
		Outputs: ec.Outputs,
		Errors:  ec.Errors,
	}
}

// handleFailure applies the engine's binary failure policy. It returns
// recovered=true when the error was absorbed into ctx.errors and execution
// should continue; recovered=false means the caller must abort and return
// the given result immediately.
func (e *Engine) handleFailure(n *schema.Node, execErr error, ec *schema.ExecutionContext) (bool, *schema.Result) {
	message := execErr.Error()
	credentialMissing := isCredentialMissing(execErr)

	if credentialMissing || n.OnError == schema.OnErrorContinueErrorOutput {
		ec.Errors = append(ec.Errors, schema.NodeExecutionError{Node: n.Name, Message: message})
		ec.SetOutput(n, schema.ErrorItem(message))
		e.log.Warn("node error recovered", "node", n.Name, "error", message, "credential_missing", credentialMissing)
		return true, nil
	}

	e.log.Error("node error aborted execution", "node", n.Name, "error", message)
	return false, &schema.Result{
		Success: false,
		Outputs: ec.Outputs,
		Errors:  append(ec.Errors, schema.NodeExecutionError{Node: n.Name, Message: message}),
		Error:   message,
	}
}

// isCredentialMissing matches the credential-missing pattern:
// a NodeError explicitly tagged CredentialMissing, or a message mentioning
// a token/API key/access token being absent.
func isCredentialMissing(err error) bool {
	if ne, ok := err.(*schema.NodeError); ok && ne.Kind == schema.ErrCodeCredentialMissing {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"api key", "api_key", "apikey", "access token", "access_token", "token not", "no token", "credential"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func abortResult(err error) *schema.Result {
	return &schema.Result{Success: false, Error: err.Error()}
}

func isEntryNode(entries []*schema.Node, n *schema.Node) bool {
	for _, e := range entries {
		if e == n {
			return true
		}
	}
	return false
}

// normalizeInitialData wraps initialData as a one-item sequence if it is a
// bare object, or passes it through if already item-normalized.
func normalizeInitialData(data any) any {
	switch v := data.(type) {
	case nil:
		return schema.Items{}
	case schema.Items:
		return v
	case map[string]any:
		return schema.Items{{JSON: v}}
	default:
		return schema.Items{{JSON: v}}
	}
}

func unexecutedNodes(g *Graph, ec *schema.ExecutionContext) []string {
	var out []string
	for _, n := range g.AllNodes() {
		if !ec.Executed(n) {
			out = append(out, n.Name)
		}
	}
	return out
}
