package executors

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/Dalaqa25/automation-runner/internal/isolation"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

const defaultCommandTimeout = 30 * time.Second

// Command implements the "executeCommand" node: runs a shell command,
// wrapped by the platform isolator for resource limiting, once per input
// item. Output is the process's stdout/stderr, as written (not trimmed),
// and its exit code.
type Command struct {
	isolator isolation.Isolator
}

func NewCommand(isolator isolation.Isolator) *Command {
	return &Command{isolator: isolator}
}

func (n *Command) Type() string { return "executeCommand" }

func (n *Command) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
	items := input
	if len(items) == 0 {
		items = schema.Items{{JSON: map[string]any{}}}
	}

	out := make(schema.Items, 0, len(items))
	for _, item := range items {
		params, err := resolveParams(node.Parameters, schema.Items{item}, ec)
		if err != nil {
			return nil, err
		}
		result, err := n.runOne(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Item{JSON: result})
	}
	return out, nil
}

func (n *Command) runOne(ctx context.Context, params map[string]any) (map[string]any, error) {
	command := stringParam(params, "command", "")
	if command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "executeCommand: missing required parameter 'command'")
	}

	limits := isolation.ResourceLimits{
		Timeout:      defaultCommandTimeout,
		AllowNetwork: boolParam(params, "allowNetwork", false),
	}
	if t := intParam(params, "timeoutSeconds", 0); t > 0 {
		limits.Timeout = time.Duration(t) * time.Second
	}
	if wd := stringParam(params, "workingDirectory", ""); wd != "" {
		limits.WritablePaths = []string{wd}
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	wrapped, cleanup, err := n.isolator.Wrap(ctx, cmd, limits)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeIsolation, "executeCommand: failed to isolate process").WithCause(err)
	}
	defer cleanup()

	var stdout, stderr bytes.Buffer
	wrapped.Stdout = &stdout
	wrapped.Stderr = &stderr

	runErr := wrapped.Run()
	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "executeCommand: failed to run: %v", runErr).WithCause(runErr)
	}

	return map[string]any{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
	}, nil
}
