package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dalaqa25/automation-runner/internal/isolation"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

func TestCommand_CapturesStdoutAndExitCode(t *testing.T) {
	node := &schema.Node{Name: "Echo", Type: "executeCommand", Parameters: map[string]any{
		"command": "echo hello",
	}}
	ec := schema.NewExecutionContext(&schema.Workflow{})

	out, err := NewCommand(isolation.NewFallbackIsolator()).Execute(context.Background(), node, nil, ec)
	require.NoError(t, err)
	require.Len(t, out, 1)

	result := out[0].JSON.(map[string]any)
	assert.Equal(t, "hello\n", result["stdout"])
	assert.EqualValues(t, 0, result["exitCode"])
}

func TestCommand_NonZeroExit(t *testing.T) {
	node := &schema.Node{Name: "Fail", Type: "executeCommand", Parameters: map[string]any{
		"command": "exit 3",
	}}
	ec := schema.NewExecutionContext(&schema.Workflow{})

	out, err := NewCommand(isolation.NewFallbackIsolator()).Execute(context.Background(), node, nil, ec)
	require.NoError(t, err)
	assert.EqualValues(t, 3, out[0].JSON.(map[string]any)["exitCode"])
}
