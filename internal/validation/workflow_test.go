package validation

import (
	"testing"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		Name: "daily-report",
		Nodes: []schema.Node{
			{Name: "trigger", Type: "manual"},
			{Name: "fetch", Type: "httpRequest", Parameters: map[string]any{"url": "https://example.com"}},
		},
		Connections: schema.Connections{
			"trigger": edge("fetch"),
		},
	}
}

func TestWorkflowValidator_ValidWorkflowPasses(t *testing.T) {
	wv, err := NewWorkflowValidator(fakeTypeLookup{"manual": true, "httpRequest": true})
	require.NoError(t, err)

	assert.NoError(t, wv.ValidateWorkflow(validWorkflow()))
}

func TestWorkflowValidator_NilWorkflow(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	err = wv.ValidateWorkflow(nil)
	require.Error(t, err)
}

func TestWorkflowValidator_SemanticErrorShortCircuitsDAGAndParams(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	wf := &schema.Workflow{
		Nodes: []schema.Node{
			{Name: "a", Type: "httpRequest"}, // missing required url, would fail parameter stage too
			{Name: "a", Type: "httpRequest"}, // duplicate name triggers semantic error
		},
	}
	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node name")
}

func TestWorkflowValidator_CycleCaughtBeforeParameterStage(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	wf := &schema.Workflow{
		Nodes: []schema.Node{
			{Name: "a", Type: "code"}, // missing required "code" param too
			{Name: "b", Type: "code"},
		},
		Connections: schema.Connections{
			"a": edge("b"),
			"b": edge("a"),
		},
	}
	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeWorkflowValidation, engErr.Code)
}

func TestWorkflowValidator_ParameterErrorSurfaced(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	wf := &schema.Workflow{
		Nodes: []schema.Node{{Name: "a", Type: "code"}},
	}
	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code")
}

func TestWorkflowValidator_UnregisteredTypeReported(t *testing.T) {
	wv, err := NewWorkflowValidator(fakeTypeLookup{})
	require.NoError(t, err)

	wf := &schema.Workflow{Nodes: []schema.Node{{Name: "a", Type: "mystery"}}}
	err = wv.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered type")
}

func TestWorkflowValidator_ValidateParametersDirect(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	assert.NoError(t, wv.ValidateParameters("code", map[string]any{"code": "1 + 1"}))
	assert.Error(t, wv.ValidateParameters("code", map[string]any{}))
}

func TestResult_MergeCombinesErrorsAndWarnings(t *testing.T) {
	a := &Result{}
	a.AddError("x", schema.ErrCodeWorkflowValidation, "bad x")
	b := &Result{}
	b.AddWarning("y", schema.ErrCodeWorkflowValidation, "odd y")

	a.Merge(b)
	assert.Len(t, a.Errors, 1)
	assert.Len(t, a.Warnings, 1)
	assert.False(t, a.Valid())
}

func TestResult_ToErrorNilWhenValid(t *testing.T) {
	r := &Result{}
	assert.Nil(t, r.ToError())
}
