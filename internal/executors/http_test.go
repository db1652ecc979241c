package executors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

func TestHTTPRequest_GET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	node := &schema.Node{
		Name: "Fetch",
		Type: "httpRequest",
		Parameters: map[string]any{
			"url":    srv.URL,
			"method": "GET",
		},
	}
	ec := schema.NewExecutionContext(&schema.Workflow{})

	out, err := NewHTTPRequest(HTTPConfig{}).Execute(context.Background(), node, nil, ec)
	require.NoError(t, err)
	require.Len(t, out, 1)

	body := out[0].JSON.(map[string]any)
	assert.EqualValues(t, 200, body["statusCode"])
	assert.Equal(t, map[string]any{"ok": true}, body["body"])
}

func TestHTTPRequest_MissingURL(t *testing.T) {
	node := &schema.Node{Name: "Fetch", Type: "httpRequest", Parameters: map[string]any{}}
	ec := schema.NewExecutionContext(&schema.Workflow{})

	_, err := NewHTTPRequest(HTTPConfig{}).Execute(context.Background(), node, nil, ec)
	require.Error(t, err)
}

func TestHTTPRequest_FailOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	node := &schema.Node{
		Name: "Fetch",
		Type: "httpRequest",
		Parameters: map[string]any{
			"url":               srv.URL,
			"failOnErrorStatus": true,
		},
	}
	ec := schema.NewExecutionContext(&schema.Workflow{})

	_, err := NewHTTPRequest(HTTPConfig{}).Execute(context.Background(), node, nil, ec)
	require.Error(t, err)
}
