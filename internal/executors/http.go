package executors

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// HTTPConfig bounds an httpRequest node's resource usage.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPRequest implements the "httpRequest" node type: one request per
// input item, full control over method, headers, body, auth, and
// redirects.
type HTTPRequest struct {
	config HTTPConfig
}

func NewHTTPRequest(cfg HTTPConfig) *HTTPRequest {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequest{config: cfg}
}

func (h *HTTPRequest) Type() string { return "httpRequest" }

// Execute runs one HTTP request per input item (or a single request
// against an empty item when the node has no upstream data), returning
// one output item per request in the same order.
func (h *HTTPRequest) Execute(ctx context.Context, node *schema.Node, input schema.Items, ec *schema.ExecutionContext) (schema.Items, error) {
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
		result, err := h.doRequest(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Item{JSON: result})
	}
	return out, nil
}

func (h *HTTPRequest) doRequest(ctx context.Context, params map[string]any) (map[string]any, error) {
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "httpRequest: missing required parameter 'url'")
	}
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "httpRequest: invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	bodyEncoding := stringParam(params, "bodyEncoding", "json")
	followRedirects := boolParam(params, "followRedirects", true)
	maxRedirects := intParam(params, "maxRedirects", 10)
	tlsSkipVerify := boolParam(params, "tlsSkipVerify", false)
	failOnErrorStatus := boolParam(params, "failOnErrorStatus", false)

	timeout := h.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		switch bodyEncoding {
		case "form":
			if formData, ok := rawBody.(map[string]any); ok {
				vals := url.Values{}
				for k, v := range formData {
					vals.Set(k, fmt.Sprintf("%v", v))
				}
				bodyReader = strings.NewReader(vals.Encode())
				contentType = "application/x-www-form-urlencoded"
			}
		case "text", "raw":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
			if bodyEncoding == "text" {
				contentType = "text/plain"
			}
		default: // json
			b, err := json.Marshal(rawBody)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "httpRequest: failed to marshal body").WithCause(err)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "httpRequest: failed to build request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hm, ok := params["headers"].(map[string]any); ok {
		for k, v := range hm {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	if auth, ok := params["authentication"].(map[string]any); ok {
		applyAuth(req, auth)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	} else if maxRedirects > 0 {
		limit := maxRedirects
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "httpRequest: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "httpRequest: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"statusCode":  resp.StatusCode,
		"status":      resp.Status,
		"headers":     respHeaders,
		"body":        parsedBody,
		"contentType": respContentType,
		"durationMs":  durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "httpRequest: server returned %d", resp.StatusCode).
			WithDetails(result)
	}
	return result, nil
}

func applyAuth(req *http.Request, auth map[string]any) {
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "apiKey":
		if name := stringParam(auth, "headerName", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "headerValue", ""))
		}
	}
}
