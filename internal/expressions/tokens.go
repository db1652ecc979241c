package expressions

import (
	"strings"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// defaultTokenAliases maps external token names to canonical names.
// Caller-supplied overrides take precedence at call time.
var defaultTokenAliases = map[string]string{
	"google_oauth_token": "googleAccessToken",
	"google_access_token": "googleAccessToken",
	"google_token":        "googleAccessToken",
	"openai_api_key":       "openAiApiKey",
	"openai_key":           "openAiApiKey",
	"anthropic_api_key":    "anthropicApiKey",
	"anthropic_key":        "anthropicApiKey",
	"openrouter_api_key":   "openRouterApiKey",
	"huggingface_api_key":  "huggingFaceApiKey",
	"tiktok_access_token":  "tiktokAccessToken",
	"slack_access_token":   "slackAccessToken",
}

// credentialKeyCandidates lists, for each recognized credential-parameter
// key, the ordered candidate token names to fill from when the parameter
// is empty.
var credentialKeyCandidates = map[string][]string{
	"apiKey":       {"openAiApiKey", "openRouterApiKey", "anthropicApiKey", "huggingFaceApiKey"},
	"api_key":      {"openAiApiKey", "openRouterApiKey", "anthropicApiKey", "huggingFaceApiKey"},
	"accessToken":  {"googleAccessToken", "slackAccessToken", "tiktokAccessToken"},
	"access_token": {"googleAccessToken", "slackAccessToken", "tiktokAccessToken"},
	"token":        {"googleAccessToken", "slackAccessToken", "tiktokAccessToken"},
}

// NormalizeTokens applies the substitution table plus overrides: raw
// token names map to canonical names. Unknown keys pass through unchanged.
func NormalizeTokens(raw map[string]string, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		canonical, ok := overrides[k]
		if !ok {
			canonical, ok = defaultTokenAliases[k]
		}
		if !ok {
			canonical = k
		}
		out[canonical] = v
	}
	return out
}

// InjectTokens walks the prepared workflow and, for every non-trigger
// node, evaluates $tokens.X references and fills empty credential-looking
// parameters from the token bag. Trigger nodes are exempt.
func InjectTokens(wf *schema.Workflow, tokens map[string]string) error {
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if schema.IsTriggerLike(n.Type) {
			continue
		}
		if n.Parameters == nil {
			continue
		}
		evaluated, err := injectTree(n.Parameters, tokens)
		if err != nil {
			return err
		}
		n.Parameters = evaluated.(map[string]any)
		fillCredentialKeys(n.Parameters, tokens)
		if auth, ok := n.Parameters["authentication"].(map[string]any); ok {
			fillCredentialKeys(auth, tokens)
		}
		if creds, ok := n.Parameters["credentials"].(map[string]any); ok {
			fillCredentialKeys(creds, tokens)
		}
	}
	return nil
}

func injectTree(node any, tokens map[string]string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			sub, err := injectTree(val, tokens)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			sub, err := injectTree(val, tokens)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case string:
		return injectTokenString(v, tokens), nil
	default:
		return v, nil
	}
}

// injectTokenString evaluates {{ ... $tokens.X ... }} via the expression
// evaluator, and replaces a bare "$tokens.X" string directly.
func injectTokenString(s string, tokens map[string]string) any {
	if strings.HasPrefix(strings.TrimPrefix(s, "="), "$tokens") && !strings.Contains(s, "{{") {
		ec := &schema.ExecutionContext{Tokens: tokens}
		val, _ := evalExpr(strings.TrimPrefix(s, "="), Scope{EC: ec})
		if val != nil {
			return val
		}
		return s
	}
	if HasInterpolation(s) && strings.Contains(s, "$tokens") {
		ec := &schema.ExecutionContext{Tokens: tokens}
		val, err := Eval(s, Scope{EC: ec})
		if err == nil {
			return val
		}
	}
	return s
}

// fillCredentialKeys fills empty/missing recognized credential-parameter
// keys from the first available candidate token.
func fillCredentialKeys(params map[string]any, tokens map[string]string) {
	for key, candidates := range credentialKeyCandidates {
		existing, _ := params[key].(string)
		if existing != "" {
			continue
		}
		for _, candidate := range candidates {
			if val, ok := tokens[candidate]; ok && val != "" {
				params[key] = val
				break
			}
		}
	}
}
