package expressions

import (
	"regexp"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// placeholderPattern matches {{NAME}} with NAME restricted to [A-Z0-9_]+
// — distinct from the lowercase/dotted {{ $json... }}
// expression grammar, which this pass must never touch.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Z0-9_]+)\s*\}\}`)

// credentialTypeToToken is the canonical mapping from a node's credential
// type to the token-bag key it resolves to.
var credentialTypeToToken = map[string]string{
	"openRouterApi":   "openRouterApiKey",
	"openAiApi":       "openAiApiKey",
	"anthropicApi":    "anthropicApiKey",
	"huggingFaceApi":  "huggingFaceApiKey",
	"googleOAuth2Api": "googleAccessToken",
	"tiktokOAuth2Api": "tiktokAccessToken",
	"slackApi":        "slackAccessToken",
}

// PrepareResult is the output of PrepareWorkflow (C1).
type PrepareResult struct {
	Workflow             *schema.Workflow
	RequiredParams       map[string]bool
	ResolvedCredentials  map[string]string
}

// PrepareWorkflow deep-copies wf and applies parameter substitution and
// credential placeholder resolution, the first stage of the
// prepare -> inject-tokens -> execute pipeline.
func PrepareWorkflow(wf *schema.Workflow, params map[string]any, developerKeys map[string]string) (*PrepareResult, error) {
	clone, err := wf.Clone()
	if err != nil {
		return nil, err
	}

	required := make(map[string]bool)
	for i := range clone.Nodes {
		clone.Nodes[i].Parameters = substituteTree(clone.Nodes[i].Parameters, params, required).(map[string]any)
	}

	resolved := make(map[string]string)
	for i := range clone.Nodes {
		resolveCredentials(&clone.Nodes[i], developerKeys, resolved)
	}

	return &PrepareResult{Workflow: clone, RequiredParams: required, ResolvedCredentials: resolved}, nil
}

// substituteTree recursively walks a parameter tree, replacing {{NAME}}
// occurrences in every string value.
func substituteTree(node any, params map[string]any, required map[string]bool) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = substituteTree(val, params, required)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = substituteTree(val, params, required)
		}
		return out
	case string:
		return substituteString(v, params, required)
	default:
		return v
	}
}

func substituteString(s string, params map[string]any, required map[string]bool) any {
	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		// Whole string is exactly one placeholder — substitute preserving type.
		name := m[1]
		required[name] = true
		if val, ok := params[name]; ok {
			return val
		}
		return s // leave untouched if NAME not in params
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		required[name] = true
		val, ok := params[name]
		if !ok {
			return match // leave the placeholder untouched
		}
		return toStringValue(val)
	})
}

func toStringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	// Non-string values embedded inside a larger string are coerced via
	// fmt, since the typed-passthrough case only applies when the whole
	// string is exactly one placeholder.
	return stringify(v)
}

// resolveCredentials translates each credential entry whose id is an
// all-caps placeholder into a resolved, canonically named token-bag
// entry, if the developer key is present.
func resolveCredentials(n *schema.Node, developerKeys map[string]string, resolved map[string]string) {
	for credType, cred := range n.Credentials {
		m := placeholderPattern.FindStringSubmatch(cred.ID)
		if m == nil || m[0] != cred.ID {
			continue
		}
		credName := m[1]
		value, ok := developerKeys[credName]
		if !ok {
			continue
		}
		canonical, ok := credentialTypeToToken[credType]
		if !ok {
			canonical = credType
		}
		resolved[canonical] = value
		cred.MarkResolved()
		n.Credentials[credType] = cred
	}
}
