package expressions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// exactlyOnePattern matches a string that is, once trimmed, exactly one
// {{ ... }} block with no other interpolation inside it.
var exactlyOnePattern = regexp.MustCompile(`^\{\{([^{}]*)\}\}$`)

// interpolationPattern finds every {{ ... }} occurrence for the splice case.
var interpolationPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Scope is everything the C3 expression evaluator needs to resolve a
// single {{ ... }} interpolation.
type Scope struct {
	// CurrentInput is inputItems(n) for the node currently being evaluated.
	CurrentInput schema.Items
	// EC is the live execution context, used for $('Name') and $tokens.
	EC *schema.ExecutionContext
}

// Eval resolves a raw parameter string if it is exactly one
// interpolation, the evaluated value is returned with its original type;
// otherwise every interpolation in the string is evaluated and spliced in
// as text (undefined evaluates to the empty string).
func Eval(raw string, scope Scope) (any, error) {
	stripped := strings.TrimPrefix(raw, "=")

	if m := exactlyOnePattern.FindStringSubmatch(strings.TrimSpace(stripped)); m != nil {
		return evalExpr(strings.TrimSpace(m[1]), scope)
	}

	var evalErr error
	result := interpolationPattern.ReplaceAllStringFunc(stripped, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])
		val, err := evalExpr(inner, scope)
		if err != nil {
			evalErr = err
			return ""
		}
		return stringify(val)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

// HasInterpolation reports whether raw contains at least one {{ ... }} block.
func HasInterpolation(raw string) bool {
	return interpolationPattern.MatchString(raw)
}

func evalExpr(expr string, scope Scope) (any, error) {
	switch {
	case strings.HasPrefix(expr, "$input.all()"):
		rest := strings.TrimPrefix(expr, "$input.all()")
		if strings.TrimSpace(rest) != "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "unexpected trailer after $input.all(): %q", rest)
		}
		out := make([]any, len(scope.CurrentInput))
		for i, it := range scope.CurrentInput {
			out[i] = it.JSON
		}
		return out, nil

	case strings.HasPrefix(expr, "$input.first()"):
		return resolveCurrentJSON(strings.TrimPrefix(expr, "$input.first()"), scope)

	case strings.HasPrefix(expr, "$json"):
		return resolveCurrentJSON(strings.TrimPrefix(expr, "$json"), scope)

	case strings.HasPrefix(expr, "$('") || strings.HasPrefix(expr, `$("`):
		return resolveNamedNode(expr, scope)

	case strings.HasPrefix(expr, "$tokens"):
		rest := strings.TrimPrefix(expr, "$tokens")
		base := make(map[string]any, len(scope.EC.Tokens))
		for k, v := range scope.EC.Tokens {
			base[k] = v
		}
		val, _ := traverse(base, rest)
		return val, nil

	default:
		return resolveBareIdentifier(expr, scope)
	}
}

// resolveCurrentJSON implements $json / $input.first(): the first item's
// json field if present, else the item itself, then an optional path.
func resolveCurrentJSON(pathSuffix string, scope Scope) (any, error) {
	if len(scope.CurrentInput) == 0 {
		return nil, nil
	}
	base := currentJSONBase(scope.CurrentInput[0])
	val, _ := traverse(base, pathSuffix)
	return val, nil
}

func currentJSONBase(it schema.Item) any {
	if it.JSON != nil {
		return it.JSON
	}
	return it
}

// resolveNamedNode implements $('Name')[.item[.json[.path]]].
func resolveNamedNode(expr string, scope Scope) (any, error) {
	name, rest, err := parseQuotedCall(expr)
	if err != nil {
		return nil, err
	}
	var itemJSON any
	var binary map[string]schema.Binary
	if out, ok := scope.EC.Outputs[name]; ok && len(out) > 0 {
		itemJSON = out[0].JSON
		binary = out[0].Binary
	}
	base := map[string]any{
		"item": map[string]any{"json": itemJSON, "binary": binary},
		"json": itemJSON,
	}
	val, _ := traverse(base, rest)
	return val, nil
}

// parseQuotedCall parses $('Name') or $("Name") and returns the name and
// the remainder of the expression after the closing paren.
func parseQuotedCall(expr string) (name, rest string, err error) {
	quote := expr[2]
	closeIdx := strings.IndexByte(expr[3:], quote)
	if closeIdx < 0 {
		return "", "", schema.NewErrorf(schema.ErrCodeInterpolation, "unterminated quote in %q", expr)
	}
	closeIdx += 3
	name = expr[3:closeIdx]
	remainder := expr[closeIdx+1:]
	remainder = strings.TrimPrefix(remainder, ")")
	return name, remainder, nil
}

// resolveBareIdentifier implements the fallback resolution: first
// ctx.initialData.body, then currentInput[0].json, else undefined.
func resolveBareIdentifier(expr string, scope Scope) (any, error) {
	if scope.EC != nil {
		if body, ok := traverse(scope.EC.RawInitialData, ".body"); ok {
			if val, found := traverse(body, "."+expr); found {
				return val, nil
			}
		}
	}
	if len(scope.CurrentInput) > 0 {
		if val, found := traverse(scope.CurrentInput[0].JSON, "."+expr); found {
			return val, nil
		}
	}
	return nil, nil
}

// traverse resolves a dotted/bracketed path (e.g. ".a.b[\"c\"][2]") against
// base, accepting mixed a.b["c"].d notation.
func traverse(base any, path string) (any, bool) {
	segments := parsePathSegments(path)
	cur := base
	for _, seg := range segments {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

type pathSegment struct {
	key      string
	isIndex  bool
	index    int
}

func parsePathSegments(path string) []pathSegment {
	var segs []pathSegment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return segs
			}
			inner := path[i+1 : i+end]
			i += end + 1
			inner = strings.TrimSpace(inner)
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') {
				segs = append(segs, pathSegment{key: inner[1 : len(inner)-1]})
			} else if idx, err := strconv.Atoi(inner); err == nil {
				segs = append(segs, pathSegment{isIndex: true, index: idx})
			} else {
				segs = append(segs, pathSegment{key: inner})
			}
		default:
			end := i
			for end < len(path) && path[end] != '.' && path[end] != '[' {
				end++
			}
			if end > i {
				segs = append(segs, pathSegment{key: path[i:end]})
			}
			i = end
		}
	}
	return segs
}

func step(cur any, seg pathSegment) (any, bool) {
	if seg.isIndex {
		arr, ok := cur.([]any)
		if !ok || seg.index < 0 || seg.index >= len(arr) {
			return nil, false
		}
		return arr[seg.index], true
	}
	switch m := cur.(type) {
	case map[string]any:
		v, ok := m[seg.key]
		return v, ok
	default:
		return nil, false
	}
}
