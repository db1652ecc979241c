package expressions

import (
	"encoding/json"
	"fmt"
)

// stringify renders a typed value for string splicing, mirroring the teacher's marshalInline idiom: strings
// pass through raw, everything else is JSON-rendered so objects/arrays
// never degrade to Go's "map[...]" representation.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool, float64, int, int64:
		return fmt.Sprintf("%v", t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
