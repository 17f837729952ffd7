package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Stringify renders a decoded value as text. Structured values are JSON
// encoded so the output is stable across runs.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return val.String()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// IsStructured reports whether v is a map or slice produced by decoding.
func IsStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any, map[string]string, map[string][]string, []string:
		return true
	default:
		return false
	}
}
