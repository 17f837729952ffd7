package rules

import (
	"sort"
	"strings"

	"github.com/klyr/logtriage/internal/parser"
	"github.com/klyr/logtriage/internal/record"
)

// headerFields are copied into the attack context from the record, or from
// the request headers when the record lacks them.
var headerFields = []string{"user_agent", "referer", "x_forwarded_for", "x-auth", "x-block"}

var scalarFields = []string{"status_code", "response_size", "processing_time"}

// attackContext is the flat view of a request that field patterns can
// target when the record has no field of that name.
type attackContext map[string]any

func buildAttackContext(rec *record.Record) attackContext {
	ctx := attackContext{}

	for k, v := range rec.Query() {
		if len(v) > 0 {
			ctx["param_"+k] = v[0]
		}
	}
	if path, ok := rec.Get("request_path"); ok && path != "" {
		query := path
		if _, after, found := strings.Cut(path, "?"); found {
			query = after
		}
		for k, v := range parser.ParseQuery(query) {
			if _, exists := ctx["param_"+k]; !exists && len(v) > 0 {
				ctx["param_"+k] = v[0]
			}
		}
	}

	headers := requestHeaders(rec)
	for k, v := range headers {
		ctx[k] = v
	}
	for _, field := range headerFields {
		if v, ok := rec.Get(field); ok {
			ctx[field] = v
		} else if v, ok := headers[field]; ok {
			ctx[field] = v
		}
	}

	if nested, ok := rec.Nested("request_body"); ok {
		ctx["body"] = record.Stringify(nested)
	} else if body, ok := rec.Get("request_body"); ok {
		ctx["body"] = body
	}

	for _, field := range scalarFields {
		if v, ok := rec.Get(field); ok {
			ctx[field] = v
		}
	}
	return ctx
}

// requestHeaders reads request_headers either as a structured value or as
// "Key: value" lines. Keys are lower-cased.
func requestHeaders(rec *record.Record) map[string]string {
	headers := map[string]string{}

	if nested, ok := rec.Nested("request_headers"); ok {
		if m, ok := nested.(map[string]any); ok {
			for k, v := range m {
				headers[strings.ToLower(k)] = record.Stringify(v)
			}
			return headers
		}
	}

	raw, ok := rec.Get("request_headers")
	if !ok {
		return headers
	}
	for _, line := range strings.Split(raw, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return headers
}

// resolveField looks field up in the record, then in its structured values
// depth first, then in the attack context. Empty values count as missing.
func resolveField(rec *record.Record, ctx attackContext, field string) (string, bool) {
	if v, ok := lookupRecord(rec, field); ok && !isEmpty(v) {
		return record.Stringify(v), true
	}
	if v, ok := lookupNested(ctx, field); ok && !isEmpty(v) {
		return record.Stringify(v), true
	}
	return "", false
}

func lookupRecord(rec *record.Record, field string) (any, bool) {
	if v, ok := rec.Get(field); ok {
		return v, true
	}

	if q := rec.Query(); len(q) > 0 {
		params := make(map[string]any, len(q))
		for k, vs := range q {
			items := make([]any, 0, len(vs))
			for _, v := range vs {
				items = append(items, v)
			}
			params[k] = items
		}
		if v, ok := lookupNested(map[string]any{"query_params": params}, field); ok {
			return v, true
		}
	}

	for _, name := range rec.NestedKeys() {
		value, _ := rec.Nested(name)
		if v, ok := lookupNested(map[string]any{name: value}, field); ok {
			return v, true
		}
	}
	return nil, false
}

// lookupNested returns the value of the first key named field, checking a
// map's own keys before descending into its values in key order.
func lookupNested(m map[string]any, field string) (any, bool) {
	if v, ok := m[field]; ok {
		return v, true
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if v, ok := descend(m[k], field); ok {
			return v, true
		}
	}
	return nil, false
}

func descend(value any, field string) (any, bool) {
	switch val := value.(type) {
	case map[string]any:
		return lookupNested(val, field)
	case []any:
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				if v, ok := lookupNested(m, field); ok {
					return v, true
				}
			}
		}
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}
