package parser

import (
	"net/url"
	"strings"

	"github.com/klyr/logtriage/internal/record"
)

const defaultProtocol = "HTTP/1.1"

// deriveHTTP fills method, url, protocol, path and query parameters from the
// request fields of a record. request_path defaults to the raw target.
func deriveHTTP(b *record.Builder) {
	if line, ok := b.Get("request_line"); ok && line != "" {
		parts := strings.Fields(line)
		switch {
		case len(parts) >= 3:
			b.Set("method", parts[0])
			b.Set("url", parts[1])
			b.Set("protocol", parts[2])
		case len(parts) == 2:
			b.Set("method", parts[0])
			b.Set("url", parts[1])
			b.Set("protocol", defaultProtocol)
		}
	} else if method, ok := b.Get("request_method"); ok && method != "" {
		b.Set("method", method)
	}

	target, ok := b.Get("url")
	if !ok || target == "" {
		return
	}
	path, query := splitTarget(target)
	b.Set("path", path)
	b.SetQuery(query)
	if _, ok := b.Get("request_path"); !ok {
		b.Set("request_path", target)
	}
}

// splitTarget separates the path and query of a request target without
// percent-decoding the path.
func splitTarget(target string) (string, url.Values) {
	rest := target
	if i := strings.Index(rest, "://"); i > 0 && !strings.ContainsAny(rest[:i], "/?#") {
		rest = rest[i+3:]
		if j := strings.IndexAny(rest, "/?#"); j >= 0 {
			rest = rest[j:]
		} else {
			rest = ""
		}
	}

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}

	rawQuery := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rawQuery = rest[i+1:]
		rest = rest[:i]
	}
	return rest, ParseQuery(rawQuery)
}

// ParseQuery parses a query string leniently. Malformed pairs and blank
// values are dropped.
func ParseQuery(raw string) url.Values {
	out := url.Values{}
	if raw == "" {
		return out
	}

	values, _ := url.ParseQuery(raw)
	for key, vals := range values {
		for _, v := range vals {
			if v == "" {
				continue
			}
			out[key] = append(out[key], v)
		}
	}
	return out
}
