package parser

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/klyr/logtriage/internal/record"
)

var embeddedFields = []string{"json_data", "data", "payload"}

// mergeEmbedded decodes the first embedded JSON field and merges its keys
// into the record without overwriting existing fields.
func (p *Parser) mergeEmbedded(b *record.Builder) {
	for _, name := range embeddedFields {
		raw, ok := b.Get(name)
		if !ok || raw == "" {
			continue
		}

		obj, err := decodeEmbedded(raw)
		if err != nil {
			p.logger.Warn("embedded json not decoded", zap.String("field", name), zap.Error(err))
			continue
		}

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if b.Has(k) {
				continue
			}
			v := obj[k]
			b.Set(k, record.Stringify(v))
			if record.IsStructured(v) {
				b.SetNested(k, v)
			}
		}
		b.Delete(name)
		return
	}
}

func decodeEmbedded(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(unescapeBackslashes(raw)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("embedded value is not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after embedded object")
	}
	return obj, nil
}

// unescapeBackslashes resolves backslash escapes (\n, \", \xNN, \uNNNN, ...)
// the way log writers emit them for embedded payloads. Unknown escapes are
// kept verbatim.
func unescapeBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}

		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '\\', '\'', '"':
			b.WriteByte(s[i])
		case 'x':
			if r, ok := hexRune(s, i+1, 2); ok {
				b.WriteRune(r)
				i += 2
				continue
			}
			b.WriteString(`\x`)
		case 'u':
			if r, ok := hexRune(s, i+1, 4); ok {
				b.WriteRune(r)
				i += 4
				continue
			}
			b.WriteString(`\u`)
		case 'U':
			if r, ok := hexRune(s, i+1, 8); ok {
				b.WriteRune(r)
				i += 8
				continue
			}
			b.WriteString(`\U`)
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func hexRune(s string, start, n int) (rune, bool) {
	if start+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+n], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
