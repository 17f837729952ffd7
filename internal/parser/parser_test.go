package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const combinedLine = `192.168.1.10 - - [10/Oct/2025:13:55:36 +0000] "GET /search?q=1%20UNION%20SELECT&empty= HTTP/1.1" 200 512 "-" "Mozilla/5.0"`

func newCombined(t *testing.T, opts Options) *Parser {
	t.Helper()
	p, err := New(CombinedLogFormat(), opts)
	require.NoError(t, err)
	return p
}

func TestParseCombinedLine(t *testing.T) {
	p := newCombined(t, Options{})

	rec, ok := p.Parse(combinedLine)
	require.True(t, ok)

	assert.Equal(t, "192.168.1.10", rec.Value("src_ip"))
	assert.Equal(t, "-", rec.Value("remote_user"))
	assert.Equal(t, "10/Oct/2025:13:55:36 +0000", rec.Value("timestamp"))
	assert.Equal(t, "200", rec.Value("status_code"))
	assert.Equal(t, "512", rec.Value("response_size"))
	assert.Equal(t, "Mozilla/5.0", rec.Value("user_agent"))

	assert.Equal(t, "GET", rec.Value("method"))
	assert.Equal(t, "/search?q=1%20UNION%20SELECT&empty=", rec.Value("url"))
	assert.Equal(t, "HTTP/1.1", rec.Value("protocol"))
	assert.Equal(t, "/search", rec.Value("path"))
	assert.Equal(t, "/search?q=1%20UNION%20SELECT&empty=", rec.Value("request_path"))

	query := rec.Query()
	assert.Equal(t, "1 UNION SELECT", query.Get("q"))
	_, hasEmpty := query["empty"]
	assert.False(t, hasEmpty, "blank query values are dropped")

	assert.Equal(t, combinedLine, rec.Raw())
	assert.Equal(t, Stats{Parsed: 1, Total: 1}, p.Stats())
}

func TestParseTwoTokenRequestLine(t *testing.T) {
	p := newCombined(t, Options{})

	rec, ok := p.Parse(`10.0.0.2 - - [10/Oct/2025:13:55:36 +0000] "GET /" 404 0 "-" "curl/8.0"`)
	require.True(t, ok)
	assert.Equal(t, "GET", rec.Value("method"))
	assert.Equal(t, "/", rec.Value("url"))
	assert.Equal(t, "HTTP/1.1", rec.Value("protocol"))
}

func TestParseRequestMethodField(t *testing.T) {
	grammar := FieldGrammar{
		{Name: "src_ip", Pattern: `(\d{1,3}(?:\.\d{1,3}){3})`},
		{Name: "request_method", Pattern: `([A-Z]+)`},
		{Name: "url", Pattern: `(\S+)`},
	}
	p, err := New(grammar, Options{})
	require.NoError(t, err)

	rec, ok := p.Parse("10.0.0.1 POST /login?user=admin")
	require.True(t, ok)
	assert.Equal(t, "POST", rec.Value("method"))
	assert.Equal(t, "/login", rec.Value("path"))
	assert.Equal(t, "admin", rec.Query().Get("user"))
}

func TestParseRejectsInput(t *testing.T) {
	p := newCombined(t, Options{MaxLineLength: 120})

	cases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"too-long", "10.0.0.1 " + strings.Repeat("a", 200)},
		{"javascript", `10.0.0.1 - - [10/Oct/2025:13:55:36 +0000] "GET /?u=javascript:alert(1) HTTP/1.1" 200 1 "-" "x"`},
		{"event-handler", `10.0.0.1 - - [10/Oct/2025:13:55:36 +0000] "GET /?x=1 onload=go HTTP/1.1" 200 1 "-" "x"`},
		{"css-expression", `10.0.0.1 "expression (alert)"`},
		{"no-ip-or-date", "hello world"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := p.Parse(tt.line)
			assert.False(t, ok)
			assert.Nil(t, rec)
		})
	}

	stats := p.Stats()
	assert.Equal(t, uint64(len(cases)), stats.Blocked)
	assert.Zero(t, stats.Parsed)
	assert.Zero(t, stats.Failed)
}

func TestParseRejectsMissingOrInvalidSourceIP(t *testing.T) {
	grammar := FieldGrammar{
		{Name: "timestamp", Pattern: `\[([^\]]+)\]`},
		{Name: "request_line", Pattern: `"([^"]*)"`},
	}
	p, err := New(grammar, Options{})
	require.NoError(t, err)

	_, ok := p.Parse(`[2025-01-01 10:00:00] "GET / HTTP/1.1"`)
	assert.False(t, ok)

	combined := newCombined(t, Options{})
	_, ok = combined.Parse(`999.1.1.1 - - [10/Oct/2025:13:55:36 +0000] "GET / HTTP/1.1" 200 1 "-" "x"`)
	assert.False(t, ok)

	assert.Equal(t, Stats{Failed: 1, Total: 1}, p.Stats())
	assert.Equal(t, Stats{Failed: 1, Total: 1}, combined.Stats())
}

func TestParsePartialFallback(t *testing.T) {
	p := newCombined(t, Options{})

	rec, ok := p.Parse(`10.0.0.5 - - [10/Oct/2025:13:55:36 +0000] "GET /a HTTP/1.1" 200 - extra-junk`)
	require.True(t, ok)

	assert.Equal(t, "10.0.0.5", rec.Value("src_ip"))
	assert.Equal(t, "GET /a HTTP/1.1", rec.Value("request_line"))
	assert.Equal(t, "200", rec.Value("status_code"))
	assert.Equal(t, "-", rec.Value("response_size"))
	assert.Equal(t, "", rec.Value("referer"))
	assert.Equal(t, "", rec.Value("user_agent"))
	assert.Equal(t, "/a", rec.Value("path"))

	cache := p.CacheStats()
	assert.Equal(t, uint64(6), cache.Misses)
	assert.Equal(t, uint64(2), cache.Hits)
	assert.Equal(t, 6, cache.Size)

	p.ClearCache()
	cache = p.CacheStats()
	assert.Zero(t, cache.Size)
	assert.Zero(t, cache.Hits)
}

func TestParsePartialNothingMatched(t *testing.T) {
	p, err := New(FieldGrammar{{Name: "src_ip", Pattern: `(\d{1,3}(?:\.\d{1,3}){3})`}}, Options{})
	require.NoError(t, err)

	_, ok := p.Parse("2025-01-01 hello")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestParseMergesEmbeddedJSON(t *testing.T) {
	grammar := FieldGrammar{
		{Name: "src_ip", Pattern: `(\d{1,3}(?:\.\d{1,3}){3})`},
		{Name: "json_data", Pattern: `(\{.*\})`},
	}
	p, err := New(grammar, Options{})
	require.NoError(t, err)

	rec, ok := p.Parse(`10.0.0.1 {\"user\":\"bob\",\"src_ip\":\"1.2.3.4\",\"meta\":{\"role\":\"admin\"}}`)
	require.True(t, ok)

	assert.Equal(t, "10.0.0.1", rec.Value("src_ip"), "existing fields are not overwritten")
	assert.Equal(t, "bob", rec.Value("user"))
	assert.Equal(t, `{"role":"admin"}`, rec.Value("meta"))
	_, hasRaw := rec.Get("json_data")
	assert.False(t, hasRaw)

	nested, ok := rec.Nested("meta")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"role": "admin"}, nested)

	rec, ok = p.Parse(`10.0.0.1 {not json}`)
	require.True(t, ok)
	assert.Equal(t, "{not json}", rec.Value("json_data"))
}

func TestSanitize(t *testing.T) {
	p := newCombined(t, Options{MaxFieldLength: 5})

	assert.Equal(t, "abcde...[truncated]", p.sanitize("abcdefgh"))
	assert.Equal(t, "bold a&lt;b", newCombined(t, Options{}).sanitize(" <b>bold</b> a<b "))
	assert.Equal(t, "", p.sanitize(""))
}

func TestValidIPv4(t *testing.T) {
	cases := map[string]bool{
		"0.0.0.0":         true,
		"255.255.255.255": true,
		"10.0.0.1":        true,
		"256.1.1.1":       false,
		"1.2.3":           false,
		"1.2.3.4.5":       false,
		"a.b.c.d":         false,
		"":                false,
	}
	for input, want := range cases {
		if got := ValidIPv4(input); got != want {
			t.Fatalf("ValidIPv4(%q) expected %v, got %v", input, want, got)
		}
	}
}

func TestFieldGrammarYAML(t *testing.T) {
	var mapped struct {
		Fields FieldGrammar `yaml:"fields"`
	}
	err := yaml.Unmarshal([]byte("fields:\n  src_ip: '(\\S+)'\n  method: '([A-Z]+)'\n  url: '\\S+'\n"), &mapped)
	require.NoError(t, err)
	assert.Equal(t, []string{"src_ip", "method", "url"}, mapped.Fields.Names())
	assert.Equal(t, `\S+`, mapped.Fields[2].Pattern)

	var listed struct {
		Fields FieldGrammar `yaml:"fields"`
	}
	err = yaml.Unmarshal([]byte("fields:\n  - name: src_ip\n    regex: '(\\S+)'\n  - name: url\n    pattern: '(\\S+)'\n"), &listed)
	require.NoError(t, err)
	assert.Equal(t, FieldGrammar{{Name: "src_ip", Pattern: `(\S+)`}, {Name: "url", Pattern: `(\S+)`}}, listed.Fields)

	var bad struct {
		Fields FieldGrammar `yaml:"fields"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("fields: nope\n"), &bad))
}

func TestNewRequiresFields(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	_, err = New(FieldGrammar{{Name: "src_ip", Pattern: `(?<=x)`}}, Options{})
	assert.Error(t, err)
}
