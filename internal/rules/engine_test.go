package rules

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/klyr/logtriage/internal/normalize"
	"github.com/klyr/logtriage/internal/parser"
	"github.com/klyr/logtriage/internal/record"
	"github.com/klyr/logtriage/internal/scoring"
)

var fixedClock = func() time.Time { return time.Date(2025, 10, 10, 13, 55, 36, 0, time.UTC) }

func fieldRule(name string, severity scoring.Severity, entries ...string) Rule {
	var fields []PatternEntry
	for i := 0; i+1 < len(entries); i += 2 {
		fields = append(fields, PatternEntry{Key: entries[i], Expr: entries[i+1]})
	}
	return Rule{Name: name, Severity: severity, Pattern: FieldsPattern(fields...)}
}

func newTestEngine(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	e, err := NewFromRules(rules, WithClock(fixedClock))
	require.NoError(t, err)
	return e
}

func TestMatchUnionSelect(t *testing.T) {
	e := newTestEngine(t, fieldRule("union", scoring.SeverityHigh, "request_path", `(?i)union\s+select`))

	results := e.Match(record.Of("request_path", "/x?id=1 UNION SELECT 1"))
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "unknown_0", got.RuleID)
	assert.Equal(t, []string{"request_path"}, got.Details.MatchedFields)
	assert.False(t, got.Details.RequiredDecode)
	assert.Equal(t, "UNION SELECT", got.Details.Evidence["request_path"])
	assert.GreaterOrEqual(t, got.ThreatScore.Score, 7.5+1.0)
	assert.Equal(t, fixedClock(), got.Timestamp)
	assert.Equal(t, "union", got.Rule.Name)
}

func TestMatchRejectedLineNeverMatches(t *testing.T) {
	p, err := parser.New(parser.CombinedLogFormat(), parser.Options{})
	require.NoError(t, err)
	e := newTestEngine(t, fieldRule("any", scoring.SeverityLow, "request_line", "GET"))

	rec, ok := p.Parse(`- - [10/Oct/2025:13:55:36 +0000] "GET / HTTP/1.1" 200 1 "-" "x"`)
	assert.False(t, ok)
	assert.Empty(t, e.Match(rec))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Failed+stats.Blocked)
	assert.Zero(t, e.Statistics().TotalMatches)
}

func TestMatchIsDeterministic(t *testing.T) {
	e := newTestEngine(t,
		fieldRule("a", scoring.SeverityMedium, "request_path", "admin", "user_agent", "curl"),
		fieldRule("b", scoring.SeverityMedium, "request_path_params", "<script>"),
	)
	rec := record.Of("request_path", "/admin?q=%3Cscript%3E", "user_agent", "curl/8.0")

	first := e.Match(rec)
	second := e.Match(rec)
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(4), e.Statistics().TotalMatches)
}

func TestMatchSortedByScoreStable(t *testing.T) {
	e := newTestEngine(t,
		fieldRule("low-a", scoring.SeverityLow, "request_path", "admin"),
		fieldRule("high", scoring.SeverityHigh, "request_path", "admin"),
		fieldRule("low-b", scoring.SeverityLow, "request_path", "admin"),
		fieldRule("critical-miss", scoring.SeverityCritical, "request_path", "nomatch"),
	)

	for i := 0; i < 20; i++ {
		results := e.Match(record.Of("request_path", "/admin"))
		require.Len(t, results, 3)
		ids := []string{results[0].RuleID, results[1].RuleID, results[2].RuleID}
		assert.Equal(t, []string{"unknown_1", "unknown_0", "unknown_2"}, ids)
		for j := 1; j < len(results); j++ {
			assert.GreaterOrEqual(t, results[j-1].ThreatScore.Score, results[j].ThreatScore.Score)
		}
	}
}

func TestMatchSuppressesBenignCrawler(t *testing.T) {
	e := newTestEngine(t, fieldRule("union", scoring.SeverityHigh, "request_path", `union\s+select`))

	for _, ua := range []string{
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		"Mozilla/5.0 (compatible; bingbot/2.0)",
		"Mozilla/5.0 (compatible; Yahoo! Slurp)",
		"DuckDuckBot/1.1",
	} {
		results := e.Match(record.Of("request_path", "/x?id=1 union select 1", "user_agent", ua))
		assert.Empty(t, results, ua)
	}
	assert.Zero(t, e.Statistics().TotalMatches)

	results := e.Match(record.Of("request_path", "/x?id=1 union select 1", "user_agent", "sqlmap/1.7"))
	assert.Len(t, results, 1)
}

func TestEngineLogsCategoryAndSuppressedAgent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	known := fieldRule("union", scoring.SeverityHigh, "request_path", `union\s+select`)
	known.Category = "sql_injection"
	odd := fieldRule("odd", scoring.SeverityLow, "request_path", "nothing")
	odd.Category = "made_up"

	e, err := NewFromRules([]Rule{known, odd}, WithLogger(zap.New(core)))
	require.NoError(t, err)

	warned := logs.FilterMessage("rule category has no threat weight").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "made_up", warned[0].ContextMap()["category"])
	assert.Equal(t, "made_up_1", warned[0].ContextMap()["rule_id"])

	assert.Empty(t, e.Match(record.Of("request_path", "union select", "user_agent", "Mozilla/5.0 (compatible; bingbot/2.0)")))
	suppressed := logs.FilterMessage("match suppressed").All()
	require.Len(t, suppressed, 1)
	assert.Equal(t, "bingbot", suppressed[0].ContextMap()["agent"])
	assert.Equal(t, "sql_injection_0", suppressed[0].ContextMap()["rule_id"])
}

func TestMatchBenignAgentsOption(t *testing.T) {
	rule := fieldRule("union", scoring.SeverityHigh, "request_path", `union\s+select`)
	rec := record.Of("request_path", "union select", "user_agent", "Googlebot/2.1")

	e, err := NewFromRules([]Rule{rule}, WithBenignAgents(nil))
	require.NoError(t, err)
	assert.Len(t, e.Match(rec), 1)

	e, err = NewFromRules([]Rule{rule}, WithBenignAgents([]string{"InternalScanner"}))
	require.NoError(t, err)
	assert.Len(t, e.Match(rec), 1)
	assert.Empty(t, e.Match(record.Of("request_path", "union select", "user_agent", "internalscanner/3")))
}

func TestMatchDecodeThenMatch(t *testing.T) {
	e := newTestEngine(t,
		fieldRule("decoded", scoring.SeverityMedium, "request_path_params", "<script>"),
		fieldRule("raw-only", scoring.SeverityMedium, "request_path_params", "%3Cscript"),
	)

	results := e.Match(record.Of("request_path", "/q?x=%3Cscript%3E"))
	require.Len(t, results, 1)
	assert.Equal(t, "decoded", results[0].Rule.Name)
	assert.True(t, results[0].Details.RequiredDecode)
	assert.Equal(t, []string{"request_path"}, results[0].Details.MatchedFields)
	assert.Contains(t, results[0].ThreatScore.AttackVectors, "evasion_technique")
}

func TestMatchDecodeSurvivesMalformedEscape(t *testing.T) {
	e := newTestEngine(t, fieldRule("xss", scoring.SeverityMedium, "request_path_params", "<script>"))

	require.Len(t, e.Match(record.Of("request_path", "/a?q=%3Cscript%3Ealert(1)")), 1)

	results := e.Match(record.Of("request_path", "/a?q=%3Cscript%3Ealert(1)&x=%zz"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Details.RequiredDecode)
}

func TestMatchDecodeNotRequiredWhenUnchanged(t *testing.T) {
	e := newTestEngine(t, fieldRule("plain", scoring.SeverityLow, "request_path_params", `union\s+select`))

	results := e.Match(record.Of("request_path", "/a?q=union select"))
	require.Len(t, results, 1)
	assert.False(t, results[0].Details.RequiredDecode)
	assert.InDelta(t, 3.5+1.0, results[0].ThreatScore.Score, 1e-9)
}

func TestMatchRequiredDecodeOnlyForMatchedFields(t *testing.T) {
	e := newTestEngine(t, fieldRule("mixed", scoring.SeverityLow,
		"referer_params", "nothing-here",
		"request_path", "admin",
	))

	results := e.Match(record.Of("request_path", "/admin", "referer", "http://x/%41"))
	require.Len(t, results, 1)
	assert.False(t, results[0].Details.RequiredDecode)
	assert.Equal(t, []string{"request_path"}, results[0].Details.MatchedFields)
}

func TestMatchLegacyPattern(t *testing.T) {
	e := newTestEngine(t, Rule{Name: "passwd", Severity: scoring.SeverityHigh, Pattern: LegacyPattern("etc/passwd")})

	line := `10.0.0.1 - - [10/Oct/2025:13:55:36 +0000] "GET /../../etc/passwd HTTP/1.1" 404 0 "-" "x"`
	rec := record.NewBuilder().SetRaw(line).Set("src_ip", "10.0.0.1").Build()

	results := e.Match(rec)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"combined"}, results[0].Details.MatchedFields)
	assert.InDelta(t, 7.5, results[0].ThreatScore.Score, 1e-9)

	assert.Empty(t, e.Match(record.Of("src_ip", "10.0.0.1")))
}

func TestMatchResolvesNestedAndContextFields(t *testing.T) {
	cases := []struct {
		name  string
		field string
		expr  string
		rec   *record.Record
	}{
		{
			name:  "nested-embedded",
			field: "cmd",
			expr:  `cat\s+/etc`,
			rec: record.NewBuilder().
				Set("meta", `{"inner":{"cmd":"cat /etc/shadow"}}`).
				SetNested("meta", map[string]any{"inner": map[string]any{"cmd": "cat /etc/shadow"}}).
				Build(),
		},
		{
			name:  "nested-list",
			field: "file",
			expr:  `\.php$`,
			rec: record.NewBuilder().
				Set("uploads", `[{"size":"1"},{"file":"shell.php"}]`).
				SetNested("uploads", []any{map[string]any{"size": "1"}, map[string]any{"file": "shell.php"}}).
				Build(),
		},
		{
			name:  "query-params",
			field: "id",
			expr:  `or\s+1=1`,
			rec:   record.NewBuilder().Set("url", "/?id=1").SetQuery(url.Values{"id": {"1 OR 1=1"}}).Build(),
		},
		{
			name:  "context-param",
			field: "param_id",
			expr:  `^1 or 1=1$`,
			rec:   record.NewBuilder().Set("url", "/?id=1").SetQuery(url.Values{"id": {"1 OR 1=1"}}).Build(),
		},
		{
			name:  "context-request-path-param",
			field: "param_file",
			expr:  `\.\./`,
			rec:   record.Of("request_path", "/download?file=../../secret"),
		},
		{
			name:  "context-header-lines",
			field: "x-auth",
			expr:  `^admin$`,
			rec:   record.Of("request_headers", "Host: example\nX-Auth: admin"),
		},
		{
			name:  "context-header-map",
			field: "user_agent",
			expr:  `sqlmap`,
			rec: record.NewBuilder().
				Set("request_headers", `{"user_agent":"sqlmap/1.7"}`).
				SetNested("request_headers", map[string]any{"User_Agent": "sqlmap/1.7"}).
				Build(),
		},
		{
			name:  "context-body",
			field: "body",
			expr:  `"role":"admin"`,
			rec: record.NewBuilder().
				Set("request_body", `{"role":"admin"}`).
				SetNested("request_body", map[string]any{"role": "admin"}).
				Build(),
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, fieldRule(tt.name, scoring.SeverityMedium, tt.field, tt.expr))
			results := e.Match(tt.rec)
			require.Len(t, results, 1)
			assert.Equal(t, []string{tt.field}, results[0].Details.MatchedFields)
		})
	}
}

func TestMatchEmptyFieldFallsThroughToContext(t *testing.T) {
	e := newTestEngine(t, fieldRule("ua", scoring.SeverityMedium, "x-block", "yes"))

	rec := record.Of("x-block", "", "request_headers", "X-Block: yes")
	results := e.Match(rec)
	assert.Empty(t, results, "an empty record field shadows the header copy")

	rec = record.Of("request_headers", "X-Block: yes")
	assert.Len(t, e.Match(rec), 1)
}

func TestMatchEmptyRecord(t *testing.T) {
	e := newTestEngine(t, fieldRule("any", scoring.SeverityLow, "request_path", "."))
	assert.Nil(t, e.Match(nil))
	assert.Nil(t, e.Match(record.NewBuilder().Build()))
}

func TestStatistics(t *testing.T) {
	e := newTestEngine(t,
		fieldRule("b", scoring.SeverityLow, "request_path", "b"),
		fieldRule("a", scoring.SeverityLow, "request_path", "a"),
		fieldRule("never", scoring.SeverityLow, "request_path", "zzz"),
	)

	e.Match(record.Of("request_path", "/a"))
	e.Match(record.Of("request_path", "/b"))
	e.Match(record.Of("request_path", "/ab"))
	e.Match(record.Of("request_path", "/a"))

	stats := e.Statistics()
	assert.Equal(t, 3, stats.TotalRules)
	assert.Equal(t, uint64(5), stats.TotalMatches)
	assert.Equal(t, map[string]uint64{"unknown_0": 2, "unknown_1": 3}, stats.PerRule)
	assert.Equal(t, []RuleCount{{"unknown_1", 3}, {"unknown_0", 2}}, stats.Top)
}

func TestStatisticsTopTen(t *testing.T) {
	var rules []Rule
	for i := 0; i < 12; i++ {
		rules = append(rules, fieldRule("r", scoring.SeverityLow, "request_path", "x"))
	}
	e := newTestEngine(t, rules...)
	e.Match(record.Of("request_path", "x"))

	stats := e.Statistics()
	assert.Equal(t, uint64(12), stats.TotalMatches)
	require.Len(t, stats.Top, 10)
	assert.Equal(t, "unknown_0", stats.Top[0].RuleID)
	assert.Equal(t, "unknown_1", stats.Top[1].RuleID)
	assert.Equal(t, "unknown_10", stats.Top[2].RuleID, "ties are ordered by rule id")
}

func TestMatchConcurrent(t *testing.T) {
	e := newTestEngine(t, fieldRule("union", scoring.SeverityHigh, "request_path", `union\s+select`))

	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				e.Match(record.Of("request_path", "union select"))
			}
		}()
	}
	for w := 0; w < 8; w++ {
		<-done
	}
	assert.Equal(t, uint64(400), e.Statistics().PerRule["unknown_0"])
}

func TestNewFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sqli.yaml", bundleRules)

	e, err := New(dir, WithClock(fixedClock), WithDecoder(normalize.NewDecoder(normalize.Options{SkipBase64: true})))
	require.NoError(t, err)
	require.Len(t, e.Rules(), 1)
	require.Len(t, e.Warnings(), 1)

	results := e.Match(record.Of("request_path", "/?q=1%20UNION%20SELECT%202", "user_agent", "sqlmap/1.7"))
	require.Len(t, results, 1)
	assert.Equal(t, "sql_injection_0", results[0].RuleID)
	assert.Equal(t, []string{"request_path", "user_agent"}, results[0].Details.MatchedFields)
	assert.True(t, results[0].Details.RequiredDecode)
	assert.Equal(t, scoring.SeverityCritical, results[0].ThreatScore.Severity)
}

func TestNewErrors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoRuleDir)

	_, err = New(t.TempDir())
	assert.ErrorIs(t, err, ErrNoRules)

	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "- severity: low\n  pattern: x\n")
	_, err = New(dir)
	assert.ErrorIs(t, err, ErrNoRules)

	_, err = NewFromRules(nil)
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", legacyRule)

	e, err := New(dir)
	require.NoError(t, err)
	require.Len(t, e.Rules(), 1)

	writeFile(t, dir, "b.yaml", bundleRules)
	require.NoError(t, e.Reload())
	assert.Len(t, e.Rules(), 2)
	assert.Len(t, e.Warnings(), 1)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.yaml")))
	require.NoError(t, os.Remove(filepath.Join(dir, "b.yaml")))
	assert.ErrorIs(t, e.Reload(), ErrNoRules)
	assert.Len(t, e.Rules(), 2, "failed reload keeps the previous rules")
}
