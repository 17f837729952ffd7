package rules

import "github.com/klyr/logtriage/internal/record"

// DefaultBenignAgents are crawler tokens whose requests never produce findings.
var DefaultBenignAgents = []string{"googlebot", "bingbot", "slurp", "duckduckbot"}

// ContextFilter drops candidates from clients on an allow-list of known
// benign user agents.
type ContextFilter struct {
	agents *AhoMatcher
}

// NewContextFilter builds a filter for the given agent tokens. An empty list
// gives a filter that keeps everything.
func NewContextFilter(agents []string) *ContextFilter {
	m, err := NewAhoMatcher(agents)
	if err != nil {
		return &ContextFilter{}
	}
	return &ContextFilter{agents: m}
}

// Allow reports whether a match of rule on rec should be kept.
func (f *ContextFilter) Allow(_ *CompiledRule, rec *record.Record) bool {
	_, benign := f.BenignAgent(rec.Value("user_agent"))
	return !benign
}

// BenignAgent returns the allow-listed token found in userAgent, if any.
func (f *ContextFilter) BenignAgent(userAgent string) (string, bool) {
	if f == nil {
		return "", false
	}
	return f.agents.Find(userAgent)
}
