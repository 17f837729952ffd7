package rules

import "regexp"

// ruleFlags makes every rule expression case-insensitive with dot matching
// newlines.
const ruleFlags = "(?is)"

// RegexMatcher runs an unanchored search and reports the matched text.
type RegexMatcher struct {
	re     *regexp.Regexp
	source string
}

func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(ruleFlags + pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re, source: pattern}, nil
}

func (m *RegexMatcher) Match(input string) (bool, string) {
	loc := m.re.FindStringIndex(input)
	if loc == nil {
		return false, ""
	}
	return true, snippet(input[loc[0]:loc[1]])
}

// String returns the expression as written in the rule.
func (m *RegexMatcher) String() string {
	return m.source
}
