package rules

import (
	"fmt"
	"strings"
)

const (
	// decodeSuffix marks a field pattern whose value is decoded before matching.
	decodeSuffix = "_params"

	// legacyField is the target of a single-string pattern.
	legacyField = "combined"

	unknownCategory = "unknown"
)

// FieldPattern is one compiled field->expression pair of a rule.
type FieldPattern struct {
	Key     string
	Field   string
	Decode  bool
	Matcher Matcher
}

// CompiledRule is a rule ready for matching.
type CompiledRule struct {
	ID     string
	Rule   Rule
	Fields []FieldPattern
	Legacy bool
}

// RuleSet is an immutable, ordered set of compiled rules.
type RuleSet struct {
	rules  []*CompiledRule
	byID   map[string]*CompiledRule
	loaded int
}

func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Loaded is the number of rules handed to Compile, including those that
// failed to compile.
func (s *RuleSet) Loaded() int {
	if s == nil {
		return 0
	}
	return s.loaded
}

func (s *RuleSet) Rules() []*CompiledRule {
	if s == nil {
		return nil
	}
	return append([]*CompiledRule(nil), s.rules...)
}

func (s *RuleSet) Get(id string) (*CompiledRule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.byID[id]
	return r, ok
}

// Compile builds a rule set. A rule that fails to compile is dropped with a
// warning; it still consumes its index so the ids of the others are stable.
func Compile(rules []Rule) (*RuleSet, []Warning) {
	set := &RuleSet{
		rules:  make([]*CompiledRule, 0, len(rules)),
		byID:   make(map[string]*CompiledRule, len(rules)),
		loaded: len(rules),
	}

	var warnings []Warning
	for i, rule := range rules {
		compiled, err := compileRule(rule, i)
		if err != nil {
			warnings = append(warnings, Warning{File: rule.SourceFile, Rule: rule.Name, Err: err})
			continue
		}
		set.rules = append(set.rules, compiled)
		set.byID[compiled.ID] = compiled
	}
	return set, warnings
}

func ruleID(category string, index int) string {
	if category == "" {
		category = unknownCategory
	}
	return fmt.Sprintf("%s_%d", category, index)
}

func compileRule(rule Rule, index int) (*CompiledRule, error) {
	if err := checkRule(rule); err != nil {
		return nil, err
	}

	compiled := &CompiledRule{ID: ruleID(rule.Category, index), Rule: rule}

	if rule.Pattern.Kind == PatternLegacy {
		matcher, err := NewRegexMatcher(rule.Pattern.Legacy)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		compiled.Legacy = true
		compiled.Fields = []FieldPattern{{Key: legacyField, Field: legacyField, Matcher: matcher}}
		return compiled, nil
	}

	compiled.Fields = make([]FieldPattern, 0, len(rule.Pattern.Fields))
	for _, entry := range rule.Pattern.Fields {
		if entry.err != nil {
			return nil, entry.err
		}
		matcher, err := NewRegexMatcher(entry.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for %q: %w", entry.Key, err)
		}
		field, decode := strings.CutSuffix(entry.Key, decodeSuffix)
		compiled.Fields = append(compiled.Fields, FieldPattern{
			Key:     entry.Key,
			Field:   field,
			Decode:  decode,
			Matcher: matcher,
		})
	}
	return compiled, nil
}
