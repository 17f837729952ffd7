package rules

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klyr/logtriage/internal/record"
	"github.com/klyr/logtriage/internal/scoring"
)

type PatternKind int

const (
	PatternNone PatternKind = iota
	PatternLegacy
	PatternFields
)

// PatternEntry is one field->expression pair of a rule pattern, in file order.
type PatternEntry struct {
	Key  string
	Expr string

	err error
}

// Pattern is either a single legacy expression or an ordered field map.
type Pattern struct {
	Kind   PatternKind
	Legacy string
	Fields []PatternEntry
}

func LegacyPattern(expr string) Pattern {
	return Pattern{Kind: PatternLegacy, Legacy: expr}
}

func FieldsPattern(entries ...PatternEntry) Pattern {
	return Pattern{Kind: PatternFields, Fields: entries}
}

func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*p = Pattern{}
			return nil
		}
		*p = LegacyPattern(node.Value)
		return nil
	case yaml.MappingNode:
		entries := make([]PatternEntry, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			entry := PatternEntry{Key: key.Value}
			if value.Kind == yaml.ScalarNode && value.Tag != "!!null" {
				entry.Expr = value.Value
			} else {
				entry.err = fmt.Errorf("line %d: pattern for %q is not a string", value.Line, key.Value)
			}
			entries = append(entries, entry)
		}
		*p = FieldsPattern(entries...)
		return nil
	default:
		return fmt.Errorf("line %d: pattern must be a string or a mapping", node.Line)
	}
}

// FieldCount is the number of entries of a field pattern, 0 for legacy.
func (p Pattern) FieldCount() int {
	if p.Kind != PatternFields {
		return 0
	}
	return len(p.Fields)
}

func (p Pattern) Empty() bool {
	switch p.Kind {
	case PatternLegacy:
		return p.Legacy == ""
	case PatternFields:
		return len(p.Fields) == 0
	default:
		return true
	}
}

// Rule is a detection rule as written in a rule file.
type Rule struct {
	Name           string           `yaml:"name"`
	Severity       scoring.Severity `yaml:"severity"`
	Category       string           `yaml:"category"`
	Description    string           `yaml:"description"`
	AttackPatterns []string         `yaml:"attack_patterns"`
	ThreatLevel    string           `yaml:"threat_level"`
	ResponseCodes  []int            `yaml:"response_codes"`
	Pattern        Pattern          `yaml:"pattern"`

	SourceFile string `yaml:"-"`
}

// MatchResult is one rule firing on one record.
type MatchResult struct {
	Rule        Rule
	Record      *record.Record
	ThreatScore scoring.ThreatScore
	Details     MatchDetails
	RuleID      string
	Timestamp   time.Time
}

// MatchDetails records which fields matched and whether any of them only
// matched after decoding.
type MatchDetails struct {
	MatchedFields  []string          `json:"matched_fields"`
	RequiredDecode bool              `json:"required_decode"`
	Evidence       map[string]string `json:"evidence,omitempty"`
}

// Matcher returns true if the input matches and a short evidence snippet.
type Matcher interface {
	Match(input string) (bool, string)
}
