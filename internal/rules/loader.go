package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/klyr/logtriage/internal/scoring"
)

var (
	ErrNoRuleDir = errors.New("rule directory not found")
	ErrNoRules   = errors.New("no rules loaded")
)

// Warning is a soft failure: one file or rule was skipped and loading went on.
type Warning struct {
	File string
	Rule string
	Err  error
}

func (w Warning) Error() string {
	switch {
	case w.Rule != "" && w.File != "":
		return fmt.Sprintf("%s: rule %q: %v", w.File, w.Rule, w.Err)
	case w.File != "":
		return fmt.Sprintf("%s: %v", w.File, w.Err)
	case w.Rule != "":
		return fmt.Sprintf("rule %q: %v", w.Rule, w.Err)
	default:
		return w.Err.Error()
	}
}

func (w Warning) Unwrap() error { return w.Err }

// LoadDir reads every *.yaml and *.yml file directly inside dir, in file
// name order. Files that cannot be read or parsed become warnings.
func LoadDir(dir string) ([]Rule, []Warning, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrNoRuleDir, dir, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is not a directory", ErrNoRuleDir, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read rule directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var (
		rules    []Rule
		warnings []Warning
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, Warning{File: path, Err: err})
			continue
		}
		loaded, warns := ParseRules(data, path)
		rules = append(rules, loaded...)
		warnings = append(warnings, warns...)
	}
	return rules, warnings, nil
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// ParseRules decodes a rule file holding either one rule mapping or a list
// of them. Multiple YAML documents are read in order.
func ParseRules(data []byte, source string) ([]Rule, []Warning) {
	var (
		rules    []Rule
		warnings []Warning
	)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warnings = append(warnings, Warning{File: source, Err: fmt.Errorf("parse yaml: %w", err)})
			break
		}
		if len(doc.Content) == 0 {
			continue
		}

		root := doc.Content[0]
		switch root.Kind {
		case yaml.MappingNode:
			rule, warn := decodeRule(root, source)
			if warn != nil {
				warnings = append(warnings, *warn)
				continue
			}
			rules = append(rules, rule)
		case yaml.SequenceNode:
			for _, item := range root.Content {
				rule, warn := decodeRule(item, source)
				if warn != nil {
					warnings = append(warnings, *warn)
					continue
				}
				rules = append(rules, rule)
			}
		default:
			warnings = append(warnings, Warning{File: source, Err: fmt.Errorf("line %d: expected a rule or a list of rules", root.Line)})
		}
	}
	return rules, warnings
}

func decodeRule(node *yaml.Node, source string) (Rule, *Warning) {
	if node.Kind != yaml.MappingNode {
		return Rule{}, &Warning{File: source, Err: fmt.Errorf("line %d: rule must be a mapping", node.Line)}
	}

	var rule Rule
	if err := node.Decode(&rule); err != nil {
		return Rule{}, &Warning{File: source, Rule: ruleName(node), Err: err}
	}
	rule.SourceFile = source

	if err := checkRule(rule); err != nil {
		return Rule{}, &Warning{File: source, Rule: rule.Name, Err: err}
	}
	if rule.Severity == "" {
		rule.Severity = scoring.SeverityMedium
	}
	return rule, nil
}

func checkRule(rule Rule) error {
	switch {
	case rule.Name == "":
		return errors.New("missing name")
	case rule.Pattern.Kind == PatternNone:
		return errors.New("missing pattern")
	case rule.Pattern.Empty():
		return errors.New("empty pattern")
	}
	return nil
}

// ruleName digs the name out of a rule that failed to decode.
func ruleName(node *yaml.Node) string {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "name" {
			return node.Content[i+1].Value
		}
	}
	return ""
}
