package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldSpec names one field of a log line and the pattern that extracts it.
type FieldSpec struct {
	Name    string
	Pattern string
}

// FieldGrammar is the ordered list of fields making up a line. In YAML it is
// either a mapping name->pattern or a list of {name, regex} objects.
type FieldGrammar []FieldSpec

func (g *FieldGrammar) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(FieldGrammar, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: field %q pattern must be a string", value.Line, key.Value)
			}
			out = append(out, FieldSpec{Name: key.Value, Pattern: value.Value})
		}
		*g = out
		return nil
	case yaml.SequenceNode:
		var items []struct {
			Name    string `yaml:"name"`
			Regex   string `yaml:"regex"`
			Pattern string `yaml:"pattern"`
		}
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := make(FieldGrammar, 0, len(items))
		for i, item := range items {
			if item.Name == "" {
				return fmt.Errorf("fields[%d].name is required", i)
			}
			pattern := item.Regex
			if pattern == "" {
				pattern = item.Pattern
			}
			out = append(out, FieldSpec{Name: item.Name, Pattern: pattern})
		}
		*g = out
		return nil
	default:
		return fmt.Errorf("line %d: fields must be a mapping or a list", node.Line)
	}
}

func (g FieldGrammar) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range g {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Pattern},
		)
	}
	return node, nil
}

// Names returns the field names in order.
func (g FieldGrammar) Names() []string {
	out := make([]string, len(g))
	for i, f := range g {
		out[i] = f.Name
	}
	return out
}

// CombinedLogFormat matches the nginx/apache combined format.
func CombinedLogFormat() FieldGrammar {
	return FieldGrammar{
		{Name: "src_ip", Pattern: `(\d{1,3}(?:\.\d{1,3}){3})`},
		{Name: "remote_user", Pattern: `\S+\s+(\S+)`},
		{Name: "timestamp", Pattern: `\[([^\]]+)\]`},
		{Name: "request_line", Pattern: `"([^"]*)"`},
		{Name: "status_code", Pattern: `(\d{3})`},
		{Name: "response_size", Pattern: `(\d+|-)`},
		{Name: "referer", Pattern: `"([^"]*)"`},
		{Name: "user_agent", Pattern: `"([^"]*)"`},
	}
}
