package rules

import (
	"github.com/klyr/logtriage/internal/normalize"
	"github.com/klyr/logtriage/internal/record"
)

type candidate struct {
	rule    *CompiledRule
	details MatchDetails
}

// quickMatch tests every rule against rec and returns the rules with at
// least one matching field, in rule order.
func quickMatch(rules []*CompiledRule, rec *record.Record, decoder *normalize.Decoder) []candidate {
	ctx := buildAttackContext(rec)

	var out []candidate
	for _, rule := range rules {
		details, ok := matchRule(rule, rec, ctx, decoder)
		if ok {
			out = append(out, candidate{rule: rule, details: details})
		}
	}
	return out
}

func matchRule(rule *CompiledRule, rec *record.Record, ctx attackContext, decoder *normalize.Decoder) (MatchDetails, bool) {
	var details MatchDetails

	for _, fp := range rule.Fields {
		value, ok := resolveField(rec, ctx, fp.Field)
		if !ok && rule.Legacy {
			value = rec.Raw()
			ok = value != ""
		}
		if !ok {
			continue
		}

		decoded := false
		if fp.Decode {
			res := decoder.Apply(value)
			value = res.Normalized
			decoded = res.Changed()
		}

		matched, evidence := fp.Matcher.Match(value)
		if !matched {
			continue
		}
		details.add(fp.Field, evidence)
		if decoded {
			details.RequiredDecode = true
		}
	}
	return details, len(details.MatchedFields) > 0
}

func (d *MatchDetails) add(field, evidence string) {
	if d.Evidence == nil {
		d.Evidence = map[string]string{}
	}
	if _, seen := d.Evidence[field]; seen {
		return
	}
	d.MatchedFields = append(d.MatchedFields, field)
	d.Evidence[field] = evidence
}

// Matched reports whether field is among the matched fields.
func (d MatchDetails) Matched(field string) bool {
	_, ok := d.Evidence[field]
	return ok
}
