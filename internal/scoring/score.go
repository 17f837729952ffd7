package scoring

import "strings"

const (
	MinScore      = 1.0
	MaxScore      = 10.0
	MinConfidence = 0.1
	MaxConfidence = 1.0

	baseConfidence = 0.5
)

// Input is everything the scorer needs to know about one rule match.
type Input struct {
	Severity       Severity
	Category       string
	AttackPatterns []string
	PatternFields  int
	ThreatLevel    string
	ResponseCodes  []int
	MatchedFields  []string
	RequiredDecode bool
}

type ThreatScore struct {
	Score         float64  `json:"score"`
	Severity      Severity `json:"severity"`
	Confidence    float64  `json:"confidence"`
	AttackVectors []string `json:"attack_vectors"`
	RiskFactors   []string `json:"risk_factors"`
}

// Score computes the threat score of a match. It is additive and clamped;
// the same input always yields the same score.
func Score(in Input) ThreatScore {
	score, ok := baseScores[in.Severity]
	if !ok {
		score = defaultBaseScore
	}
	confidence := baseConfidence

	var vectors, risks tagSet

	for _, field := range in.MatchedFields {
		fw, ok := fieldWeights[field]
		if !ok {
			continue
		}
		score += fw.weight
		confidence += 0.08
		vectors.add(fw.vector)
		risks.add(fw.risk)
	}

	if in.RequiredDecode {
		score += 2.0
		confidence += 0.15
		vectors.add("evasion_technique")
		risks.add("obfuscation_attempt")
	}

	if ct, ok := categoryThreats[in.Category]; ok {
		score += ct.delta
		confidence += 0.12
		vectors.add(ct.vector)
		risks.add(ct.risk)
	}

	for _, pattern := range in.AttackPatterns {
		switch {
		case containsAny(pattern, highRiskKeywords):
			score += 1.0
			confidence += 0.10
		case containsAny(pattern, mediumRiskKeywords):
			score += 0.5
			confidence += 0.05
		}
	}

	switch {
	case in.PatternFields >= 5:
		score += 0.3
		confidence += 0.05
	case in.PatternFields >= 3:
		score += 0.15
	}

	switch in.ThreatLevel {
	case string(SeverityCritical):
		score += 1.0
		confidence += 0.10
	case string(SeverityHigh):
		score += 0.5
	}

	for _, code := range in.ResponseCodes {
		if successCodes[code] {
			score += 0.4
			confidence += 0.08
			break
		}
	}

	score = clamp(score, MinScore, MaxScore)
	confidence = clamp(confidence, MinConfidence, MaxConfidence)

	return ThreatScore{
		Score:         score,
		Severity:      SeverityFor(score),
		Confidence:    confidence,
		AttackVectors: vectors.list(),
		RiskFactors:   risks.list(),
	}
}

// SeverityFor maps a score onto a severity level.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.5:
		return SeverityHigh
	case score >= 5.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// tagSet keeps the first occurrence of each tag, in order.
type tagSet struct {
	seen  map[string]struct{}
	items []string
}

func (t *tagSet) add(tag string) {
	if tag == "" {
		return
	}
	if t.seen == nil {
		t.seen = map[string]struct{}{}
	}
	if _, ok := t.seen[tag]; ok {
		return
	}
	t.seen[tag] = struct{}{}
	t.items = append(t.items, tag)
}

func (t *tagSet) list() []string {
	if len(t.items) == 0 {
		return []string{}
	}
	return append([]string(nil), t.items...)
}
