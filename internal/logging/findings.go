package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/klyr/logtriage/internal/enrich"
	"github.com/klyr/logtriage/internal/record"
	"github.com/klyr/logtriage/internal/rules"
	"github.com/klyr/logtriage/internal/scoring"
)

const maxEvidence = 64

// Finding is written as a single JSON object per match.
type Finding struct {
	Timestamp      time.Time         `json:"ts"`
	ScanID         string            `json:"scan_id,omitempty"`
	Line           int64             `json:"line,omitempty"`
	RuleID         string            `json:"rule_id"`
	RuleName       string            `json:"rule_name"`
	Category       string            `json:"category"`
	RuleSeverity   scoring.Severity  `json:"rule_severity"`
	Score          float64           `json:"score"`
	Severity       scoring.Severity  `json:"severity"`
	Confidence     float64           `json:"confidence"`
	AttackVectors  []string          `json:"attack_vectors"`
	RiskFactors    []string          `json:"risk_factors"`
	MatchedFields  []string          `json:"matched_fields"`
	RequiredDecode bool              `json:"required_decode"`
	Evidence       map[string]string `json:"evidence,omitempty"`
	SourceIP       string            `json:"src_ip"`
	Geo            *enrich.Geo       `json:"geo,omitempty"`
	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	StatusCode     string            `json:"status_code,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Record         *record.Record    `json:"record,omitempty"`
}

// FromMatch flattens a match result. line is the 1-based input line number,
// 0 when unknown.
func FromMatch(m rules.MatchResult, line int64) Finding {
	rec := m.Record
	path := rec.Value("path")
	if path == "" {
		path = rec.Value("request_path")
	}
	return Finding{
		Timestamp:      m.Timestamp,
		Line:           line,
		RuleID:         m.RuleID,
		RuleName:       m.Rule.Name,
		Category:       m.Rule.Category,
		RuleSeverity:   m.Rule.Severity,
		Score:          m.ThreatScore.Score,
		Severity:       m.ThreatScore.Severity,
		Confidence:     m.ThreatScore.Confidence,
		AttackVectors:  m.ThreatScore.AttackVectors,
		RiskFactors:    m.ThreatScore.RiskFactors,
		MatchedFields:  m.Details.MatchedFields,
		RequiredDecode: m.Details.RequiredDecode,
		Evidence:       m.Details.Evidence,
		SourceIP:       rec.Value("src_ip"),
		Method:         rec.Value("method"),
		Path:           path,
		StatusCode:     rec.Value("status_code"),
		UserAgent:      rec.Value("user_agent"),
		Record:         rec,
	}
}

// FindingLogger appends findings as JSON lines. It is safe for concurrent use.
type FindingLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFindingLogger(w io.Writer) *FindingLogger {
	return &FindingLogger{w: w}
}

func OpenFindingLog(path string) (*FindingLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewFindingLogger(file), file.Close, nil
}

func (l *FindingLogger) Write(finding Finding) error {
	finding.Evidence = sanitizeEvidence(finding.Evidence)

	data, err := json.Marshal(finding)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

func sanitizeEvidence(evidence map[string]string) map[string]string {
	if len(evidence) == 0 {
		return nil
	}
	out := make(map[string]string, len(evidence))
	for field, value := range evidence {
		out[field] = truncate(value, maxEvidence)
	}
	return out
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
