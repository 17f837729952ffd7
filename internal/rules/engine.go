package rules

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/klyr/logtriage/internal/normalize"
	"github.com/klyr/logtriage/internal/record"
	"github.com/klyr/logtriage/internal/scoring"
)

// Engine matches records against a compiled rule set and scores the hits.
// It is safe for concurrent use.
type Engine struct {
	dir     string
	set     atomic.Pointer[RuleSet]
	warns   atomic.Pointer[[]Warning]
	filter  *ContextFilter
	decoder *normalize.Decoder
	logger  *zap.Logger
	now     func() time.Time
	stats   counters

	agents []string
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the source of MatchResult timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithDecoder(d *normalize.Decoder) Option {
	return func(e *Engine) {
		if d != nil {
			e.decoder = d
		}
	}
}

// WithBenignAgents replaces the crawler allow-list. An empty list disables
// the filter.
func WithBenignAgents(agents []string) Option {
	return func(e *Engine) {
		e.agents = append([]string(nil), agents...)
	}
}

func newEngine(dir string, opts []Option) *Engine {
	e := &Engine{
		dir:     dir,
		decoder: normalize.NewDecoder(normalize.Options{}),
		logger:  zap.NewNop(),
		now:     time.Now,
		agents:  DefaultBenignAgents,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.filter = NewContextFilter(e.agents)
	return e
}

// New loads and compiles every rule file in dir. A missing directory or a
// directory that yields no usable rule is an error; bad files and rules are
// skipped and reported through Warnings.
func New(dir string, opts ...Option) (*Engine, error) {
	e := newEngine(dir, opts)
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewFromRules builds an engine from rules already in memory. Reload is a
// no-op for such an engine.
func NewFromRules(rules []Rule, opts ...Option) (*Engine, error) {
	e := newEngine("", opts)
	set, warnings := Compile(rules)
	if err := e.install(set, warnings); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload rebuilds the rule set from the rule directory and swaps it in.
// On error the current set stays in place.
func (e *Engine) Reload() error {
	if e.dir == "" {
		return nil
	}

	loaded, warnings, err := LoadDir(e.dir)
	if err != nil {
		return err
	}
	set, compileWarnings := Compile(loaded)
	return e.install(set, append(warnings, compileWarnings...))
}

func (e *Engine) install(set *RuleSet, warnings []Warning) error {
	for _, w := range warnings {
		e.logger.Warn("rule skipped", zap.String("file", w.File), zap.String("rule", w.Rule), zap.Error(w.Err))
	}
	if set.Len() == 0 {
		return fmt.Errorf("%w: %d warnings", ErrNoRules, len(warnings))
	}
	for _, cr := range set.Rules() {
		if cr.Rule.Category != "" && !scoring.KnownCategory(cr.Rule.Category) {
			e.logger.Warn("rule category has no threat weight",
				zap.String("rule_id", cr.ID),
				zap.String("category", cr.Rule.Category),
				zap.String("file", cr.Rule.SourceFile),
			)
		}
	}

	e.set.Store(set)
	e.warns.Store(&warnings)
	e.logger.Info("rules loaded",
		zap.String("dir", e.dir),
		zap.Int("loaded", set.Loaded()),
		zap.Int("compiled", set.Len()),
		zap.Int("warnings", len(warnings)),
	)
	return nil
}

// Match returns the findings for rec, highest score first. Findings with
// equal scores keep rule order.
func (e *Engine) Match(rec *record.Record) []MatchResult {
	if rec.Len() == 0 {
		return nil
	}
	set := e.set.Load()
	if set == nil {
		return nil
	}

	candidates := quickMatch(set.rules, rec, e.decoder)
	if len(candidates) == 0 {
		return nil
	}

	ts := e.now()
	results := make([]MatchResult, 0, len(candidates))
	for _, c := range candidates {
		if !e.filter.Allow(c.rule, rec) {
			token, _ := e.filter.BenignAgent(rec.Value("user_agent"))
			e.logger.Debug("match suppressed",
				zap.String("rule_id", c.rule.ID),
				zap.String("agent", token),
				zap.String("user_agent", rec.Value("user_agent")),
			)
			continue
		}

		score := scoring.Score(scoreInput(c.rule.Rule, c.details))
		e.stats.inc(c.rule.ID)
		results = append(results, MatchResult{
			Rule:        c.rule.Rule,
			Record:      rec,
			ThreatScore: score,
			Details:     c.details,
			RuleID:      c.rule.ID,
			Timestamp:   ts,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ThreatScore.Score > results[j].ThreatScore.Score
	})
	return results
}

func scoreInput(rule Rule, details MatchDetails) scoring.Input {
	return scoring.Input{
		Severity:       rule.Severity,
		Category:       rule.Category,
		AttackPatterns: rule.AttackPatterns,
		PatternFields:  rule.Pattern.FieldCount(),
		ThreatLevel:    rule.ThreatLevel,
		ResponseCodes:  rule.ResponseCodes,
		MatchedFields:  details.MatchedFields,
		RequiredDecode: details.RequiredDecode,
	}
}

func (e *Engine) Statistics() Stats {
	return e.stats.snapshot(e.set.Load().Loaded())
}

// Rules returns the compiled rules in evaluation order.
func (e *Engine) Rules() []*CompiledRule {
	return e.set.Load().Rules()
}

// Warnings returns the soft failures of the last successful load.
func (e *Engine) Warnings() []Warning {
	w := e.warns.Load()
	if w == nil {
		return nil
	}
	return append([]Warning(nil), (*w)...)
}
