package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/klyr/logtriage/internal/parser"
	"github.com/klyr/logtriage/internal/rules"
)

const (
	OutcomeParsed  = "parsed"
	OutcomeFailed  = "failed"
	OutcomeBlocked = "blocked"
)

type Metrics struct {
	linesTotal       *prometheus.CounterVec
	ruleMatchesTotal *prometheus.CounterVec
	threatScore      prometheus.Histogram
	cacheHits        prometheus.Gauge
	cacheMisses      prometheus.Gauge
	cacheSize        prometheus.Gauge
	scanDuration     prometheus.Gauge

	mu   sync.Mutex
	last parser.Stats
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		linesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "logtriage_lines_total", Help: "Total log lines by parse outcome"},
			[]string{"outcome"},
		),
		ruleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "logtriage_rule_matches_total", Help: "Total rule matches"},
			[]string{"rule_id", "category", "severity"},
		),
		threatScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logtriage_threat_score",
			Help:    "Threat score of findings",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logtriage_parser_cache_hits",
			Help: "Field pattern cache hits",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logtriage_parser_cache_misses",
			Help: "Field pattern cache misses",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logtriage_parser_cache_entries",
			Help: "Compiled field patterns held in the cache",
		}),
		scanDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logtriage_scan_duration_seconds",
			Help: "Wall time of the last scan",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.linesTotal,
		m.ruleMatchesTotal,
		m.threatScore,
		m.cacheHits,
		m.cacheMisses,
		m.cacheSize,
		m.scanDuration,
	)

	return m
}

func (m *Metrics) ObserveMatches(results []rules.MatchResult) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.ruleMatchesTotal.WithLabelValues(r.RuleID, categoryLabel(r.Rule.Category), string(r.ThreatScore.Severity)).Inc()
		m.threatScore.Observe(r.ThreatScore.Score)
	}
}

// ObserveParser records parser counters. It may be called repeatedly; only
// the growth since the previous call is added.
func (m *Metrics) ObserveParser(stats parser.Stats, cache parser.CacheStats) {
	if m == nil {
		return
	}

	m.mu.Lock()
	delta := parser.Stats{
		Parsed:  sub(stats.Parsed, m.last.Parsed),
		Failed:  sub(stats.Failed, m.last.Failed),
		Blocked: sub(stats.Blocked, m.last.Blocked),
	}
	m.last = stats
	m.mu.Unlock()

	m.linesTotal.WithLabelValues(OutcomeParsed).Add(float64(delta.Parsed))
	m.linesTotal.WithLabelValues(OutcomeFailed).Add(float64(delta.Failed))
	m.linesTotal.WithLabelValues(OutcomeBlocked).Add(float64(delta.Blocked))

	m.cacheHits.Set(float64(cache.Hits))
	m.cacheMisses.Set(float64(cache.Misses))
	m.cacheSize.Set(float64(cache.Size))
}

func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Set(d.Seconds())
}

// WriteTextfile writes everything in g to path in the text exposition
// format, for a node exporter textfile collector to pick up.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func categoryLabel(category string) string {
	if category == "" {
		return "unknown"
	}
	return category
}

func sub(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return a - b
}
