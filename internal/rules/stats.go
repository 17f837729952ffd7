package rules

import (
	"sort"
	"sync"
	"sync/atomic"
)

const topTriggered = 10

type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  uint64 `json:"count"`
}

// Stats is a snapshot of the engine's trigger counters.
type Stats struct {
	TotalRules   int               `json:"total_rules"`
	TotalMatches uint64            `json:"total_matches"`
	PerRule      map[string]uint64 `json:"per_rule_counts"`
	Top          []RuleCount       `json:"top_triggered"`
}

// counters is an append-only map of rule id to trigger count.
type counters struct {
	m sync.Map // string -> *atomic.Uint64
}

func (c *counters) inc(id string) {
	v, ok := c.m.Load(id)
	if !ok {
		v, _ = c.m.LoadOrStore(id, new(atomic.Uint64))
	}
	v.(*atomic.Uint64).Add(1)
}

func (c *counters) snapshot(totalRules int) Stats {
	stats := Stats{TotalRules: totalRules, PerRule: map[string]uint64{}}
	c.m.Range(func(key, value any) bool {
		n := value.(*atomic.Uint64).Load()
		stats.PerRule[key.(string)] = n
		stats.TotalMatches += n
		return true
	})

	stats.Top = make([]RuleCount, 0, len(stats.PerRule))
	for id, n := range stats.PerRule {
		stats.Top = append(stats.Top, RuleCount{RuleID: id, Count: n})
	}
	sort.Slice(stats.Top, func(i, j int) bool {
		if stats.Top[i].Count != stats.Top[j].Count {
			return stats.Top[i].Count > stats.Top[j].Count
		}
		return stats.Top[i].RuleID < stats.Top[j].RuleID
	})
	if len(stats.Top) > topTriggered {
		stats.Top = stats.Top[:topTriggered]
	}
	return stats
}
