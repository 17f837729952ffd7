package parser

type Stats struct {
	Parsed  uint64 `json:"parsed_count"`
	Failed  uint64 `json:"failed_count"`
	Blocked uint64 `json:"blocked_count"`
	Total   uint64 `json:"total_processed"`
}

type CacheStats struct {
	Hits    uint64  `json:"cache_hits"`
	Misses  uint64  `json:"cache_misses"`
	Size    int     `json:"cache_size"`
	HitRate float64 `json:"hit_rate"`
}

func (p *Parser) Stats() Stats {
	s := Stats{
		Parsed:  p.parsed.Load(),
		Failed:  p.failed.Load(),
		Blocked: p.blocked.Load(),
	}
	s.Total = s.Parsed + s.Failed + s.Blocked
	return s
}

func (p *Parser) CacheStats() CacheStats {
	s := CacheStats{
		Hits:   p.cacheHits.Load(),
		Misses: p.cacheMisses.Load(),
		Size:   p.cache.Len(),
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}

// ClearCache drops compiled field patterns and resets the cache counters.
func (p *Parser) ClearCache() {
	p.cache.Purge()
	p.cacheHits.Store(0)
	p.cacheMisses.Store(0)
}
