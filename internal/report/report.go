package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klyr/logtriage/internal/logging"
	"github.com/klyr/logtriage/internal/scoring"
)

type Summary struct {
	Total         int          `json:"total"`
	Critical      int          `json:"critical"`
	High          int          `json:"high"`
	Medium        int          `json:"medium"`
	Low           int          `json:"low"`
	Decoded       int          `json:"decoded"`
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	TopRules      []CountItem  `json:"top_rules"`
	TopCategories []CountItem  `json:"top_categories"`
	TopSources    []CountItem  `json:"top_sources"`
	TopCountries  []CountItem  `json:"top_countries,omitempty"`
	TopVectors    []CountItem  `json:"top_attack_vectors"`
	Score         ScoreSummary `json:"score"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type ScoreSummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// Reader loads a findings file, skipping findings older than Since or
// scoring below MinScore.
type Reader struct {
	Since    time.Time
	MinScore float64
}

func (r *Reader) Read(path string) ([]logging.Finding, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var findings []logging.Finding
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f logging.Finding
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !r.Since.IsZero() && f.Timestamp.Before(r.Since) {
			continue
		}
		if f.Score < r.MinScore {
			continue
		}
		findings = append(findings, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

func Summarize(findings []logging.Finding) Summary {
	var summary Summary
	if len(findings) == 0 {
		return summary
	}

	summary.Start = findings[0].Timestamp
	summary.End = findings[0].Timestamp

	ruleCounts := map[string]int{}
	categoryCounts := map[string]int{}
	sourceCounts := map[string]int{}
	vectorCounts := map[string]int{}
	countryCounts := map[string]int{}
	scores := make([]float64, 0, len(findings))

	for _, f := range findings {
		summary.Total++
		if f.Timestamp.Before(summary.Start) {
			summary.Start = f.Timestamp
		}
		if f.Timestamp.After(summary.End) {
			summary.End = f.Timestamp
		}

		switch f.Severity {
		case scoring.SeverityCritical:
			summary.Critical++
		case scoring.SeverityHigh:
			summary.High++
		case scoring.SeverityMedium:
			summary.Medium++
		case scoring.SeverityLow:
			summary.Low++
		}
		if f.RequiredDecode {
			summary.Decoded++
		}

		ruleCounts[ruleKey(f)]++
		if f.Category != "" {
			categoryCounts[f.Category]++
		}
		if f.SourceIP != "" {
			sourceCounts[f.SourceIP]++
		}
		if f.Geo != nil && f.Geo.Country != "" {
			countryCounts[f.Geo.Country]++
		}
		for _, v := range f.AttackVectors {
			vectorCounts[v]++
		}

		scores = append(scores, f.Score)
	}

	summary.TopRules = topCounts(ruleCounts, 5)
	summary.TopCategories = topCounts(categoryCounts, 5)
	summary.TopSources = topCounts(sourceCounts, 5)
	summary.TopVectors = topCounts(vectorCounts, 5)
	summary.TopCountries = topCounts(countryCounts, 5)
	summary.Score = scoreSummary(scores)

	return summary
}

func ruleKey(f logging.Finding) string {
	if f.RuleName == "" {
		return f.RuleID
	}
	return f.RuleID + " (" + f.RuleName + ")"
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func scoreSummary(values []float64) ScoreSummary {
	if len(values) == 0 {
		return ScoreSummary{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return ScoreSummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
		Max: sorted[len(sorted)-1],
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Findings: %d\n", summary.Total)
	fmt.Fprintf(&b, "Critical/High/Medium/Low: %d/%d/%d/%d\n", summary.Critical, summary.High, summary.Medium, summary.Low)
	fmt.Fprintf(&b, "Decoded payloads: %d\n", summary.Decoded)
	fmt.Fprintf(&b, "Score p50/p95/p99/max: %.2f/%.2f/%.2f/%.2f\n", summary.Score.P50, summary.Score.P95, summary.Score.P99, summary.Score.Max)
	if !summary.Start.IsZero() {
		fmt.Fprintf(&b, "Window: %s - %s\n", summary.Start.Format(time.RFC3339), summary.End.Format(time.RFC3339))
	}

	writeCounts(&b, "Top rules", summary.TopRules)
	writeCounts(&b, "Top categories", summary.TopCategories)
	writeCounts(&b, "Top sources", summary.TopSources)
	writeCounts(&b, "Top attack vectors", summary.TopVectors)
	if len(summary.TopCountries) > 0 {
		writeCounts(&b, "Top countries", summary.TopCountries)
	}

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Log Triage Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Findings: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Critical: %d\n", summary.Critical)
	fmt.Fprintf(&b, "- High: %d\n", summary.High)
	fmt.Fprintf(&b, "- Medium: %d\n", summary.Medium)
	fmt.Fprintf(&b, "- Low: %d\n", summary.Low)
	fmt.Fprintf(&b, "- Decoded payloads: %d\n", summary.Decoded)
	fmt.Fprintf(&b, "- Score p50/p95/p99/max: %.2f/%.2f/%.2f/%.2f\n\n", summary.Score.P50, summary.Score.P95, summary.Score.P99, summary.Score.Max)

	writeCountsMarkdown(&b, "Top rules", summary.TopRules)
	writeCountsMarkdown(&b, "Top categories", summary.TopCategories)
	writeCountsMarkdown(&b, "Top sources", summary.TopSources)
	writeCountsMarkdown(&b, "Top attack vectors", summary.TopVectors)
	if len(summary.TopCountries) > 0 {
		writeCountsMarkdown(&b, "Top countries", summary.TopCountries)
	}

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
