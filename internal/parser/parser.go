package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/klyr/logtriage/internal/record"
)

const (
	DefaultMaxLineLength    = 10000
	DefaultMaxFieldLength   = 1000
	DefaultPatternCacheSize = 128

	truncationMarker = "...[truncated]"
)

var (
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)expression\s*\(`),
	}

	ipShape   = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	dateShape = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{2}/\w{3}/\d{4}`)
	ipv4Exact = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	htmlTag   = regexp.MustCompile(`<[^>]+>`)
)

type Options struct {
	MaxLineLength    int
	MaxFieldLength   int
	PatternCacheSize int
	Logger           *zap.Logger
}

// Parser turns raw log lines into records. It is safe for concurrent use.
type Parser struct {
	grammar   FieldGrammar
	composite *regexp.Regexp
	cache     *lru.Cache[string, *regexp.Regexp]
	logger    *zap.Logger

	maxLine  int
	maxField int

	parsed      atomic.Uint64
	failed      atomic.Uint64
	blocked     atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

func New(grammar FieldGrammar, opts Options) (*Parser, error) {
	if len(grammar) == 0 {
		return nil, errors.New("no fields defined in log format")
	}

	composite, err := regexp.Compile(buildComposite(grammar))
	if err != nil {
		return nil, fmt.Errorf("compile log format: %w", err)
	}

	size := opts.PatternCacheSize
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, err
	}

	p := &Parser{
		grammar:   append(FieldGrammar(nil), grammar...),
		composite: composite,
		cache:     cache,
		logger:    opts.Logger,
		maxLine:   opts.MaxLineLength,
		maxField:  opts.MaxFieldLength,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.maxLine <= 0 {
		p.maxLine = DefaultMaxLineLength
	}
	if p.maxField <= 0 {
		p.maxField = DefaultMaxFieldLength
	}
	return p, nil
}

func buildComposite(grammar FieldGrammar) string {
	parts := make([]string, 0, len(grammar))
	for _, f := range grammar {
		parts = append(parts, ensureGroup(f.Pattern))
	}
	return "^" + strings.Join(parts, `\s*`) + `\s*$`
}

func ensureGroup(pattern string) string {
	if strings.Contains(pattern, "(") {
		return pattern
	}
	return "(" + pattern + ")"
}

// Parse returns the record for line, or false when the line is rejected.
// Rejections are counted, never returned as errors.
func (p *Parser) Parse(line string) (*record.Record, bool) {
	if !p.validateInput(line) {
		p.blocked.Add(1)
		return nil, false
	}

	b := record.NewBuilder().SetRaw(line)
	if m := p.composite.FindStringSubmatch(line); m != nil {
		groups := m[1:]
		for i, f := range p.grammar {
			if i < len(groups) {
				b.Set(f.Name, p.sanitize(groups[i]))
			}
		}
	} else if !p.partialParse(line, b) {
		p.failed.Add(1)
		p.logger.Debug("no field matched", zap.Int("length", len(line)))
		return nil, false
	}

	deriveHTTP(b)
	p.mergeEmbedded(b)

	if reason := validateRecord(b); reason != "" {
		p.failed.Add(1)
		p.logger.Debug("record rejected", zap.String("reason", reason))
		return nil, false
	}

	p.parsed.Add(1)
	return b.Build(), true
}

func (p *Parser) validateInput(line string) bool {
	if line == "" {
		return false
	}

	if n := utf8.RuneCountInString(line); n > p.maxLine {
		p.logger.Warn("line too long", zap.Int("length", n), zap.Int("max", p.maxLine))
		return false
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(line) {
			p.logger.Warn("dangerous content in line", zap.String("pattern", re.String()))
			return false
		}
	}

	if !ipShape.MatchString(line) && !dateShape.MatchString(line) {
		p.logger.Debug("line has neither ip nor date")
		return false
	}
	return true
}

// partialParse matches each field on its own against what is left of the
// line. It reports whether any field got a non-empty value.
func (p *Parser) partialParse(line string, b *record.Builder) bool {
	rest := line
	found := false

	for _, f := range p.grammar {
		re, err := p.fieldPattern(f.Pattern)
		if err != nil {
			p.logger.Warn("field pattern failed", zap.String("field", f.Name), zap.Error(err))
			b.Set(f.Name, "")
			continue
		}

		loc := re.FindStringSubmatchIndex(rest)
		if loc == nil || len(loc) < 4 {
			b.Set(f.Name, "")
			continue
		}

		value := ""
		if loc[2] >= 0 {
			value = p.sanitize(rest[loc[2]:loc[3]])
		}
		b.Set(f.Name, value)
		rest = rest[loc[1]:]
		if value != "" {
			found = true
		}
	}
	return found
}

func (p *Parser) fieldPattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := p.cache.Get(pattern); ok {
		p.cacheHits.Add(1)
		return re, nil
	}
	p.cacheMisses.Add(1)

	re, err := regexp.Compile(ensureGroup(pattern))
	if err != nil {
		return nil, err
	}
	p.cache.Add(pattern, re)
	return re, nil
}

func (p *Parser) sanitize(value string) string {
	if value == "" {
		return ""
	}

	if utf8.RuneCountInString(value) > p.maxField {
		value = truncateRunes(value, p.maxField) + truncationMarker
	}

	value = htmlTag.ReplaceAllString(value, "")
	value = strings.ReplaceAll(value, "<", "&lt;")
	value = strings.ReplaceAll(value, ">", "&gt;")

	return strings.TrimSpace(value)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func validateRecord(b *record.Builder) string {
	ip, ok := b.Get("src_ip")
	if !ok || ip == "" {
		return "missing src_ip"
	}
	if !ValidIPv4(ip) {
		return "invalid src_ip"
	}
	return ""
}

// ValidIPv4 reports whether s is a dotted quad with every octet in 0..255.
func ValidIPv4(s string) bool {
	if !ipv4Exact.MatchString(s) {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
