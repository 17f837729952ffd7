package config

import (
	"go.uber.org/zap"

	"github.com/klyr/logtriage/internal/normalize"
	"github.com/klyr/logtriage/internal/parser"
)

type Config struct {
	ConfigVersion int           `yaml:"configVersion"`
	Rules         RulesConfig   `yaml:"rules"`
	Format        FormatConfig  `yaml:"format"`
	Parser        ParserConfig  `yaml:"parser"`
	Decoder       DecoderConfig `yaml:"decoder"`
	Engine        EngineConfig  `yaml:"engine"`
	Enrich        EnrichConfig  `yaml:"enrich"`
	Scan          ScanConfig    `yaml:"scan"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`
	Output        OutputConfig  `yaml:"output"`

	baseDir string `yaml:"-"`
}

type RulesConfig struct {
	Dir string `yaml:"dir"`
}

// FormatConfig selects the field grammar. Fields win over Preset.
type FormatConfig struct {
	Preset string              `yaml:"preset"`
	Fields parser.FieldGrammar `yaml:"fields"`
}

type ParserConfig struct {
	MaxLineLength    int `yaml:"maxLineLength"`
	MaxFieldLength   int `yaml:"maxFieldLength"`
	PatternCacheSize int `yaml:"patternCacheSize"`
}

type DecoderConfig struct {
	Base64 *bool `yaml:"base64"`
}

type EngineConfig struct {
	// BenignAgents replaces the crawler allow-list when set; an explicit
	// empty list turns the filter off.
	BenignAgents []string `yaml:"benignAgents"`
	MinScore     float64  `yaml:"minScore"`
}

// EnrichConfig points at local MaxMind databases used to annotate
// findings with the source address's country and network.
type EnrichConfig struct {
	GeoIPCity string `yaml:"geoipCity"`
	GeoIPASN  string `yaml:"geoipASN"`
}

type ScanConfig struct {
	Workers int `yaml:"workers"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

type OutputConfig struct {
	Findings string `yaml:"findings"`
}

const (
	PresetCombined = "combined"

	FormatJSON    = "json"
	FormatConsole = "console"
)

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ConfigVersion: 1,
		Rules:         RulesConfig{Dir: "rules"},
		Format:        FormatConfig{Preset: PresetCombined},
		Logging:       LoggingConfig{Level: "info", Format: FormatConsole},
	}
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

// Grammar returns the configured field grammar, the combined log format
// when none is given.
func (c *Config) Grammar() parser.FieldGrammar {
	if len(c.Format.Fields) > 0 {
		return c.Format.Fields
	}
	return parser.CombinedLogFormat()
}

func (c *Config) ParserOptions(logger *zap.Logger) parser.Options {
	return parser.Options{
		MaxLineLength:    c.Parser.MaxLineLength,
		MaxFieldLength:   c.Parser.MaxFieldLength,
		PatternCacheSize: c.Parser.PatternCacheSize,
		Logger:           logger,
	}
}

func (c *Config) DecoderOptions() normalize.Options {
	return normalize.Options{SkipBase64: c.Decoder.Base64 != nil && !*c.Decoder.Base64}
}

// BenignAgents returns the allow-list and whether it overrides the default.
func (c *Config) BenignAgents() ([]string, bool) {
	return c.Engine.BenignAgents, c.Engine.BenignAgents != nil
}
