package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if c.Rules.Dir == "" {
		v.Add("rules.dir is required")
	} else if err := requireDir(c.resolvePath(c.Rules.Dir)); err != nil {
		v.Add("rules.dir invalid: %v", err)
	}

	c.validateFormat(v)

	if c.Parser.MaxLineLength < 0 {
		v.Add("parser.maxLineLength must be >= 0")
	}
	if c.Parser.MaxFieldLength < 0 {
		v.Add("parser.maxFieldLength must be >= 0")
	}
	if c.Parser.PatternCacheSize < 0 {
		v.Add("parser.patternCacheSize must be >= 0")
	}

	for i, agent := range c.Engine.BenignAgents {
		if strings.TrimSpace(agent) == "" {
			v.Add("engine.benignAgents[%d] is empty", i)
		}
	}
	if c.Engine.MinScore < 0 || c.Engine.MinScore > 10 {
		v.Add("engine.minScore must be between 0 and 10")
	}

	for key, path := range map[string]string{
		"enrich.geoipCity": c.Enrich.GeoIPCity,
		"enrich.geoipASN":  c.Enrich.GeoIPASN,
	} {
		if path == "" {
			continue
		}
		if err := requireFile(c.resolvePath(path)); err != nil {
			v.Add("%s invalid: %v", key, err)
		}
	}

	if c.Scan.Workers < 0 {
		v.Add("scan.workers must be >= 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "", FormatJSON, FormatConsole:
	default:
		v.Add("logging.format must be json|console")
	}
	if c.Logging.File != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.File)); err != nil {
			v.Add("logging.file invalid: %v", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Textfile == "" {
			v.Add("metrics.textfile required when metrics.enabled is true")
		} else if err := ensureWritable(c.resolvePath(c.Metrics.Textfile)); err != nil {
			v.Add("metrics.textfile invalid: %v", err)
		}
	}

	if c.Output.Findings != "" {
		if err := ensureWritable(c.resolvePath(c.Output.Findings)); err != nil {
			v.Add("output.findings invalid: %v", err)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateFormat(v *ValidationError) {
	if len(c.Format.Fields) == 0 {
		switch c.Format.Preset {
		case "", PresetCombined:
		default:
			v.Add("format.preset must be combined")
		}
		return
	}

	names := map[string]struct{}{}
	for i, field := range c.Format.Fields {
		if field.Name == "" {
			v.Add("format.fields[%d].name is required", i)
		} else if _, exists := names[field.Name]; exists {
			v.Add("format.fields[%d].name %q is duplicated", i, field.Name)
		} else {
			names[field.Name] = struct{}{}
		}

		if field.Pattern == "" {
			v.Add("format.fields[%d].pattern is required", i)
		} else if _, err := regexp.Compile(field.Pattern); err != nil {
			v.Add("format.fields[%d].pattern invalid: %v", i, err)
		}
	}
	if _, ok := names["src_ip"]; !ok {
		v.Add("format.fields must define src_ip")
	}
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	if err := requireDir(dir); err != nil {
		return err
	}

	file, err := os.CreateTemp(dir, "logtriage-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
