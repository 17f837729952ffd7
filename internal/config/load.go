package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config over the defaults. Unknown keys are rejected and
// an empty file yields the defaults. Relative paths in the file resolve
// against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.baseDir = dir
	return cfg, nil
}

func (c *Config) resolvePath(p string) string {
	switch {
	case p == "", filepath.IsAbs(p):
		return p
	case c.baseDir == "":
		return filepath.Clean(p)
	default:
		return filepath.Join(c.baseDir, p)
	}
}
