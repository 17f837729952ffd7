package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klyr/logtriage/internal/config"
	"github.com/klyr/logtriage/internal/logging"
	"github.com/klyr/logtriage/internal/normalize"
	"github.com/klyr/logtriage/internal/rules"
)

// configFlags are shared by every command that needs a configuration.
type configFlags struct {
	configPath string
	rulesDir   string
	logLevel   string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (defaults are used when empty)")
	cmd.Flags().StringVar(&f.rulesDir, "rules", "", "Override the rule directory")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override the log level")
}

func (f *configFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if f.rulesDir != "" {
		cfg.Rules.Dir = f.rulesDir
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, func() error) {
	return logging.NewLogger(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.ResolvePath(cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

func buildEngine(cfg *config.Config, logger *zap.Logger) (*rules.Engine, error) {
	opts := []rules.Option{
		rules.WithLogger(logger.Named("rules")),
		rules.WithDecoder(normalize.NewDecoder(cfg.DecoderOptions())),
	}
	if agents, ok := cfg.BenignAgents(); ok {
		opts = append(opts, rules.WithBenignAgents(agents))
	}
	return rules.New(cfg.ResolvePath(cfg.Rules.Dir), opts...)
}
