package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/klyr/logtriage/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:          "logtriage",
		Short:        "Triage web server access logs for attack indicators",
		SilenceUsage: true,
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	var opts configFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and its rule directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, closeLog := newLogger(cfg)
			defer func() { _ = closeLog() }()

			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range engine.Warnings() {
				if _, err := fmt.Fprintf(out, "warning: %v\n", w); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(out, "config ok: %d rules, %d warnings\n", len(engine.Rules()), len(engine.Warnings()))
			return err
		},
	}

	opts.register(cmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}
