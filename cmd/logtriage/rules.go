package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/klyr/logtriage/internal/rules"
)

type ruleView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Severity string   `json:"severity"`
	Fields   []string `json:"fields"`
	Source   string   `json:"source,omitempty"`
}

func newRulesCmd() *cobra.Command {
	var opts configFlags
	var format string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the compiled rule set",
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
			for _, w := range engine.Warnings() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
			}
			return writeRules(cmd.OutOrStdout(), engine.Rules(), format)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|json")

	return cmd
}

func viewRules(compiled []*rules.CompiledRule) []ruleView {
	views := make([]ruleView, 0, len(compiled))
	for _, cr := range compiled {
		fields := make([]string, 0, len(cr.Fields))
		for _, f := range cr.Fields {
			fields = append(fields, f.Key)
		}
		views = append(views, ruleView{
			ID:       cr.ID,
			Name:     cr.Rule.Name,
			Category: cr.Rule.Category,
			Severity: string(cr.Rule.Severity),
			Fields:   fields,
			Source:   cr.Rule.SourceFile,
		})
	}
	return views
}

func writeRules(out io.Writer, compiled []*rules.CompiledRule, format string) error {
	views := viewRules(compiled)
	switch format {
	case "", "text":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSEVERITY\tCATEGORY\tFIELDS\tNAME")
		for _, v := range views {
			category := v.Category
			if category == "" {
				category = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Severity, category, strings.Join(v.Fields, ","), v.Name)
		}
		return w.Flush()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
