package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/klyr/logtriage/internal/report"
)

func newReportCmd() *cobra.Command {
	var (
		inputPath string
		since     time.Duration
		format    string
		outPath   string
		minScore  float64
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a findings log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := report.Reader{MinScore: minScore}
			if since > 0 {
				reader.Since = time.Now().Add(-since)
			}
			findings, err := reader.Read(inputPath)
			if err != nil {
				return err
			}
			content, err := renderSummary(report.Summarize(findings), format)
			if err != nil {
				return err
			}
			return report.WriteOutput(outPath, content)
		},
	}

	cmd.Flags().StringVar(&inputPath, "in", "", "Path to findings JSONL")
	cmd.Flags().DurationVar(&since, "since", 0, "Only include findings newer than this duration (e.g. 24h)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Only include findings scoring at least this value")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func renderSummary(summary report.Summary, format string) ([]byte, error) {
	switch format {
	case "", "text":
		return []byte(report.RenderText(summary)), nil
	case "md", "markdown":
		return []byte(report.RenderMarkdown(summary)), nil
	case "json":
		return report.RenderJSON(summary)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
