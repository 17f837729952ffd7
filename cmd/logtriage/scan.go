package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/klyr/logtriage/internal/config"
	"github.com/klyr/logtriage/internal/enrich"
	"github.com/klyr/logtriage/internal/logging"
	"github.com/klyr/logtriage/internal/observability"
	"github.com/klyr/logtriage/internal/parser"
	"github.com/klyr/logtriage/internal/rules"
)

func newScanCmd() *cobra.Command {
	var opts configFlags
	var inputPath string
	var outPath string
	var workers int
	var minScore float64

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan an access log and write findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if outPath != "" {
				cfg.Output.Findings = outPath
			}
			if workers > 0 {
				cfg.Scan.Workers = workers
			}
			if cmd.Flags().Changed("min-score") {
				cfg.Engine.MinScore = minScore
			}

			in, closeIn, err := openInput(inputPath)
			if err != nil {
				return err
			}
			defer func() { _ = closeIn() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runScan(ctx, cfg, in, cmd.OutOrStdout())
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&inputPath, "in", "", "Path to the access log, - for stdin")
	cmd.Flags().StringVar(&outPath, "out", "", "Findings JSONL path (overrides output.findings)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of parse/match workers (default GOMAXPROCS)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop findings scoring below this value")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return file, file.Close, nil
}

type inputLine struct {
	no   int64
	text string
}

type scanResult struct {
	ID       string
	Lines    int64
	Findings int64
	Parser   parser.Stats
	Engine   rules.Stats
	Elapsed  time.Duration
}

func runScan(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	logger, closeLog := newLogger(cfg)
	defer func() { _ = closeLog() }()

	res, err := scan(ctx, cfg, logger, in)
	if err != nil {
		return err
	}
	return writeScanSummary(out, res)
}

func scan(ctx context.Context, cfg *config.Config, logger *zap.Logger, in io.Reader) (scanResult, error) {
	res := scanResult{ID: uuid.NewString()}
	logger = logger.With(zap.String("scan_id", res.ID))

	p, err := parser.New(cfg.Grammar(), cfg.ParserOptions(logger.Named("parser")))
	if err != nil {
		return res, err
	}
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return res, err
	}

	geo, err := enrich.OpenGeoIP(cfg.ResolvePath(cfg.Enrich.GeoIPCity), cfg.ResolvePath(cfg.Enrich.GeoIPASN), logger.Named("enrich"))
	if err != nil {
		return res, err
	}
	defer func() { _ = geo.Close() }()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	var sink *logging.FindingLogger
	if cfg.Output.Findings != "" {
		findingLog, closeFindings, err := logging.OpenFindingLog(cfg.ResolvePath(cfg.Output.Findings))
		if err != nil {
			return res, err
		}
		defer func() { _ = closeFindings() }()
		sink = findingLog
	}

	workers := cfg.Scan.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	var lineCount, findingCount atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	lines := make(chan inputLine, workers*4)

	g.Go(func() error {
		defer close(lines)
		reader := bufio.NewReaderSize(in, 64*1024)
		var no int64
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, readErr := reader.ReadString('\n')
			if text != "" {
				no++
				select {
				case lines <- inputLine{no: no, text: strings.TrimRight(text, "\r\n")}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if errors.Is(readErr, io.EOF) {
				lineCount.Store(no)
				return nil
			}
			if readErr != nil {
				return fmt.Errorf("read input: %w", readErr)
			}
		}
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for line := range lines {
				rec, ok := p.Parse(line.text)
				if !ok {
					continue
				}
				results := engine.Match(rec)
				metrics.ObserveMatches(results)
				for _, r := range results {
					if r.ThreatScore.Score < cfg.Engine.MinScore {
						continue
					}
					findingCount.Add(1)
					if sink == nil {
						continue
					}
					finding := logging.FromMatch(r, line.no)
					finding.ScanID = res.ID
					if loc, ok := geo.Lookup(finding.SourceIP); ok {
						finding.Geo = &loc
					}
					if err := sink.Write(finding); err != nil {
						return fmt.Errorf("write finding: %w", err)
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Lines = lineCount.Load()
	res.Findings = findingCount.Load()
	res.Parser = p.Stats()
	res.Engine = engine.Statistics()
	res.Elapsed = time.Since(start)

	metrics.ObserveParser(res.Parser, p.CacheStats())
	metrics.ObserveScan(res.Elapsed)
	if cfg.Metrics.Enabled {
		if err := observability.WriteTextfile(reg, cfg.ResolvePath(cfg.Metrics.Textfile)); err != nil {
			return res, err
		}
	}

	logger.Info("scan finished",
		zap.Int64("lines", res.Lines),
		zap.Uint64("parsed", res.Parser.Parsed),
		zap.Uint64("failed", res.Parser.Failed),
		zap.Uint64("blocked", res.Parser.Blocked),
		zap.Int64("findings", res.Findings),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func writeScanSummary(out io.Writer, res scanResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "scan\t%s\n", res.ID)
	fmt.Fprintf(w, "lines\t%d\n", res.Lines)
	fmt.Fprintf(w, "parsed\t%d\n", res.Parser.Parsed)
	fmt.Fprintf(w, "failed\t%d\n", res.Parser.Failed)
	fmt.Fprintf(w, "blocked\t%d\n", res.Parser.Blocked)
	fmt.Fprintf(w, "findings\t%d\n", res.Findings)
	fmt.Fprintf(w, "elapsed\t%s\n", res.Elapsed.Round(time.Millisecond))
	if len(res.Engine.Top) > 0 {
		fmt.Fprintln(w, "top rules:")
		for _, rc := range res.Engine.Top {
			fmt.Fprintf(w, "  %s\t%d\n", rc.RuleID, rc.Count)
		}
	}
	return w.Flush()
}
