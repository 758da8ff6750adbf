package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tagcheck/tagcheck/pkg/config"
	"github.com/tagcheck/tagcheck/pkg/enum"
	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/sarif"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/store"
	"github.com/tagcheck/tagcheck/pkg/types"
)

var (
	scanRules         ruleFlags
	scanFacts         []string
	scanWorkers       int
	scanTimeout       time.Duration
	scanMaxFileSize   string
	scanIncludeHidden bool
	scanExtract       string
	scanGit           bool
	scanOutputPath    string
	scanOutputFormat  string
	scanIncremental   bool
	scanProgress      bool
	scanColor         string
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a target with detection rules",
	Long: `Scan a file, directory, or git repository with detection rules.

Archives can be split into member streams with --extract so that patterns are
counted across the members of one artifact. Reports are stored in a SQLite
database unless --output is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	scanRules.register(cmd)
	cmd.Flags().StringArrayVar(&scanFacts, "fact", nil, "Fact added to every artifact, as field=value (repeatable)")
	cmd.Flags().IntVar(&scanWorkers, "workers", 0, "Concurrent scans (default: number of CPUs)")
	cmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Time limit per artifact, e.g. 30s (0 = none)")
	cmd.Flags().StringVar(&scanMaxFileSize, "max-file-size", "", "Maximum file size to scan, e.g. 10MB (default from config)")
	cmd.Flags().BoolVar(&scanIncludeHidden, "include-hidden", false, "Include hidden files and directories")
	cmd.Flags().StringVar(&scanExtract, "extract", "", "Split containers into streams: zip,7z,pdf or all")
	cmd.Flags().BoolVar(&scanGit, "git", false, "Treat target as git repository (enumerate git history)")
	cmd.Flags().StringVar(&scanOutputPath, "output", "tagcheck.db", "Report database path (empty to disable)")
	cmd.Flags().StringVar(&scanOutputFormat, "format", "human", "Output format: human, json, sarif")
	cmd.Flags().BoolVar(&scanIncremental, "incremental", false, "Skip artifacts already scanned to completion")
	cmd.Flags().BoolVar(&scanProgress, "progress", false, "Show a progress bar on stderr")
	cmd.Flags().StringVar(&scanColor, "color", "auto", "Color output: auto, always, never")
}

// applyScanFlags overrides the configuration with the flags the user set.
func applyScanFlags(cmd *cobra.Command, c *config.Config) error {
	scanRules.apply(cmd, c)
	flags := cmd.Flags()
	if flags.Changed("workers") {
		c.Scan.Workers = scanWorkers
	}
	if flags.Changed("timeout") {
		c.Scan.Timeout = scanTimeout
	}
	if flags.Changed("max-file-size") {
		size, err := config.ParseSize(scanMaxFileSize)
		if err != nil {
			return err
		}
		c.Scan.MaxFileSize = size
	}
	if flags.Changed("include-hidden") {
		c.Scan.IncludeHidden = scanIncludeHidden
	}
	if flags.Changed("extract") {
		c.Scan.Extract = rule.ParsePatterns(scanExtract)
	}
	if flags.Changed("output") {
		c.Scan.Output = scanOutputPath
	}
	return c.Validate()
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	// Validate target exists
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("target does not exist: %s", target)
	}
	if err := applyScanFlags(cmd, cfg); err != nil {
		return err
	}
	switch scanOutputFormat {
	case "human", "json", "sarif":
	default:
		return fmt.Errorf("unknown output format: %s", scanOutputFormat)
	}
	if err := setColor(scanColor, cmd.OutOrStdout()); err != nil {
		return err
	}

	static, err := staticFacts(cfg, scanFacts)
	if err != nil {
		return err
	}
	core, err := newCore(cfg, static)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	// Create store
	var s store.Store
	if cfg.Scan.Output != "" {
		s, err = store.New(store.Config{Path: cfg.Scan.Output})
		if err != nil {
			return fmt.Errorf("creating store: %w", err)
		}
		defer s.Close()
	}

	enumerator := createEnumerator(cfg.EnumConfig(target), scanGit)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := scanArtifacts(ctx, core.Scanner(), enumerator, s, progressWriter(cmd))
	if err != nil {
		return err
	}

	// Summary goes to stderr for json/sarif to keep stdout parseable.
	summary := cmd.OutOrStdout()
	if scanOutputFormat != "human" {
		summary = cmd.ErrOrStderr()
	}
	fmt.Fprintf(summary, "Scan complete: %d artifacts (%s), %d matched, %d incomplete",
		len(res.reports), humanize.Bytes(uint64(res.bytes)), res.matched(), res.incomplete())
	if res.skipped > 0 {
		fmt.Fprintf(summary, " (%d already scanned)", res.skipped)
	}
	fmt.Fprintln(summary)
	if s != nil {
		fmt.Fprintf(summary, "Results stored in: %s\n", cfg.Scan.Output)
	}

	switch scanOutputFormat {
	case "json":
		return outputReportsJSON(cmd.OutOrStdout(), res.reports)
	case "sarif":
		return outputSARIF(cmd.OutOrStdout(), core, res.reports)
	default:
		printReports(cmd.OutOrStdout(), res.reports)
		return nil
	}
}

// scanResult collects the reports of one scan run.
type scanResult struct {
	reports []*types.Report
	bytes   int64
	skipped int
}

func (r *scanResult) matched() int {
	n := 0
	for _, rep := range r.reports {
		if len(rep.Entries) > 0 {
			n++
		}
	}
	return n
}

func (r *scanResult) incomplete() int {
	n := 0
	for _, rep := range r.reports {
		if !rep.Complete() {
			n++
		}
	}
	return n
}

// scanArtifacts streams artifacts from e through the scanner's worker pool,
// storing each report in s when s is non-nil. Reports are returned sorted by
// artifact name.
func scanArtifacts(parent context.Context, sc *scanner.Scanner, e enum.Enumerator, s store.Store, progress io.Writer) (*scanResult, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	res := &scanResult{}
	artifacts, enumErr := enum.Channel(ctx, e, cfg.Scan.Workers*2)

	// Incremental filtering happens before scanning so skipped artifacts
	// cost nothing.
	pending := make(chan *types.Artifact)
	filterDone := make(chan struct{})
	go func() {
		defer close(filterDone)
		defer close(pending)
		for a := range artifacts {
			if scanIncremental && s != nil {
				if done, err := s.ArtifactScanned(a.ID); err == nil && done {
					res.skipped++
					continue
				}
			}
			res.bytes += a.Size()
			select {
			case pending <- a:
			case <-ctx.Done():
				return
			}
		}
	}()

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("artifacts"),
			progressbar.OptionClearOnFinish(),
		)
	}

	var mu sync.Mutex
	scanErr := sc.ScanAll(ctx, pending, cfg.Scan.Workers, func(report *types.Report, err error) error {
		if report == nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		res.reports = append(res.reports, report)
		if bar != nil {
			_ = bar.Add(1)
		}
		if s != nil {
			if serr := s.AddReport(report); serr != nil {
				return fmt.Errorf("storing report: %w", serr)
			}
		}
		if err != nil && !errors.Is(err, scanner.ErrIncomplete) {
			return err
		}
		return nil
	})
	cancel()
	<-filterDone
	if bar != nil {
		_ = bar.Finish()
	}

	if err := parent.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("scanning: %w", scanErr)
	}
	if err := <-enumErr; err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("enumerating: %w", err)
	}

	sort.SliceStable(res.reports, func(i, j int) bool {
		return res.reports[i].ArtifactName < res.reports[j].ArtifactName
	})
	return res, nil
}

func createEnumerator(config enum.Config, useGit bool) enum.Enumerator {
	if useGit {
		return enum.NewGitEnumerator(config)
	}
	return enum.NewFilesystemEnumerator(config)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func progressWriter(cmd *cobra.Command) io.Writer {
	if !scanProgress {
		return nil
	}
	return cmd.ErrOrStderr()
}

func outputReportsJSON(w io.Writer, reports []*types.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(reports)
}

// outputSARIF writes reports in SARIF 2.1.0 format. The rule list holds the
// public rules of the core's selection.
func outputSARIF(w io.Writer, core *scanner.Core, reports []*types.Report) error {
	report := sarif.NewReport()
	rs := core.Scanner().RuleSet()
	for _, id := range core.Scanner().Plan().TargetIDs() {
		if r, ok := rs.Rule(id); ok {
			report.AddRule(r)
		}
	}
	for _, r := range reports {
		report.AddReport(r)
	}
	return writeSARIF(w, report)
}

func writeSARIF(w io.Writer, report *sarif.Report) error {
	jsonBytes, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing SARIF: %w", err)
	}
	if _, err := w.Write(jsonBytes); err != nil {
		return fmt.Errorf("writing SARIF output: %w", err)
	}
	return nil
}
