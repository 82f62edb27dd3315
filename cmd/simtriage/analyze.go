package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solverops/simtriage/pkg/config"
	"github.com/solverops/simtriage/pkg/fsutil"
	"github.com/solverops/simtriage/pkg/ingest"
	"github.com/solverops/simtriage/pkg/isoforest"
	"github.com/solverops/simtriage/pkg/record"
	"github.com/solverops/simtriage/pkg/report"
	"github.com/solverops/simtriage/pkg/results"
	"github.com/solverops/simtriage/pkg/rules"
	"github.com/solverops/simtriage/pkg/sysinfo"
	"github.com/solverops/simtriage/pkg/triage"
	"github.com/solverops/simtriage/pkg/upload"
)

var (
	analyzeInputs      []string
	analyzeFormat      string
	analyzeLimitSolver []string
	analyzeLabels      []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze solver run batches",
	Long: `Ingest each input file as one batch, run the triage pipeline over it,
print a console report and write a result directory per batch.

Verdict outcomes never affect the exit code: a batch full of FAIL runs is a
successful analysis. The exit code is non-zero only on operational failure.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringSliceVar(&analyzeInputs, "input", nil,
		"Input file to analyze as one batch (comma-separated or repeated flag)")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "",
		"Force input format (csv, json, yaml); default: detect by extension")
	analyzeCmd.Flags().StringSliceVar(&analyzeLimitSolver, "limit-solver", nil,
		"Limit analysis to records with these solver kinds (comma-separated or repeated flag)")
	analyzeCmd.Flags().StringSliceVar(&analyzeLabels, "label", nil,
		"Add batch label as key=value (can be repeated)")

	_ = analyzeCmd.MarkFlagRequired("input")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Merge CLI labels into config (CLI wins on conflict).
	for _, entry := range analyzeLabels {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid label %q: must be key=value", entry)
		}

		if cfg.Triage.Labels == nil {
			cfg.Triage.Labels = make(map[string]string, len(analyzeLabels))
		}

		cfg.Triage.Labels[k] = v
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	var format ingest.Format

	if analyzeFormat != "" {
		format, err = ingest.ParseFormat(analyzeFormat)
		if err != nil {
			return err
		}
	}

	resultsOwner, err := fsutil.ParseOwner(cfg.Triage.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Create S3 uploader if configured, failing fast on unreachable
	// storage before any batch is analyzed.
	var uploader upload.Uploader

	if s3 := cfg.S3Upload(); s3 != nil && s3.Enabled {
		uploader, err = upload.NewS3Uploader(log, s3)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("S3 upload preflight check failed: %w", err)
		}

		log.Info("S3 upload preflight check passed")
	}

	batch := &batchProcessor{
		cfg:      cfg,
		owner:    resultsOwner,
		format:   format,
		ingester: ingest.NewIngester(log, cfg.Ingest.MaxFileSizeBytes()),
		analyzer: triage.NewAnalyzer(log, triage.Config{
			Thresholds: thresholdsFromConfig(cfg),
			Detector:   detectorFromConfig(cfg),
		}),
		uploader: uploader,
		system:   sysinfo.Collect(ctx, log),
	}

	// Batches are independent; analyze them concurrently. Reports are
	// collected per input and printed in input order afterwards so
	// concurrent batches never interleave on stdout.
	reports := make([]string, len(analyzeInputs))
	g, gctx := errgroup.WithContext(ctx)

	for i, input := range analyzeInputs {
		g.Go(func() error {
			out, err := batch.process(gctx, input)
			if err != nil {
				return fmt.Errorf("analyzing %s: %w", input, err)
			}

			reports[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, out := range reports {
		fmt.Println(out)
	}

	if cfg.Triage.GenerateResultsIndex {
		if err := generateResultsIndex(ctx, cfg, resultsOwner); err != nil {
			log.WithError(err).Warn("Failed to generate results index")
		}
	}

	return nil
}

// batchProcessor carries the collaborators shared by all batches of one
// analyze invocation. All fields are read-only after construction.
type batchProcessor struct {
	cfg      *config.Config
	owner    *fsutil.Owner
	format   ingest.Format
	ingester ingest.Ingester
	analyzer triage.Analyzer
	uploader upload.Uploader
	system   *sysinfo.Info
}

// process ingests and analyzes one input file as a batch, persists the
// run directory and returns the rendered console report.
func (b *batchProcessor) process(ctx context.Context, input string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	started := time.Now()

	raws, err := b.ingester.Load(input, b.format)
	if err != nil {
		return "", fmt.Errorf("loading input: %w", err)
	}

	records := filterSolverKinds(record.NormalizeAll(raws), analyzeLimitSolver)
	if len(records) == 0 {
		return "", fmt.Errorf("no records to analyze (input has %d rows)", len(raws))
	}

	if len(records) != len(raws) {
		log.WithField("input", input).WithField("total", len(raws)).
			WithField("filtered", len(records)).
			Info("Analyzing filtered records")
	}

	result, err := b.analyzer.Analyze(records)
	if err != nil {
		return "", err
	}

	batchID := results.NewBatchID()
	runCfg := &results.RunConfig{
		BatchID:      batchID,
		Timestamp:    started.Unix(),
		TimestampEnd: time.Now().Unix(),
		SourceFile:   input,
		Records:      len(records),
		Thresholds:   thresholdsFromConfig(b.cfg),
		Detector:     detectorFromConfig(b.cfg),
		System:       b.system,
		Version:      version,
		Labels:       b.cfg.Triage.Labels,
	}

	runDir, err := results.CreateRunDir(
		b.cfg.Triage.ResultsDir,
		results.RunDirName(started.Unix(), batchID, input),
		b.owner,
	)
	if err != nil {
		return "", err
	}

	if err := results.WriteRun(runDir, runCfg, result, b.owner); err != nil {
		return "", fmt.Errorf("writing run directory: %w", err)
	}

	if b.cfg.Triage.GenerateMarkdown {
		md := report.RenderMarkdown(report.Meta{
			BatchID:    batchID,
			SourceFile: input,
			StartedAt:  started,
			Version:    version,
			System:     b.system,
		}, result, runCfg.Thresholds, report.DefaultMaxMarkdownChars)

		if err := results.WriteMarkdownSummary(runDir, md, b.owner); err != nil {
			return "", err
		}
	}

	log.WithField("run_dir", runDir).WithField("batch_id", batchID).
		Info("Run directory written")

	if b.uploader != nil {
		if err := b.uploader.Upload(ctx, runDir); err != nil {
			return "", fmt.Errorf("uploading results: %w", err)
		}
	}

	return report.RenderConsole(result, runCfg.Thresholds, input), nil
}

// filterSolverKinds keeps the records whose solver kind matches one of
// the given kinds. An empty filter keeps everything.
func filterSolverKinds(records []record.Record, kinds []string) []record.Record {
	if len(kinds) == 0 {
		return records
	}

	wanted := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		wanted[record.CanonicalSolverKind(k)] = struct{}{}
	}

	filtered := make([]record.Record, 0, len(records))

	for _, rec := range records {
		if _, ok := wanted[rec.SolverKind]; ok {
			filtered = append(filtered, rec)
		}
	}

	return filtered
}

func thresholdsFromConfig(cfg *config.Config) rules.Thresholds {
	return rules.Thresholds{
		YieldStressMPa:         cfg.Thresholds.YieldStressMPa,
		MaxDisplacementMM:      cfg.Thresholds.MaxDisplacementMM,
		MaxIterations:          cfg.Thresholds.MaxIterations,
		WarningIterationsLower: cfg.Thresholds.WarningIterationsLower,
	}
}

func detectorFromConfig(cfg *config.Config) isoforest.Config {
	return isoforest.Config{
		Trees:         cfg.Detector.Trees,
		SampleSize:    cfg.Detector.SampleSize,
		Contamination: cfg.Detector.Contamination,
		Seed:          cfg.Detector.Seed,
	}
}
