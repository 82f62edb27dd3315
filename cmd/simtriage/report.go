package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/solverops/simtriage/pkg/report"
	"github.com/solverops/simtriage/pkg/results"
	"github.com/solverops/simtriage/pkg/triage"
)

var (
	reportRunDir string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a markdown summary from a triage run directory",
	Long:  `Reads config.json, verdicts.json and summary.json from a run directory and produces a markdown summary file.`,
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportRunDir, "run-dir", "",
		"Path to the triage run directory")
	reportCmd.Flags().StringVar(&reportOutput, "output", "",
		"Output file path (default: summary-<run_id>.md)")

	_ = reportCmd.MarkFlagRequired("run-dir")
}

func runReport(_ *cobra.Command, _ []string) error {
	runID := filepath.Base(reportRunDir)

	log.WithField("run_dir", reportRunDir).Info("Generating markdown summary")

	run, err := results.ReadRun(reportRunDir)
	if err != nil {
		return fmt.Errorf("reading run directory: %w", err)
	}

	result := &triage.BatchResult{
		Verdicts: run.Verdicts,
		Tally:    run.Summary.Tally,
		Features: run.Summary.Features,
		Detector: run.Summary.Detector,
	}

	md := report.RenderMarkdown(report.Meta{
		BatchID:    run.Config.BatchID,
		SourceFile: run.Config.SourceFile,
		StartedAt:  time.Unix(run.Config.Timestamp, 0).UTC(),
		Version:    run.Config.Version,
		System:     run.Config.System,
	}, result, run.Config.Thresholds, report.DefaultMaxMarkdownChars)

	output := reportOutput
	if output == "" {
		output = fmt.Sprintf("summary-%s.md", runID)
	}

	if err := os.WriteFile(output, []byte(md), 0644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", output).Info("Markdown summary generated")

	return nil
}
