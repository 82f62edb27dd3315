package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solverops/simtriage/pkg/config"
	"github.com/solverops/simtriage/pkg/fsutil"
	"github.com/solverops/simtriage/pkg/results"
	"github.com/solverops/simtriage/pkg/upload"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Regenerate the results index",
	Long: `Scan the results directory (or the configured S3 bucket) and rewrite
index.json across all triage runs.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	resultsOwner, err := fsutil.ParseOwner(cfg.Triage.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	return generateResultsIndex(cmd.Context(), cfg, resultsOwner)
}

// generateResultsIndex regenerates index.json using either the local
// filesystem or S3, per triage.generate_results_index_method.
func generateResultsIndex(
	ctx context.Context,
	cfg *config.Config,
	resultsOwner *fsutil.Owner,
) error {
	switch cfg.Triage.GenerateResultsIndexMethod {
	case "", "local":
		return generateResultsIndexLocal(cfg, resultsOwner)
	case "s3":
		return generateResultsIndexS3(ctx, cfg)
	default:
		return fmt.Errorf(
			"unsupported generate_results_index_method %q (use \"local\" or \"s3\")",
			cfg.Triage.GenerateResultsIndexMethod,
		)
	}
}

// generateResultsIndexLocal generates index.json from a local results
// directory.
func generateResultsIndexLocal(cfg *config.Config, resultsOwner *fsutil.Owner) error {
	log.Info("Generating results index from local filesystem")

	index, err := results.GenerateIndex(cfg.Triage.ResultsDir)
	if err != nil {
		return fmt.Errorf("generating index: %w", err)
	}

	if err := results.WriteIndex(cfg.Triage.ResultsDir, index, resultsOwner); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	log.WithField("entries", len(index.Entries)).Info("Results index generated")

	return nil
}

// generateResultsIndexS3 generates index.json by reading runs from S3
// and uploads the result back to the bucket.
func generateResultsIndexS3(ctx context.Context, cfg *config.Config) error {
	s3Cfg := cfg.S3Upload()
	if s3Cfg == nil || !s3Cfg.Enabled {
		return fmt.Errorf(
			"generate_results_index_method is \"s3\" but S3 upload " +
				"is not configured or not enabled",
		)
	}

	prefix := s3Cfg.Prefix
	if prefix == "" {
		prefix = "results"
	}

	prefix = strings.TrimRight(prefix, "/")
	runsPrefix := prefix + "/runs/"

	reader := upload.NewS3Reader(log, s3Cfg)

	log.WithFields(logrus.Fields{
		"bucket": s3Cfg.Bucket,
		"prefix": runsPrefix,
	}).Info("Generating results index from S3")

	index, err := results.GenerateIndexFromS3(ctx, log, reader, runsPrefix)
	if err != nil {
		return fmt.Errorf("generating index from S3: %w", err)
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}

	indexKey := runsPrefix + "index.json"
	if err := reader.PutObject(ctx, indexKey, data, "application/json"); err != nil {
		return fmt.Errorf("uploading index: %w", err)
	}

	log.WithFields(logrus.Fields{
		"entries": len(index.Entries),
		"key":     indexKey,
	}).Info("Results index uploaded to S3")

	return nil
}
