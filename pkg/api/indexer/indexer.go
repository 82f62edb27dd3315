package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/solverops/simtriage/pkg/api/storage"
	"github.com/solverops/simtriage/pkg/api/verdictstore"
	"github.com/solverops/simtriage/pkg/results"
	"github.com/solverops/simtriage/pkg/triage"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of batches indexed in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// Indexer is a background service that periodically scans storage and
// upserts discovered batch metadata and verdicts into the verdict store.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	store       verdictstore.Store
	reader      storage.Reader
	interval    time.Duration
	concurrency int
	done        chan struct{}
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store verdictstore.Store,
	reader storage.Reader,
	interval time.Duration,
	concurrency int,
) Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		reader:      reader,
		interval:    interval,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval. The first pass is
// asynchronous so the caller (the API server) is not blocked.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		// Run one pass immediately.
		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

// runPass executes one full indexing pass across all discovery paths.
func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()
	paths := idx.reader.DiscoveryPaths()

	idx.log.WithField("discovery_paths", len(paths)).
		Info("Indexing pass started")

	for _, dp := range paths {
		select {
		case <-ctx.Done():
			return
		case <-idx.done:
			return
		default:
		}

		if err := idx.indexDiscoveryPath(ctx, dp); err != nil {
			idx.log.WithError(err).
				WithField("discovery_path", dp).
				Warn("Indexing pass failed for discovery path")
		}
	}

	idx.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Info("Indexing pass completed")
}

// indexDiscoveryPath performs incremental indexing for a single
// discovery path. It discovers new batches and re-indexes incomplete
// ones using a bounded worker pool for parallel processing.
func (idx *indexer) indexDiscoveryPath(
	ctx context.Context, dp string,
) error {
	// List all batch run IDs from storage.
	storageIDs, err := idx.reader.ListRunIDs(ctx, dp)
	if err != nil {
		return fmt.Errorf("listing storage batch IDs: %w", err)
	}

	// List already-indexed batch run IDs.
	indexedIDs, err := idx.store.ListBatchRunIDs(ctx, dp)
	if err != nil {
		return fmt.Errorf("listing indexed batch IDs: %w", err)
	}

	// List incomplete batch run IDs that need re-indexing.
	incompleteIDs, err := idx.store.ListIncompleteBatchRunIDs(ctx, dp)
	if err != nil {
		return fmt.Errorf("listing incomplete batch IDs: %w", err)
	}

	indexedSet := make(map[string]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		indexedSet[id] = struct{}{}
	}

	incompleteSet := make(map[string]struct{}, len(incompleteIDs))
	for _, id := range incompleteIDs {
		incompleteSet[id] = struct{}{}
	}

	// Build list of batches that need indexing.
	type batchTask struct {
		runID          string
		alreadyIndexed bool
	}

	var tasks []batchTask

	for _, id := range storageIDs {
		_, alreadyIndexed := indexedSet[id]
		_, isIncomplete := incompleteSet[id]

		if alreadyIndexed && !isIncomplete {
			continue
		}

		tasks = append(tasks, batchTask{
			runID:          id,
			alreadyIndexed: alreadyIndexed,
		})
	}

	dpLog := idx.log.WithField("discovery_path", dp)

	newCount := 0
	for _, t := range tasks {
		if !t.alreadyIndexed {
			newCount++
		}
	}

	dpLog.WithFields(logrus.Fields{
		"storage_batches":    len(storageIDs),
		"indexed_batches":    len(indexedIDs),
		"new_batches":        newCount,
		"incomplete_batches": len(incompleteIDs),
	}).Info("Scanning discovery path")

	if len(tasks) == 0 {
		return nil
	}

	// Process batches concurrently with bounded parallelism.
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var indexed atomic.Int64

	for _, task := range tasks {
		g.Go(func() error {
			// Check for cancellation before starting work.
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexBatch(
				gCtx, dp, task.runID, task.alreadyIndexed,
			); err != nil {
				dpLog.WithError(err).
					WithField("run_id", task.runID).
					Warn("Failed to index batch")

				return nil //nolint:nilerr // log and continue
			}

			action := "indexed"
			if task.alreadyIndexed {
				action = "reindexed"
			}

			dpLog.WithField("run_id", task.runID).
				WithField("action", action).
				Info("Indexed batch")

			indexed.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexing batches: %w", err)
	}

	if count := indexed.Load(); count > 0 {
		dpLog.WithField("count", count).
			Info("Discovery path indexing complete")
	}

	return nil
}

// indexBatch reads config.json, summary.json and verdicts.json for a
// batch run directory, builds store rows, and upserts them. The three
// file reads are performed concurrently to reduce latency.
func (idx *indexer) indexBatch(
	ctx context.Context, dp, runID string, isReindex bool,
) error {
	// Read the three run files concurrently.
	var (
		configData, summaryData, verdictsData []byte
		configErr, summaryErr, verdictsErr    error
		fileWg                                sync.WaitGroup
	)

	fileWg.Add(3) //nolint:mnd // three files

	go func() {
		defer fileWg.Done()

		configData, configErr = idx.reader.GetRunFile(
			ctx, dp, runID, "config.json",
		)
	}()

	go func() {
		defer fileWg.Done()

		summaryData, summaryErr = idx.reader.GetRunFile(
			ctx, dp, runID, "summary.json",
		)
	}()

	go func() {
		defer fileWg.Done()

		verdictsData, verdictsErr = idx.reader.GetRunFile(
			ctx, dp, runID, "verdicts.json",
		)
	}()

	fileWg.Wait()

	if configErr != nil {
		return fmt.Errorf("reading config.json: %w", configErr)
	}

	if configData == nil {
		return fmt.Errorf("config.json not found")
	}

	if summaryErr != nil {
		idx.log.WithError(summaryErr).WithField("run_id", runID).
			Debug("Failed to read summary.json, continuing without it")

		summaryData = nil
	}

	if verdictsErr != nil {
		idx.log.WithError(verdictsErr).WithField("run_id", runID).
			Debug("Failed to read verdicts.json, continuing without it")

		verdictsData = nil
	}

	var runCfg results.RunConfig
	if err := json.Unmarshal(configData, &runCfg); err != nil {
		return fmt.Errorf("parsing config.json: %w", err)
	}

	now := time.Now().UTC()

	batch := &verdictstore.Batch{
		DiscoveryPath: dp,
		RunID:         runID,
		BatchID:       runCfg.BatchID,
		Timestamp:     runCfg.Timestamp,
		TimestampEnd:  runCfg.TimestampEnd,
		SourceFile:    runCfg.SourceFile,
		Records:       runCfg.Records,
		ConfigJSON:    string(configData),
		IndexedAt:     now,
	}

	if isReindex {
		batch.ReindexedAt = &now
	}

	if summaryData != nil {
		var summary results.Summary

		if err := json.Unmarshal(summaryData, &summary); err != nil {
			// A torn summary.json (scanned mid-write) counts as absent
			// so the batch stays incomplete and is retried next pass.
			idx.log.WithError(err).WithField("run_id", runID).
				Debug("Failed to parse summary.json, treating it as absent")
		} else {
			batch.HasSummary = true
			batch.PassCount = summary.Tally.Pass
			batch.WarningCount = summary.Tally.Warning
			batch.FailCount = summary.Tally.Fail
			batch.FlaggedCount = summary.Tally.Flagged
			batch.DetectorSkipped = summary.Detector.Skipped
		}
	}

	var rows []*verdictstore.Verdict

	if verdictsData != nil {
		var verdicts []triage.Verdict
		if err := json.Unmarshal(verdictsData, &verdicts); err != nil {
			return fmt.Errorf("parsing verdicts.json: %w", err)
		}

		rows = make([]*verdictstore.Verdict, 0, len(verdicts))
		for i := range verdicts {
			rows = append(rows, verdictRow(dp, runID, &verdicts[i]))
		}
	}

	// Serialize DB writes to avoid SQLite BUSY errors under concurrency.
	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	// Verdict rows go in first so a failed insert leaves the batch row
	// unwritten and the run is retried on the next pass.
	if rows != nil {
		if err := idx.store.ReplaceVerdicts(ctx, dp, runID, rows); err != nil {
			return fmt.Errorf("replacing verdicts: %w", err)
		}
	}

	if err := idx.store.UpsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("upserting batch: %w", err)
	}

	return nil
}

// verdictRow flattens one persisted verdict into its store row.
func verdictRow(
	dp, batchRunID string, v *triage.Verdict,
) *verdictstore.Verdict {
	reasonsJSON := "[]"

	if len(v.Reasons) > 0 {
		if b, err := json.Marshal(v.Reasons); err == nil {
			reasonsJSON = string(b)
		}
	}

	row := &verdictstore.Verdict{
		DiscoveryPath: dp,
		BatchRunID:    batchRunID,
		RunID:         v.RunID,
		SolverKind:    v.SolverKind,
		Severity:      string(v.Severity),
		Flagged:       v.Flagged,
		ReasonsJSON:   reasonsJSON,
		MaxStress:     v.Record.MaxStress,
		Displacement:  v.Record.Displacement,
		Iterations:    v.Record.Iterations,
		Converged:     v.Record.Converged,
		HasMissing:    v.Record.HasMissing,
	}

	if v.Assessment != nil {
		score := v.Assessment.Score
		row.Score = &score
		row.Anomalous = v.Assessment.Anomalous
	}

	return row
}
