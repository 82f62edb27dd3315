package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/solverops/simtriage/pkg/fsutil"
	"github.com/solverops/simtriage/pkg/triage"
)

// Index contains the aggregated index of all triage runs.
type Index struct {
	Generated int64         `json:"generated"`
	Entries   []*IndexEntry `json:"entries"`
}

// IndexEntry contains summary information for a single triage run.
type IndexEntry struct {
	RunID           string        `json:"run_id"`
	BatchID         string        `json:"batch_id"`
	Timestamp       int64         `json:"timestamp"`
	SourceFile      string        `json:"source_file"`
	Records         int           `json:"records"`
	Tally           *triage.Tally `json:"tally,omitempty"`
	DetectorSkipped bool          `json:"detector_skipped,omitempty"`
}

// GenerateIndex scans the results directory and builds an index from
// all runs.
func GenerateIndex(resultsDir string) (*Index, error) {
	runsDir := RunsDir(resultsDir)

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{
				Generated: time.Now().Unix(),
				Entries:   make([]*IndexEntry, 0),
			}, nil
		}

		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	indexEntries := make([]*IndexEntry, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		runDir := filepath.Join(runsDir, entry.Name())

		indexEntry, err := buildIndexEntry(runDir, entry.Name())
		if err != nil {
			// Skip runs that can't be parsed (incomplete or corrupted).
			continue
		}

		indexEntries = append(indexEntries, indexEntry)
	}

	// Sort entries by timestamp, newest first.
	sort.Slice(indexEntries, func(i, j int) bool {
		return indexEntries[i].Timestamp > indexEntries[j].Timestamp
	})

	return &Index{
		Generated: time.Now().Unix(),
		Entries:   indexEntries,
	}, nil
}

// buildIndexEntry creates an index entry from a single run directory.
func buildIndexEntry(runDir, runID string) (*IndexEntry, error) {
	configData, err := os.ReadFile(filepath.Join(runDir, configFileName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configFileName, err)
	}

	var cfg RunConfig
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFileName, err)
	}

	entry := &IndexEntry{
		RunID:      runID,
		BatchID:    cfg.BatchID,
		Timestamp:  cfg.Timestamp,
		SourceFile: cfg.SourceFile,
		Records:    cfg.Records,
	}

	// The summary is optional; a run that crashed mid-write still
	// appears in the index with its metadata.
	summaryData, err := os.ReadFile(filepath.Join(runDir, summaryFileName))
	if err == nil {
		var summary Summary
		if err := json.Unmarshal(summaryData, &summary); err == nil {
			tally := summary.Tally
			entry.Tally = &tally
			entry.DetectorSkipped = summary.Detector.Skipped
		}
	}

	return entry, nil
}

// WriteIndex writes the index to index.json in the runs subdirectory.
func WriteIndex(resultsDir string, index *Index, owner *fsutil.Owner) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}

	indexPath := filepath.Join(RunsDir(resultsDir), indexFileName)
	if err := fsutil.WriteFile(indexPath, data, 0644, owner); err != nil {
		return fmt.Errorf("writing %s: %w", indexFileName, err)
	}

	return nil
}
