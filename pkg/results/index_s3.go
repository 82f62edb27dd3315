package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ObjectReader reads result objects from remote storage. upload.S3Reader
// satisfies it.
type ObjectReader interface {
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// GenerateIndexFromS3 builds an index by listing run prefixes under
// runsPrefix (which must end with "/") and reading each run's config.json
// and summary.json from remote storage.
func GenerateIndexFromS3(
	ctx context.Context,
	log logrus.FieldLogger,
	reader ObjectReader,
	runsPrefix string,
) (*Index, error) {
	prefixes, err := reader.ListPrefixes(ctx, runsPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing run prefixes: %w", err)
	}

	indexEntries := make([]*IndexEntry, 0, len(prefixes))

	for _, runPrefix := range prefixes {
		runID := strings.TrimSuffix(strings.TrimPrefix(runPrefix, runsPrefix), "/")
		if runID == "" {
			continue
		}

		entry, err := buildIndexEntryFromObjects(ctx, reader, runPrefix, runID)
		if err != nil {
			log.WithError(err).WithField("run", runID).Warn("Skipping unreadable run")

			continue
		}

		if entry == nil {
			// No config.json under this prefix; not a run directory.
			continue
		}

		indexEntries = append(indexEntries, entry)
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

// buildIndexEntryFromObjects creates an index entry from a run prefix in
// remote storage.
func buildIndexEntryFromObjects(
	ctx context.Context,
	reader ObjectReader,
	runPrefix, runID string,
) (*IndexEntry, error) {
	configData, err := reader.GetObject(ctx, runPrefix+configFileName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configFileName, err)
	}

	if configData == nil {
		return nil, nil
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

	// The summary is optional; a run uploaded mid-write still appears in
	// the index with its metadata.
	summaryData, err := reader.GetObject(ctx, runPrefix+summaryFileName)
	if err != nil || summaryData == nil {
		return entry, nil
	}

	var summary Summary
	if err := json.Unmarshal(summaryData, &summary); err == nil {
		tally := summary.Tally
		entry.Tally = &tally
		entry.DetectorSkipped = summary.Detector.Skipped
	}

	return entry, nil
}
