// Package results persists triage batch output as run directories under
// a shared results root and maintains an index across them.
//
// Each run directory is named "<unix-ts>_<batch-id>_<source-stem>" and
// holds config.json (batch metadata), verdicts.json (per-record
// verdicts), summary.json (aggregates) and optionally summary.md.
package results

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/solverops/simtriage/pkg/fsutil"
	"github.com/solverops/simtriage/pkg/isoforest"
	"github.com/solverops/simtriage/pkg/rules"
	"github.com/solverops/simtriage/pkg/sysinfo"
	"github.com/solverops/simtriage/pkg/triage"
)

const (
	runsSubdir       = "runs"
	configFileName   = "config.json"
	verdictsFileName = "verdicts.json"
	summaryFileName  = "summary.json"
	markdownFileName = "summary.md"
	indexFileName    = "index.json"
)

// RunConfig is the batch metadata written to config.json in each run
// directory.
type RunConfig struct {
	BatchID      string            `json:"batch_id"`
	Timestamp    int64             `json:"timestamp"`
	TimestampEnd int64             `json:"timestamp_end,omitempty"`
	SourceFile   string            `json:"source_file"`
	Records      int               `json:"records"`
	Thresholds   rules.Thresholds  `json:"thresholds"`
	Detector     isoforest.Config  `json:"detector"`
	System       *sysinfo.Info     `json:"system,omitempty"`
	Version      string            `json:"version,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// Summary is the aggregate block written to summary.json.
type Summary struct {
	Tally    triage.Tally          `json:"tally"`
	Features []triage.FeatureStats `json:"features,omitempty"`
	Detector triage.DetectorMeta   `json:"detector"`
}

// Run bundles the persisted artifacts of one triage run.
type Run struct {
	Config   *RunConfig
	Verdicts []triage.Verdict
	Summary  *Summary
}

// NewSummary extracts the aggregate block of a batch result.
func NewSummary(result *triage.BatchResult) *Summary {
	return &Summary{
		Tally:    result.Tally,
		Features: result.Features,
		Detector: result.Detector,
	}
}

// NewBatchID returns a short random hex ID (8 characters).
func NewBatchID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}

	return hex.EncodeToString(b)
}

// RunsDir returns the directory that holds all run directories.
func RunsDir(resultsDir string) string {
	return filepath.Join(resultsDir, runsSubdir)
}

// RunDirName builds the directory name for a run.
func RunDirName(timestamp int64, batchID, source string) string {
	return fmt.Sprintf("%d_%s_%s", timestamp, batchID, sourceStem(source))
}

// sourceStem derives the run directory suffix from an input path. Only
// portable filename characters survive; anything else becomes '-'.
func sourceStem(source string) string {
	stem := filepath.Base(source)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))

	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "batch"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '.', r == '_':
			return r
		default:
			return '-'
		}
	}, stem)
}

// CreateRunDir creates a run directory under resultsDir/runs and
// returns its path.
func CreateRunDir(resultsDir, name string, owner *fsutil.Owner) (string, error) {
	runDir := filepath.Join(RunsDir(resultsDir), name)
	if err := fsutil.MkdirAll(runDir, 0755, owner); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	return runDir, nil
}

// WriteRun writes config.json, verdicts.json and summary.json into the
// run directory.
func WriteRun(runDir string, cfg *RunConfig, result *triage.BatchResult, owner *fsutil.Owner) error {
	if err := writeJSONFile(filepath.Join(runDir, configFileName), cfg, owner); err != nil {
		return fmt.Errorf("writing %s: %w", configFileName, err)
	}

	if err := writeJSONFile(filepath.Join(runDir, verdictsFileName), result.Verdicts, owner); err != nil {
		return fmt.Errorf("writing %s: %w", verdictsFileName, err)
	}

	if err := writeJSONFile(filepath.Join(runDir, summaryFileName), NewSummary(result), owner); err != nil {
		return fmt.Errorf("writing %s: %w", summaryFileName, err)
	}

	return nil
}

// WriteMarkdownSummary writes summary.md into the run directory.
func WriteMarkdownSummary(runDir, markdown string, owner *fsutil.Owner) error {
	path := filepath.Join(runDir, markdownFileName)
	if err := fsutil.WriteFile(path, []byte(markdown), 0644, owner); err != nil {
		return fmt.Errorf("writing %s: %w", markdownFileName, err)
	}

	return nil
}

// ReadRun loads the persisted artifacts of a run directory.
func ReadRun(runDir string) (*Run, error) {
	run := &Run{}

	if err := readJSONFile(filepath.Join(runDir, configFileName), &run.Config); err != nil {
		return nil, fmt.Errorf("reading %s: %w", configFileName, err)
	}

	if err := readJSONFile(filepath.Join(runDir, verdictsFileName), &run.Verdicts); err != nil {
		return nil, fmt.Errorf("reading %s: %w", verdictsFileName, err)
	}

	if err := readJSONFile(filepath.Join(runDir, summaryFileName), &run.Summary); err != nil {
		return nil, fmt.Errorf("reading %s: %w", summaryFileName, err)
	}

	return run, nil
}

// ReadMarkdownSummary loads summary.md from a run directory if present.
func ReadMarkdownSummary(runDir string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(runDir, markdownFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("reading %s: %w", markdownFileName, err)
	}

	return string(data), true, nil
}

func writeJSONFile(path string, v any, owner *fsutil.Owner) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}

	return fsutil.WriteFile(path, data, 0644, owner)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}
