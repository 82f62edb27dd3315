// Package triage combines rule evaluation and outlier detection into one
// verdict per simulation run.
package triage

import (
	"github.com/solverops/simtriage/pkg/record"
)

// Severity is the final triage tier of a run.
type Severity string

const (
	SeverityPass    Severity = "PASS"
	SeverityWarning Severity = "WARNING"
	SeverityFail    Severity = "FAIL"
)

// Severities lists all tiers in escalation order.
var Severities = []Severity{SeverityPass, SeverityWarning, SeverityFail}

// Valid reports whether s is a known severity tier.
func (s Severity) Valid() bool {
	switch s {
	case SeverityPass, SeverityWarning, SeverityFail:
		return true
	default:
		return false
	}
}

// Assessment is the outlier detector's judgment of one record. Records
// with missing features receive no assessment at all, which is distinct
// from being assessed as normal.
type Assessment struct {
	// Anomalous is true when the record's score fell below the fitted
	// contamination cutoff.
	Anomalous bool `json:"anomalous"`

	// Score is the isolation forest sample score in (-1, 0); lower means
	// more anomalous.
	Score float64 `json:"score"`
}

// Verdict is the triage outcome for one run. Reasons keep evaluation
// order: stress, displacement, iterations, non-convergence, missing data,
// ML anomaly.
type Verdict struct {
	RunID      string        `json:"run_id"`
	SolverKind string        `json:"solver_type"`
	Severity   Severity      `json:"severity"`
	Flagged    bool          `json:"flagged"`
	Reasons    []string      `json:"reasons"`
	Assessment *Assessment   `json:"assessment,omitempty"`
	Record     record.Record `json:"record"`
}

// Tally counts verdicts per severity tier for one batch.
type Tally struct {
	Total   int `json:"total"`
	Pass    int `json:"pass"`
	Warning int `json:"warning"`
	Fail    int `json:"fail"`
	Flagged int `json:"flagged"`
}

// DetectorMeta describes the outlier detection pass over one batch.
type DetectorMeta struct {
	Skipped        bool    `json:"skipped"`
	SkipReason     string  `json:"skip_reason,omitempty"`
	Trees          int     `json:"trees"`
	SampleSize     int     `json:"sample_size,omitempty"`
	Contamination  float64 `json:"contamination"`
	Seed           int64   `json:"seed"`
	RecordsScored  int     `json:"records_scored"`
	AnomaliesFound int     `json:"anomalies_found"`
	Offset         float64 `json:"offset,omitempty"`
}

// BatchResult is the full outcome of analyzing one batch of records.
type BatchResult struct {
	Verdicts []Verdict      `json:"verdicts"`
	Tally    Tally          `json:"tally"`
	Features []FeatureStats `json:"feature_stats"`
	Detector DetectorMeta   `json:"detector"`
}
