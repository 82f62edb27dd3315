package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverops/simtriage/pkg/record"
	"github.com/solverops/simtriage/pkg/rules"
	"github.com/solverops/simtriage/pkg/triage"
)

func testThresholds() rules.Thresholds {
	return rules.Thresholds{
		YieldStressMPa:         450,
		MaxDisplacementMM:      2.5,
		MaxIterations:          40,
		WarningIterationsLower: 20,
	}
}

func fixtureResult() *triage.BatchResult {
	stress1, disp1, iters1 := 890.0, 5.6, 22.0
	stress2, disp2, iters2 := 320.0, 1.2, 18.0
	disp3, iters3 := 2.1, 15.0

	return &triage.BatchResult{
		Verdicts: []triage.Verdict{
			{
				RunID:      "R004",
				SolverKind: "ANSYS",
				Severity:   triage.SeverityFail,
				Flagged:    true,
				Reasons:    []string{"Missing critical data"},
				Record: record.Record{
					RunID: "R004", SolverKind: "ANSYS",
					Displacement: &disp3, Iterations: &iters3,
					HasMissing: true, Converged: true,
				},
			},
			{
				RunID:      "R002",
				SolverKind: "ANSYS",
				Severity:   triage.SeverityFail,
				Flagged:    true,
				Reasons: []string{
					"Stress 890 > 450 MPa (exceeds yield)",
					"Displacement 5.6 > 2.5 mm (exceeds limit)",
					"ML flagged (score=-0.71)",
				},
				Assessment: &triage.Assessment{Anomalous: true, Score: -0.71},
				Record: record.Record{
					RunID: "R002", SolverKind: "ANSYS",
					MaxStress: &stress1, Displacement: &disp1, Iterations: &iters1,
					Converged: true,
				},
			},
			{
				RunID:      "R001",
				SolverKind: "ANSYS",
				Severity:   triage.SeverityPass,
				Flagged:    false,
				Reasons:    []string{},
				Assessment: &triage.Assessment{Anomalous: false, Score: -0.42},
				Record: record.Record{
					RunID: "R001", SolverKind: "ANSYS",
					MaxStress: &stress2, Displacement: &disp2, Iterations: &iters2,
					Converged: true,
				},
			},
		},
		Tally: triage.Tally{Total: 3, Pass: 1, Fail: 2, Flagged: 2},
		Features: []triage.FeatureStats{
			{Feature: "max_stress_MPa", Count: 2, Mean: 605, Std: 403.05, Min: 320, P25: 462.5, P50: 605, P75: 747.5, Max: 890},
			{Feature: "displacement_mm", Count: 3, Mean: 2.97, Std: 2.33, Min: 1.2, P25: 1.65, P50: 2.1, P75: 3.85, Max: 5.6},
			{Feature: "convergence_iters", Count: 3, Mean: 18.33, Std: 3.51, Min: 15, P25: 16.5, P50: 18, P75: 20, Max: 22},
		},
		Detector: triage.DetectorMeta{
			Trees: 100, SampleSize: 2, Contamination: 0.25, Seed: 42,
			RecordsScored: 2, AnomaliesFound: 1, Offset: -0.55,
		},
	}
}

func TestRenderConsole_Sections(t *testing.T) {
	out := RenderConsole(fixtureResult(), testThresholds(), "runs.csv")

	assert.Contains(t, out, "1. DATA CLEANING & PREPROCESSING")
	assert.Contains(t, out, "Source: runs.csv")
	assert.Contains(t, out, "Total runs: 3")
	assert.Contains(t, out, "Missing data runs: 1")

	assert.Contains(t, out, "2. ML-BASED ANOMALY DETECTION")
	assert.Contains(t, out, "Samples analyzed: 2")
	assert.Contains(t, out, "ML anomalies detected: 1")

	assert.Contains(t, out, "3. FLAGGED RUNS WITH EXPLANATIONS")
	assert.Contains(t, out, "R002 (ANSYS):")
	assert.Contains(t, out, "Values: Stress=890, Disp=5.6, Iter=22")
	assert.Contains(t, out, "❌ Stress 890 > 450 MPa (exceeds yield)")
	assert.Contains(t, out, "Values: Stress=missing, Disp=2.1, Iter=15")

	assert.Contains(t, out, "4. RULE-BASED VALIDATION ENGINE")
	assert.Contains(t, out, "- Max Stress: 450 MPa")
	assert.Contains(t, out, "- Warning Range: 20-40 iterations")
	assert.Contains(t, out, "PASS: 1 | WARNING: 0 | FAIL: 2")

	assert.Contains(t, out, "5. EDGE CASES & LIMITATIONS")
	assert.Contains(t, out, "R002: converged but violate physical limits")
	assert.Contains(t, out, "R004: missing data, cannot validate, treated as FAIL")

	assert.Contains(t, out, "Total: 3 | Pass: 1 | Warning: 0 | Fail: 2")
}

func TestRenderConsole_FlaggedSortedByRunID(t *testing.T) {
	out := RenderConsole(fixtureResult(), testThresholds(), "")

	// R002 is listed before R004 even though the verdicts arrive in the
	// opposite order.
	first := strings.Index(out, "R002 (ANSYS):")
	second := strings.Index(out, "R004 (ANSYS):")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}

func TestRenderConsole_DetectorSkipped(t *testing.T) {
	result := fixtureResult()
	result.Detector = triage.DetectorMeta{
		Skipped:    true,
		SkipReason: "1 complete records, need at least 2",
	}

	out := RenderConsole(result, testThresholds(), "")

	assert.Contains(t, out, "Outlier detection skipped: 1 complete records, need at least 2")
	assert.NotContains(t, out, "Samples analyzed")
}

func TestRenderMarkdown_Sections(t *testing.T) {
	meta := Meta{
		BatchID:    "1736071200_a1b2c3d4_runs",
		SourceFile: "runs.csv",
		StartedAt:  time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC),
		Version:    "v1.2.3",
	}

	out := RenderMarkdown(meta, fixtureResult(), testThresholds(), 0)

	assert.Contains(t, out, "# Triage Report: 1736071200_a1b2c3d4_runs")
	assert.Contains(t, out, "| Source | `runs.csv` |")
	assert.Contains(t, out, "| Records | 3 |")
	assert.Contains(t, out, "| Incomplete Records | 1 |")
	assert.Contains(t, out, "| Analyzed | 2025-01-05 10:00:00 UTC |")
	assert.Contains(t, out, "| Tool Version | v1.2.3 |")

	assert.Contains(t, out, "| 3 | 1 | 0 | 2 | 2 |")

	assert.Contains(t, out, "| Yield Stress | 450 MPa |")
	assert.Contains(t, out, "| Warning Band | 20-40 iterations |")

	assert.Contains(t, out, "| max_stress_MPa | 2 | 605.00 |")
	assert.Contains(t, out, "| Records Scored | 2 |")
	assert.Contains(t, out, "| Contamination | 0.25 |")
	assert.Contains(t, out, "| Score Cutoff | -0.5500 |")

	assert.Contains(t, out, "## Limitations")

	assert.Contains(t, out, "| R002 | ANSYS | FAIL | Stress 890 > 450 MPa (exceeds yield); Displacement 5.6 > 2.5 mm (exceeds limit); ML flagged (score=-0.71) |")
	assert.Contains(t, out, "| R004 | ANSYS | FAIL | Missing critical data |")
}

func TestRenderMarkdown_SkippedDetector(t *testing.T) {
	result := fixtureResult()
	result.Detector = triage.DetectorMeta{Skipped: true, SkipReason: "0 complete records, need at least 2"}

	out := RenderMarkdown(Meta{BatchID: "b"}, result, testThresholds(), 0)

	assert.Contains(t, out, "*Skipped: 0 complete records, need at least 2.*")
	assert.NotContains(t, out, "| Records Scored |")
}

func TestRenderMarkdown_Truncation(t *testing.T) {
	result := fixtureResult()

	full := RenderMarkdown(Meta{BatchID: "b"}, result, testThresholds(), 0)

	// A cap just above the section header forces row truncation.
	capped := RenderMarkdown(Meta{BatchID: "b"}, result, testThresholds(), strings.Index(full, "## Flagged Runs")+60)

	assert.Contains(t, capped, "more flagged run(s) not shown")
	assert.Less(t, len(capped), len(full))
}

func TestFormatValue(t *testing.T) {
	v := 890.5
	assert.Equal(t, "890.5", formatValue(&v))
	assert.Equal(t, "missing", formatValue(nil))
}
