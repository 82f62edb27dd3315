// Package report renders batch results for humans: a sectioned console
// report and a markdown summary.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solverops/simtriage/pkg/rules"
	"github.com/solverops/simtriage/pkg/triage"
)

const sectionBar = "======================================================================"

// limitations are surfaced in every report so readers weigh the verdicts
// accordingly.
var limitations = []string{
	"The detector is refit per batch; small batches limit its reliability",
	"Binary thresholds model no gradual degradation",
	"The contamination fraction is assumed, not estimated from data",
	"No physics-based relationships between fields are modeled",
	"No cross-batch or time-series drift analysis",
	"Anomaly scores do not explain which feature drove the flag",
}

// RenderConsole renders the full sectioned console report for one batch.
func RenderConsole(result *triage.BatchResult, t rules.Thresholds, source string) string {
	var sb strings.Builder

	sb.Grow(4096)

	writeConsoleHeader(&sb, result, source)
	writeConsoleDetector(&sb, result)
	writeConsoleFlagged(&sb, result)
	writeConsoleRules(&sb, result, t)
	writeConsoleEdgeCases(&sb, result)
	writeConsoleSummary(&sb, result)

	return sb.String()
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(sectionBar + "\n")
	sb.WriteString(title + "\n")
	sb.WriteString(sectionBar + "\n")
}

func writeConsoleHeader(sb *strings.Builder, result *triage.BatchResult, source string) {
	section(sb, "1. DATA CLEANING & PREPROCESSING")

	if source != "" {
		fmt.Fprintf(sb, "Source: %s\n", source)
	}

	missing := 0
	for _, v := range result.Verdicts {
		if v.Record.HasMissing {
			missing++
		}
	}

	fmt.Fprintf(sb, "Total runs: %d\n", result.Tally.Total)
	fmt.Fprintf(sb, "Missing data runs: %d\n", missing)

	sb.WriteString("\nStatistics:\n")
	fmt.Fprintf(sb, "  %-20s %7s %10s %10s %10s %10s %10s %10s %10s\n",
		"feature", "count", "mean", "std", "min", "p25", "p50", "p75", "max")

	for _, st := range result.Features {
		fmt.Fprintf(sb, "  %-20s %7d %10.2f %10.2f %10.2f %10.2f %10.2f %10.2f %10.2f\n",
			st.Feature, st.Count, st.Mean, st.Std, st.Min, st.P25, st.P50, st.P75, st.Max)
	}

	sb.WriteByte('\n')
}

func writeConsoleDetector(sb *strings.Builder, result *triage.BatchResult) {
	section(sb, "2. ML-BASED ANOMALY DETECTION")

	if result.Detector.Skipped {
		fmt.Fprintf(sb, "Outlier detection skipped: %s\n\n", result.Detector.SkipReason)

		return
	}

	fmt.Fprintf(sb, "Samples analyzed: %d\n", result.Detector.RecordsScored)
	fmt.Fprintf(sb, "ML anomalies detected: %d\n\n", result.Detector.AnomaliesFound)
}

func writeConsoleFlagged(sb *strings.Builder, result *triage.BatchResult) {
	section(sb, "3. FLAGGED RUNS WITH EXPLANATIONS")

	flagged := flaggedByRunID(result)
	if len(flagged) == 0 {
		sb.WriteString("No runs flagged.\n\n")

		return
	}

	for _, v := range flagged {
		fmt.Fprintf(sb, "\n%s (%s):\n", v.RunID, v.SolverKind)
		fmt.Fprintf(sb, "  Values: Stress=%s, Disp=%s, Iter=%s\n",
			formatValue(v.Record.MaxStress),
			formatValue(v.Record.Displacement),
			formatValue(v.Record.Iterations))

		for _, reason := range v.Reasons {
			fmt.Fprintf(sb, "  ❌ %s\n", reason)
		}
	}

	sb.WriteByte('\n')
}

func writeConsoleRules(sb *strings.Builder, result *triage.BatchResult, t rules.Thresholds) {
	section(sb, "4. RULE-BASED VALIDATION ENGINE")

	sb.WriteString("\nValidation Rules Applied:\n")
	fmt.Fprintf(sb, "  - Max Stress: %g MPa\n", t.YieldStressMPa)
	fmt.Fprintf(sb, "  - Max Displacement: %g mm\n", t.MaxDisplacementMM)
	fmt.Fprintf(sb, "  - Max Iterations: %g\n", t.MaxIterations)
	fmt.Fprintf(sb, "  - Warning Range: %g-%g iterations\n", t.WarningIterationsLower, t.MaxIterations)

	sb.WriteString("\nValidation Results:\n")
	fmt.Fprintf(sb, "  PASS: %d | WARNING: %d | FAIL: %d\n\n",
		result.Tally.Pass, result.Tally.Warning, result.Tally.Fail)
}

func writeConsoleEdgeCases(sb *strings.Builder, result *triage.BatchResult) {
	section(sb, "5. EDGE CASES & LIMITATIONS")

	edges := collectEdgeCases(result)
	if len(edges) > 0 {
		sb.WriteString("\nEdge cases in this batch:\n")

		for _, e := range edges {
			fmt.Fprintf(sb, "  • %s\n", e)
		}
	}

	sb.WriteString("\nLimitations:\n")

	for i, l := range limitations {
		fmt.Fprintf(sb, "  %d. %s\n", i+1, l)
	}

	sb.WriteByte('\n')
}

func writeConsoleSummary(sb *strings.Builder, result *triage.BatchResult) {
	section(sb, "SUMMARY")
	fmt.Fprintf(sb, "Total: %d | Pass: %d | Warning: %d | Fail: %d\n",
		result.Tally.Total, result.Tally.Pass, result.Tally.Warning, result.Tally.Fail)
	sb.WriteString(sectionBar + "\n")
}

// flaggedByRunID returns the flagged verdicts sorted by run id for stable
// listings.
func flaggedByRunID(result *triage.BatchResult) []triage.Verdict {
	flagged := make([]triage.Verdict, 0, result.Tally.Flagged)

	for _, v := range result.Verdicts {
		if v.Flagged {
			flagged = append(flagged, v)
		}
	}

	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].RunID < flagged[j].RunID
	})

	return flagged
}

// collectEdgeCases derives noteworthy run groups from the verdicts.
func collectEdgeCases(result *triage.BatchResult) []string {
	var convergedViolators, missing, mlOnly []string

	for _, v := range result.Verdicts {
		if v.Record.HasMissing {
			missing = append(missing, v.RunID)
		}

		if v.Record.Converged && hasPhysicalViolation(v) {
			convergedViolators = append(convergedViolators, v.RunID)
		}

		if v.Assessment != nil && v.Assessment.Anomalous && len(v.Reasons) == 1 {
			mlOnly = append(mlOnly, v.RunID)
		}
	}

	var edges []string

	if len(convergedViolators) > 0 {
		edges = append(edges, fmt.Sprintf("%s: converged but violate physical limits",
			strings.Join(convergedViolators, ", ")))
	}

	if len(missing) > 0 {
		edges = append(edges, fmt.Sprintf("%s: missing data, cannot validate, treated as FAIL",
			strings.Join(missing, ", ")))
	}

	if len(mlOnly) > 0 {
		edges = append(edges, fmt.Sprintf("%s: flagged by the detector alone, review manually",
			strings.Join(mlOnly, ", ")))
	}

	return edges
}

// hasPhysicalViolation checks the reason list for a threshold violation.
// Reason prefixes are a stable contract of the triage package.
func hasPhysicalViolation(v triage.Verdict) bool {
	for _, reason := range v.Reasons {
		if strings.HasPrefix(reason, "Stress ") ||
			strings.HasPrefix(reason, "Displacement ") ||
			strings.HasPrefix(reason, "Iterations ") {
			return true
		}
	}

	return false
}

// formatValue renders an optional numeric for listings.
func formatValue(v *float64) string {
	if v == nil {
		return "missing"
	}

	return fmt.Sprintf("%g", *v)
}
