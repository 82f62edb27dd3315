package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/solverops/simtriage/pkg/rules"
	"github.com/solverops/simtriage/pkg/sysinfo"
	"github.com/solverops/simtriage/pkg/triage"
)

// DefaultMaxMarkdownChars caps generated markdown summaries. The flagged
// runs table is the only section that grows with batch size, so it is
// rendered last and truncated when needed.
const DefaultMaxMarkdownChars = 65536

// Meta identifies the batch a markdown summary describes.
type Meta struct {
	BatchID    string
	SourceFile string
	StartedAt  time.Time
	Version    string
	System     *sysinfo.Info
}

// RenderMarkdown renders the markdown summary for one batch result. The
// output is capped at maxChars characters; zero means no cap.
func RenderMarkdown(meta Meta, result *triage.BatchResult, t rules.Thresholds, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# Triage Report: %s\n\n", meta.BatchID)

	writeMarkdownOverview(&sb, meta, result)
	writeMarkdownSystem(&sb, meta.System)
	writeMarkdownTally(&sb, result.Tally)
	writeMarkdownThresholds(&sb, t)
	writeMarkdownFeatures(&sb, result.Features)
	writeMarkdownDetector(&sb, result.Detector)
	writeMarkdownLimitations(&sb)

	// The flagged runs table goes last so truncation only ever costs rows.
	writeMarkdownFlagged(&sb, result, maxChars)

	return sb.String()
}

func writeMarkdownOverview(sb *strings.Builder, meta Meta, result *triage.BatchResult) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if meta.SourceFile != "" {
		fmt.Fprintf(sb, "| Source | `%s` |\n", meta.SourceFile)
	}

	fmt.Fprintf(sb, "| Records | %d |\n", result.Tally.Total)

	missing := 0
	for _, v := range result.Verdicts {
		if v.Record.HasMissing {
			missing++
		}
	}

	fmt.Fprintf(sb, "| Incomplete Records | %d |\n", missing)

	if !meta.StartedAt.IsZero() {
		fmt.Fprintf(sb, "| Analyzed | %s |\n",
			meta.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	if meta.Version != "" {
		fmt.Fprintf(sb, "| Tool Version | %s |\n", meta.Version)
	}

	sb.WriteByte('\n')
}

func writeMarkdownSystem(sb *strings.Builder, sys *sysinfo.Info) {
	if sys == nil {
		return
	}

	sb.WriteString("## System\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if sys.Hostname != "" {
		fmt.Fprintf(sb, "| Hostname | %s |\n", sys.Hostname)
	}

	if sys.CPUModel != "" {
		fmt.Fprintf(sb, "| CPU | %s |\n", sys.CPUModel)
	}

	if sys.CPUCores > 0 {
		fmt.Fprintf(sb, "| Cores | %d |\n", sys.CPUCores)
	}

	if sys.MemoryTotalGB > 0 {
		fmt.Fprintf(sb, "| Memory | %.1f GB |\n", sys.MemoryTotalGB)
	}

	if sys.Platform != "" {
		platform := sys.Platform
		if sys.PlatformVersion != "" {
			platform += " " + sys.PlatformVersion
		}

		fmt.Fprintf(sb, "| Platform | %s |\n", platform)
	}

	if sys.Arch != "" {
		fmt.Fprintf(sb, "| Arch | %s |\n", sys.Arch)
	}

	if sys.KernelVersion != "" {
		fmt.Fprintf(sb, "| Kernel | %s |\n", sys.KernelVersion)
	}

	sb.WriteByte('\n')
}

func writeMarkdownTally(sb *strings.Builder, tally triage.Tally) {
	sb.WriteString("## Verdicts\n\n")
	sb.WriteString("| Total | Pass | Warning | Fail | Flagged |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %d | %d |\n\n",
		tally.Total, tally.Pass, tally.Warning, tally.Fail, tally.Flagged)
}

func writeMarkdownThresholds(sb *strings.Builder, t rules.Thresholds) {
	sb.WriteString("## Thresholds\n\n")
	sb.WriteString("| Limit | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Yield Stress | %g MPa |\n", t.YieldStressMPa)
	fmt.Fprintf(sb, "| Max Displacement | %g mm |\n", t.MaxDisplacementMM)
	fmt.Fprintf(sb, "| Max Iterations | %g |\n", t.MaxIterations)
	fmt.Fprintf(sb, "| Warning Band | %g-%g iterations |\n\n",
		t.WarningIterationsLower, t.MaxIterations)
}

func writeMarkdownFeatures(sb *strings.Builder, stats []triage.FeatureStats) {
	if len(stats) == 0 {
		return
	}

	sb.WriteString("## Feature Statistics\n\n")
	sb.WriteString("| Feature | Count | Mean | Std | Min | P25 | P50 | P75 | Max |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|\n")

	for _, st := range stats {
		fmt.Fprintf(sb, "| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
			st.Feature, st.Count, st.Mean, st.Std, st.Min, st.P25, st.P50, st.P75, st.Max)
	}

	sb.WriteByte('\n')
}

func writeMarkdownDetector(sb *strings.Builder, meta triage.DetectorMeta) {
	sb.WriteString("## Outlier Detection\n\n")

	if meta.Skipped {
		fmt.Fprintf(sb, "*Skipped: %s.*\n\n", meta.SkipReason)

		return
	}

	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Records Scored | %d |\n", meta.RecordsScored)
	fmt.Fprintf(sb, "| Anomalies | %d |\n", meta.AnomaliesFound)
	fmt.Fprintf(sb, "| Trees | %d |\n", meta.Trees)
	fmt.Fprintf(sb, "| Sample Size | %d |\n", meta.SampleSize)
	fmt.Fprintf(sb, "| Contamination | %g |\n", meta.Contamination)
	fmt.Fprintf(sb, "| Seed | %d |\n", meta.Seed)
	fmt.Fprintf(sb, "| Score Cutoff | %.4f |\n\n", meta.Offset)
}

func writeMarkdownLimitations(sb *strings.Builder) {
	sb.WriteString("## Limitations\n\n")

	for _, l := range limitations {
		fmt.Fprintf(sb, "- %s\n", l)
	}

	sb.WriteByte('\n')
}

func writeMarkdownFlagged(sb *strings.Builder, result *triage.BatchResult, maxChars int) {
	flagged := flaggedByRunID(result)
	if len(flagged) == 0 {
		return
	}

	sb.WriteString("## Flagged Runs\n\n")
	sb.WriteString("| Run | Solver | Severity | Reasons |\n")
	sb.WriteString("|---|---|---|---|\n")

	// Reserve space for the truncation message.
	const reserveChars = 100

	for i, v := range flagged {
		row := fmt.Sprintf("| %s | %s | %s | %s |\n",
			v.RunID, v.SolverKind, v.Severity, strings.Join(v.Reasons, "; "))

		if maxChars > 0 && sb.Len()+len(row)+reserveChars > maxChars {
			remaining := len(flagged) - i
			fmt.Fprintf(sb, "\n*%d more flagged run(s) not shown (output truncated at %d chars)*\n",
				remaining, maxChars)

			return
		}

		sb.WriteString(row)
	}
}
