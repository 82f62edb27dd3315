package triage

import (
	"fmt"

	"github.com/solverops/simtriage/pkg/record"
	"github.com/solverops/simtriage/pkg/rules"
)

// buildReasons renders the ordered explanation list for one record. Each
// triggered condition contributes exactly one entry embedding the observed
// value and the violated limit. The order is fixed and entries are never
// deduplicated or reordered.
func buildReasons(rec *record.Record, res rules.Result, t rules.Thresholds, assessment *Assessment) []string {
	reasons := make([]string, 0, 6)

	if res.StressExceeded {
		reasons = append(reasons,
			fmt.Sprintf("Stress %.0f > %g MPa (exceeds yield)", *rec.MaxStress, t.YieldStressMPa))
	}

	if res.DisplacementExceeded {
		reasons = append(reasons,
			fmt.Sprintf("Displacement %.1f > %g mm (exceeds limit)", *rec.Displacement, t.MaxDisplacementMM))
	}

	if res.IterationsExceeded {
		reasons = append(reasons,
			fmt.Sprintf("Iterations %g > %g (poor convergence)", *rec.Iterations, t.MaxIterations))
	}

	if res.NonConverged {
		reasons = append(reasons, fmt.Sprintf("Non-convergence: '%s'", rec.StatusText))
	}

	if res.MissingData {
		reasons = append(reasons, "Missing critical data")
	}

	if assessment != nil && assessment.Anomalous {
		reasons = append(reasons, fmt.Sprintf("ML flagged (score=%.2f)", assessment.Score))
	}

	return reasons
}
