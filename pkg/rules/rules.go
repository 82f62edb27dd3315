// Package rules applies deterministic engineering thresholds to normalized
// run records. Evaluation is a pure per-record function with no batch
// state; every hard limit uses strict comparison so boundary values pass.
package rules

import (
	"github.com/solverops/simtriage/pkg/record"
)

// Thresholds are the engineering limits a batch is evaluated against. They
// travel as a single immutable value so every record in a batch sees the
// same limits.
type Thresholds struct {
	YieldStressMPa         float64 `json:"yield_stress_mpa"`
	MaxDisplacementMM      float64 `json:"max_displacement_mm"`
	MaxIterations          float64 `json:"max_iterations"`
	WarningIterationsLower float64 `json:"warning_iterations_lower"`
}

// Result holds the outcome of every threshold predicate for one record.
type Result struct {
	StressExceeded       bool
	DisplacementExceeded bool
	IterationsExceeded   bool
	NonConverged         bool
	MissingData          bool
	InWarningBand        bool
}

// HardFail reports whether any hard-fail predicate triggered. The warning
// band is a soft signal and never hard-fails.
func (r Result) HardFail() bool {
	return r.StressExceeded ||
		r.DisplacementExceeded ||
		r.IterationsExceeded ||
		r.NonConverged ||
		r.MissingData
}

// Evaluate applies the thresholds to one record. A missing numeric field
// never triggers its threshold predicate; it surfaces as MissingData
// instead. The warning band is inclusive on both ends.
func Evaluate(rec *record.Record, t Thresholds) Result {
	res := Result{
		NonConverged: !rec.Converged,
		MissingData:  rec.HasMissing,
	}

	if rec.MaxStress != nil && *rec.MaxStress > t.YieldStressMPa {
		res.StressExceeded = true
	}

	if rec.Displacement != nil && *rec.Displacement > t.MaxDisplacementMM {
		res.DisplacementExceeded = true
	}

	if rec.Iterations != nil {
		iters := *rec.Iterations

		if iters > t.MaxIterations {
			res.IterationsExceeded = true
		}

		if iters >= t.WarningIterationsLower && iters <= t.MaxIterations {
			res.InWarningBand = true
		}
	}

	return res
}
