package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solverops/simtriage/pkg/record"
	"github.com/solverops/simtriage/pkg/rules"
)

func convergedRecord() *record.Record {
	rec := record.Normalize(record.Raw{RunID: "R001", StatusText: "Converged successfully"})

	return &rec
}

func nonConvergedRecord() *record.Record {
	rec := record.Normalize(record.Raw{RunID: "R003", StatusText: "Did not converge"})

	return &rec
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		rec     *record.Record
		res     rules.Result
		reasons []string
		want    Severity
	}{
		{
			name: "clean converged run passes",
			rec:  convergedRecord(),
			res:  rules.Result{},
			want: SeverityPass,
		},
		{
			name: "stress violation fails",
			rec:  convergedRecord(),
			res:  rules.Result{StressExceeded: true},
			want: SeverityFail,
		},
		{
			name: "missing data fails",
			rec:  convergedRecord(),
			res:  rules.Result{MissingData: true},
			want: SeverityFail,
		},
		{
			name: "non-convergence fails",
			rec:  nonConvergedRecord(),
			res:  rules.Result{NonConverged: true},
			want: SeverityFail,
		},
		{
			name: "warning band alone warns",
			rec:  convergedRecord(),
			res:  rules.Result{InWarningBand: true},
			want: SeverityWarning,
		},
		{
			name:    "converged with ML reason warns but never fails",
			rec:     convergedRecord(),
			res:     rules.Result{},
			reasons: []string{"ML flagged (score=-0.71)"},
			want:    SeverityWarning,
		},
		{
			name: "fail takes precedence over warning band",
			rec:  convergedRecord(),
			res:  rules.Result{StressExceeded: true, InWarningBand: true},
			want: SeverityFail,
		},
		{
			name:    "fail takes precedence over converged-with-reasons",
			rec:     convergedRecord(),
			res:     rules.Result{DisplacementExceeded: true},
			reasons: []string{"Displacement 5.6 > 2.5 mm (exceeds limit)"},
			want:    SeverityFail,
		},
		{
			name:    "non-converged record with only an ML reason still passes rules gate",
			rec:     nonConvergedRecord(),
			res:     rules.Result{NonConverged: true},
			reasons: []string{"Non-convergence: 'Did not converge'"},
			want:    SeverityFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.rec, tt.res, tt.reasons))
		})
	}
}

func TestBuildReasons_FormatsAndOrder(t *testing.T) {
	thresholds := rules.Thresholds{
		YieldStressMPa:         450,
		MaxDisplacementMM:      2.5,
		MaxIterations:          40,
		WarningIterationsLower: 20,
	}

	stress := 890.4
	disp := 5.6
	iters := 45.0

	rec := &record.Record{
		RunID:        "R999",
		MaxStress:    &stress,
		Displacement: &disp,
		Iterations:   &iters,
		StatusText:   "Did not converge",
		HasMissing:   false,
	}

	res := rules.Result{
		StressExceeded:       true,
		DisplacementExceeded: true,
		IterationsExceeded:   true,
		NonConverged:         true,
		MissingData:          true,
	}

	assessment := &Assessment{Anomalous: true, Score: -0.6543}

	reasons := buildReasons(rec, res, thresholds, assessment)

	assert.Equal(t, []string{
		"Stress 890 > 450 MPa (exceeds yield)",
		"Displacement 5.6 > 2.5 mm (exceeds limit)",
		"Iterations 45 > 40 (poor convergence)",
		"Non-convergence: 'Did not converge'",
		"Missing critical data",
		"ML flagged (score=-0.65)",
	}, reasons)
}

func TestBuildReasons_NoAssessmentMeansNoMLReason(t *testing.T) {
	rec := convergedRecord()

	reasons := buildReasons(rec, rules.Result{}, rules.Thresholds{}, nil)
	assert.Empty(t, reasons)

	// An assessment judged normal contributes nothing either.
	reasons = buildReasons(rec, rules.Result{}, rules.Thresholds{}, &Assessment{Anomalous: false, Score: -0.41})
	assert.Empty(t, reasons)
}

func TestSeverity_Valid(t *testing.T) {
	assert.True(t, SeverityPass.Valid())
	assert.True(t, SeverityWarning.Valid())
	assert.True(t, SeverityFail.Valid())
	assert.False(t, Severity("CRITICAL").Valid())
	assert.False(t, Severity("").Valid())
}
