package triage

import (
	"github.com/solverops/simtriage/pkg/record"
	"github.com/solverops/simtriage/pkg/rules"
)

// classify resolves the severity tier for one record. FAIL is decided
// first and short-circuits, so a record that both hard-fails and sits in
// the warning band is FAIL. An ML anomaly alone never fails a run: it can
// only lift a converged run to WARNING through its reason entry.
func classify(rec *record.Record, res rules.Result, reasons []string) Severity {
	if res.HardFail() {
		return SeverityFail
	}

	if res.InWarningBand || (rec.Converged && len(reasons) > 0) {
		return SeverityWarning
	}

	return SeverityPass
}
