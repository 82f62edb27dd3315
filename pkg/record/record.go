// Package record defines the simulation run model and the normalization
// step that coerces raw tabular rows into typed records.
package record

import (
	"math"
	"strconv"
	"strings"
)

// convergedMarker is the status text fragment marking a converged run.
// Matching is case-insensitive substring containment.
const convergedMarker = "converged successfully"

// FeatureNames lists the numeric feature columns in canonical order. The
// scaler, the detector and the summary statistics all use this order.
var FeatureNames = []string{"max_stress_MPa", "displacement_mm", "convergence_iters"}

// Raw is a single ingested row before numeric coercion. The numeric fields
// stay strings so CSV cells, JSON scalars and YAML scalars all funnel
// through the same parse in Normalize.
type Raw struct {
	RunID        string `json:"run_id" yaml:"run_id"`
	SolverKind   string `json:"solver_type" yaml:"solver_type"`
	MeshCount    string `json:"mesh_count" yaml:"mesh_count"`
	MaxStress    string `json:"max_stress_MPa" yaml:"max_stress_MPa"`
	Displacement string `json:"displacement_mm" yaml:"displacement_mm"`
	Iterations   string `json:"convergence_iters" yaml:"convergence_iters"`
	StatusText   string `json:"status_text" yaml:"status_text"`
	Timestamp    string `json:"timestamp" yaml:"timestamp"`
}

// Record is a normalized simulation run. A nil numeric field means the value
// was absent or unparsable in the input.
type Record struct {
	RunID        string   `json:"run_id"`
	SolverKind   string   `json:"solver_type"`
	MeshCount    int64    `json:"mesh_count"`
	MaxStress    *float64 `json:"max_stress_mpa"`
	Displacement *float64 `json:"displacement_mm"`
	Iterations   *float64 `json:"convergence_iters"`
	StatusText   string   `json:"status_text"`
	Timestamp    string   `json:"timestamp"`

	// Derived once by Normalize, pure functions of the fields above.
	HasMissing bool `json:"has_missing"`
	Converged  bool `json:"converged"`
}

// Normalize coerces a raw row into a Record. Blank or unparsable numeric
// fields become nil, never errors. HasMissing is true when any of the three
// feature fields is nil; Converged is true when the status text contains
// the converged marker regardless of case.
func Normalize(raw Raw) Record {
	rec := Record{
		RunID:        strings.TrimSpace(raw.RunID),
		SolverKind:   CanonicalSolverKind(raw.SolverKind),
		MeshCount:    parseCount(raw.MeshCount),
		MaxStress:    parseFloat(raw.MaxStress),
		Displacement: parseFloat(raw.Displacement),
		Iterations:   parseFloat(raw.Iterations),
		StatusText:   strings.TrimSpace(raw.StatusText),
		Timestamp:    strings.TrimSpace(raw.Timestamp),
	}

	rec.HasMissing = rec.MaxStress == nil || rec.Displacement == nil || rec.Iterations == nil
	rec.Converged = strings.Contains(strings.ToLower(rec.StatusText), convergedMarker)

	return rec
}

// NormalizeAll normalizes a batch of raw rows preserving input order.
func NormalizeAll(raws []Raw) []Record {
	records := make([]Record, len(raws))
	for i, raw := range raws {
		records[i] = Normalize(raw)
	}

	return records
}

// FeatureVector returns the three numeric features in canonical column
// order. ok is false when any feature is missing; such records never reach
// the scaler or the detector.
func (r *Record) FeatureVector() ([]float64, bool) {
	if r.HasMissing {
		return nil, false
	}

	return []float64{*r.MaxStress, *r.Displacement, *r.Iterations}, true
}

// parseFloat parses a numeric cell. NaN counts as missing, matching the
// null semantics of the upstream data sources.
func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}

	return &v
}

// parseCount parses the mesh element count. Counts are metadata only, so
// parsing is best-effort and unparsable input yields zero.
func parseCount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
		return int64(f)
	}

	return 0
}
