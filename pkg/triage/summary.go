package triage

import (
	"math"
	"sort"

	"github.com/solverops/simtriage/pkg/record"
)

// FeatureStats are descriptive statistics over the non-missing values of
// one feature column. Std is the sample standard deviation and zero when
// fewer than two values exist.
type FeatureStats struct {
	Feature string  `json:"feature"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	P25     float64 `json:"p25"`
	P50     float64 `json:"p50"`
	P75     float64 `json:"p75"`
	Max     float64 `json:"max"`
}

// featureAccessors maps record.FeatureNames positions to record fields.
var featureAccessors = []func(*record.Record) *float64{
	func(r *record.Record) *float64 { return r.MaxStress },
	func(r *record.Record) *float64 { return r.Displacement },
	func(r *record.Record) *float64 { return r.Iterations },
}

// describeFeatures summarizes each feature column independently over the
// records where that column is present. A record missing one field still
// contributes its other fields.
func describeFeatures(records []record.Record) []FeatureStats {
	stats := make([]FeatureStats, len(record.FeatureNames))

	for fi, name := range record.FeatureNames {
		values := make([]float64, 0, len(records))

		for i := range records {
			if v := featureAccessors[fi](&records[i]); v != nil {
				values = append(values, *v)
			}
		}

		stats[fi] = describe(name, values)
	}

	return stats
}

// describe computes the statistics block for one column.
func describe(name string, values []float64) FeatureStats {
	st := FeatureStats{Feature: name, Count: len(values)}
	if len(values) == 0 {
		return st
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	st.Mean = sum / float64(len(values))

	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			d := v - st.Mean
			sq += d * d
		}

		st.Std = math.Sqrt(sq / float64(len(values)-1))
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]
	st.P25 = sortedQuantile(sorted, 0.25)
	st.P50 = sortedQuantile(sorted, 0.5)
	st.P75 = sortedQuantile(sorted, 0.75)

	return st
}

// sortedQuantile interpolates linearly between adjacent order statistics
// of an already sorted slice.
func sortedQuantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))

	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	return sorted[lo] + (rank-float64(lo))*(sorted[lo+1]-sorted[lo])
}
