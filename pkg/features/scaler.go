// Package features standardizes numeric feature matrices ahead of outlier
// detection. Fitting and transforming are separate steps so a fitted scaler
// can be inspected and tested as a plain value.
package features

import (
	"fmt"
	"math"
)

// Scaler holds per-column standardization parameters captured by Fit.
// Scales hold the population standard deviation per column, with 1.0
// substituted for zero-variance columns.
type Scaler struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// Fit computes per-column means and scales over the matrix. Every row must
// have the same width. Zero-variance columns get a fixed 1.0 scale so
// constant features standardize to zero instead of dividing by zero.
func Fit(matrix [][]float64) (*Scaler, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("empty feature matrix")
	}

	cols := len(matrix[0])
	if cols == 0 {
		return nil, fmt.Errorf("feature matrix has no columns")
	}

	for i, row := range matrix {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
	}

	n := float64(len(matrix))
	means := make([]float64, cols)
	scales := make([]float64, cols)

	for c := 0; c < cols; c++ {
		var sum float64
		for _, row := range matrix {
			sum += row[c]
		}

		means[c] = sum / n

		var sq float64
		for _, row := range matrix {
			d := row[c] - means[c]
			sq += d * d
		}

		scales[c] = math.Sqrt(sq / n)
		if scales[c] == 0 {
			scales[c] = 1.0
		}
	}

	return &Scaler{Means: means, Scales: scales}, nil
}

// Transform maps every value to (v - mean) / scale, returning a fresh
// matrix. The input is never mutated.
func (s *Scaler) Transform(matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))

	for i, row := range matrix {
		if len(row) != len(s.Means) {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(s.Means))
		}

		scaled := make([]float64, len(row))
		for c, v := range row {
			scaled[c] = (v - s.Means[c]) / s.Scales[c]
		}

		out[i] = scaled
	}

	return out, nil
}
