// Package isoforest implements a seeded isolation forest for unsupervised
// outlier detection on small numeric batches. Fitting and scoring are
// separate steps; a fitted Forest is an inert value with no retained
// randomness, so identical input and configuration reproduce identical
// scores bit for bit.
package isoforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrInsufficientData marks batches with too few rows to fit a forest.
var ErrInsufficientData = errors.New("at least 2 rows required to fit")

// Config controls forest construction. All fields must be set by the
// caller; Fit validates them before touching the data.
type Config struct {
	// Trees is the ensemble size.
	Trees int `json:"trees"`

	// SampleSize caps the per-tree subsample. Trees train on
	// min(SampleSize, rows) rows drawn without replacement.
	SampleSize int `json:"sample_size"`

	// Contamination is the assumed anomaly fraction in (0, 1). It fixes
	// the score cutoff at the matching quantile of the training scores.
	Contamination float64 `json:"contamination"`

	// Seed feeds the single random source used for all subsampling and
	// split decisions.
	Seed int64 `json:"seed"`
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("trees must be at least 1, got %d", c.Trees)
	}

	if c.SampleSize < 2 {
		return fmt.Errorf("sample size must be at least 2, got %d", c.SampleSize)
	}

	if c.Contamination <= 0 || c.Contamination >= 1 {
		return fmt.Errorf("contamination must be in (0, 1), got %g", c.Contamination)
	}

	return nil
}

// Forest is a fitted isolation forest.
type Forest struct {
	cfg        Config
	trees      []*node
	cols       int
	sampleSize int
	norm       float64
	offset     float64
}

// Fit builds an isolation forest over the matrix. Rows must share one
// width. Fewer than two rows yield ErrInsufficientData. After the trees
// are grown, the training rows are scored and the contamination quantile
// of those scores becomes the anomaly cutoff.
//
// All randomness flows from one source seeded with cfg.Seed and consumed
// in deterministic order, so repeated fits over the same input are
// identical.
func Fit(matrix [][]float64, cfg Config) (*Forest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if len(matrix) < 2 {
		return nil, ErrInsufficientData
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

	sampleSize := cfg.SampleSize
	if sampleSize > len(matrix) {
		sampleSize = len(matrix)
	}

	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))
	rng := rand.New(rand.NewSource(cfg.Seed))

	trees := make([]*node, cfg.Trees)
	for i := range trees {
		rows := sampleRows(rng, len(matrix), sampleSize)
		trees[i] = buildTree(matrix, rows, 0, heightLimit, rng)
	}

	f := &Forest{
		cfg:        cfg,
		trees:      trees,
		cols:       cols,
		sampleSize: sampleSize,
		norm:       avgPathLength(sampleSize),
	}

	trainScores := make([]float64, len(matrix))
	for i, row := range matrix {
		trainScores[i] = f.Score(row)
	}

	f.offset = quantile(trainScores, cfg.Contamination)

	return f, nil
}

// Score returns the anomaly score of a row in (-1, 0). Lower scores mean
// shorter average isolation paths, so more anomalous points. The row width
// must match the training matrix.
func (f *Forest) Score(row []float64) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += pathLength(t, row)
	}

	mean := sum / float64(len(f.trees))

	return -math.Exp2(-mean / f.norm)
}

// ScoreAll scores every row in input order.
func (f *Forest) ScoreAll(matrix [][]float64) ([]float64, error) {
	scores := make([]float64, len(matrix))

	for i, row := range matrix {
		if len(row) != f.cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), f.cols)
		}

		scores[i] = f.Score(row)
	}

	return scores, nil
}

// Anomalous reports whether a score falls below the fitted cutoff.
func (f *Forest) Anomalous(score float64) bool {
	return score < f.offset
}

// Predict scores a row and applies the fitted cutoff.
func (f *Forest) Predict(row []float64) bool {
	return f.Anomalous(f.Score(row))
}

// Offset returns the fitted anomaly cutoff, the contamination quantile of
// the training scores.
func (f *Forest) Offset() float64 {
	return f.offset
}

// SampleSize returns the effective per-tree subsample size.
func (f *Forest) SampleSize() int {
	return f.sampleSize
}

// quantile returns the q-quantile (q in [0, 1]) of values using linear
// interpolation between adjacent order statistics.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))

	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := rank - float64(lo)

	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
