package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit_MeansAndScales(t *testing.T) {
	matrix := [][]float64{
		{1, 10},
		{2, 20},
		{3, 30},
		{4, 40},
	}

	scaler, err := Fit(matrix)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, scaler.Means[0], 1e-12)
	assert.InDelta(t, 25.0, scaler.Means[1], 1e-12)

	// Population standard deviation of {1,2,3,4} around 2.5.
	assert.InDelta(t, math.Sqrt(1.25), scaler.Scales[0], 1e-12)
	assert.InDelta(t, math.Sqrt(125), scaler.Scales[1], 1e-12)
}

func TestTransform_StandardizesColumns(t *testing.T) {
	matrix := [][]float64{
		{320, 1.2, 18},
		{890, 5.6, 22},
		{100, 0.9, 45},
		{310, 12.5, 9},
	}

	scaler, err := Fit(matrix)
	require.NoError(t, err)

	scaled, err := scaler.Transform(matrix)
	require.NoError(t, err)
	require.Len(t, scaled, len(matrix))

	// Each column of the transformed training matrix has mean 0 and unit
	// population standard deviation.
	for c := 0; c < 3; c++ {
		var sum float64
		for _, row := range scaled {
			sum += row[c]
		}

		mean := sum / float64(len(scaled))
		assert.InDelta(t, 0, mean, 1e-12, "column %d mean", c)

		var sq float64
		for _, row := range scaled {
			d := row[c] - mean
			sq += d * d
		}

		std := math.Sqrt(sq / float64(len(scaled)))
		assert.InDelta(t, 1, std, 1e-12, "column %d std", c)
	}
}

func TestTransform_ZeroVarianceColumn(t *testing.T) {
	matrix := [][]float64{
		{5, 1},
		{5, 2},
		{5, 3},
	}

	scaler, err := Fit(matrix)
	require.NoError(t, err)
	assert.Equal(t, 1.0, scaler.Scales[0])

	scaled, err := scaler.Transform(matrix)
	require.NoError(t, err)

	// The constant column standardizes to all zeros.
	for i, row := range scaled {
		assert.Zero(t, row[0], "row %d", i)
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	matrix := [][]float64{
		{1, 2},
		{3, 4},
	}

	scaler, err := Fit(matrix)
	require.NoError(t, err)

	_, err = scaler.Transform(matrix)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, matrix)
}

func TestFit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		matrix [][]float64
	}{
		{name: "empty matrix", matrix: nil},
		{name: "no columns", matrix: [][]float64{{}}},
		{name: "ragged rows", matrix: [][]float64{{1, 2}, {3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.matrix)
			require.Error(t, err)
		})
	}
}

func TestTransform_WidthMismatch(t *testing.T) {
	scaler, err := Fit([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	_, err = scaler.Transform([][]float64{{1, 2, 3}})
	require.Error(t, err)
}
