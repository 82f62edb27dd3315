package isoforest

import (
	"math"
	"math/rand"
)

// eulerGamma is the Euler-Mascheroni constant used in the harmonic number
// approximation of average path lengths.
const eulerGamma = 0.57721566490153286

// node is one isolation tree node. Leaves carry feature == -1 and the
// number of training samples that reached them, which feeds the path
// length adjustment during scoring.
type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	size    int
}

// buildTree grows an isolation tree over the given row indices. Splits pick
// a uniform random feature among those with spread, then a uniform random
// split point within that feature's range. Growth stops at the height
// limit, at single-sample nodes, or when every feature is constant.
func buildTree(matrix [][]float64, rows []int, depth, heightLimit int, rng *rand.Rand) *node {
	if depth >= heightLimit || len(rows) <= 1 {
		return &node{feature: -1, size: len(rows)}
	}

	cols := len(matrix[0])
	lows := make([]float64, cols)
	highs := make([]float64, cols)

	for c := 0; c < cols; c++ {
		lows[c] = matrix[rows[0]][c]
		highs[c] = lows[c]
	}

	for _, r := range rows[1:] {
		for c := 0; c < cols; c++ {
			v := matrix[r][c]
			if v < lows[c] {
				lows[c] = v
			}

			if v > highs[c] {
				highs[c] = v
			}
		}
	}

	candidates := make([]int, 0, cols)
	for c := 0; c < cols; c++ {
		if highs[c] > lows[c] {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return &node{feature: -1, size: len(rows)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := lows[feature] + rng.Float64()*(highs[feature]-lows[feature])

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))

	for _, r := range rows {
		if matrix[r][feature] <= split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    buildTree(matrix, left, depth+1, heightLimit, rng),
		right:   buildTree(matrix, right, depth+1, heightLimit, rng),
		size:    len(rows),
	}
}

// pathLength walks a row down one tree and returns the edge count plus the
// average path length adjustment for the leaf's sample count.
func pathLength(root *node, row []float64) float64 {
	depth := 0.0

	n := root
	for n.feature >= 0 {
		if row[n.feature] <= n.split {
			n = n.left
		} else {
			n = n.right
		}

		depth++
	}

	return depth + avgPathLength(n.size)
}

// avgPathLength is the expected unsuccessful-search path length of a binary
// search tree over n samples: c(1) = 0, c(2) = 1, otherwise
// 2*H(n-1) - 2*(n-1)/n with the harmonic number approximated as ln(i) + γ.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		nf := float64(n)

		return 2*(math.Log(nf-1)+eulerGamma) - 2*(nf-1)/nf
	}
}

// sampleRows draws k distinct row indices from [0, n) via a partial
// Fisher-Yates shuffle, consuming the source deterministically.
func sampleRows(rng *rand.Rand, n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	return idx[:k]
}
