// Package vecmath holds the small amount of linear algebra the service needs:
// L2 normalization, dot products and a numerically stable softmax.
package vecmath

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrZeroVector is returned when a vector has zero or non-finite length.
	ErrZeroVector = errors.New("vector has zero or non-finite norm")
	// ErrDimMismatch is returned when two vectors have different lengths.
	ErrDimMismatch = errors.New("vector dimension mismatch")
)

// Norm returns the Euclidean length of v. Accumulates in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Normalize returns a new vector v/‖v‖.
func Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// NormalizeRows normalizes every row of m.
func NormalizeRows(m [][]float32) ([][]float32, error) {
	out := make([][]float32, len(m))
	for i, row := range m {
		r, err := Normalize(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// Dot returns the inner product of a and b.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Logits returns scale * (q · rows[j]) for every row.
func Logits(q []float32, rows [][]float32, scale float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for j, r := range rows {
		d, err := Dot(q, r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", j, err)
		}
		out[j] = scale * d
	}
	return out, nil
}

// Softmax converts logits into probabilities. The max logit is subtracted
// before exponentiation so large scales do not overflow.
func Softmax(x []float64) []float32 {
	if len(x) == 0 {
		return []float32{}
	}
	maxv := math.Inf(-1)
	for _, v := range x {
		if v > maxv {
			maxv = v
		}
	}
	exps := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		e := math.Exp(v - maxv)
		exps[i] = e
		sum += e
	}
	out := make([]float32, len(x))
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}
