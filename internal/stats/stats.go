// Package stats reduces reconstructed weights to norms and summary
// statistics. All reductions run in float64.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/samcharles93/loraspect/internal/tensor"
)

// L1 is the sum of absolute values.
func L1(t *tensor.Tensor) float64 {
	return floats.Norm(t.Float64s(), 1)
}

// L2 is the square root of the sum of squares.
func L2(t *tensor.Tensor) float64 {
	return floats.Norm(t.Float64s(), 2)
}

// MatrixNorm is the Frobenius norm; on a flattened tensor it equals L2.
func MatrixNorm(t *tensor.Tensor) float64 {
	return L2(t)
}

func Max(t *tensor.Tensor) float64 {
	v := t.Float64s()
	if len(v) == 0 {
		return math.NaN()
	}
	return floats.Max(v)
}

func Min(t *tensor.Tensor) float64 {
	v := t.Float64s()
	if len(v) == 0 {
		return math.NaN()
	}
	return floats.Min(v)
}

func Mean(t *tensor.Tensor) float64 {
	return stat.Mean(t.Float64s(), nil)
}

// Variance is the population variance.
func Variance(t *tensor.Tensor) float64 {
	_, v := stat.PopMeanVariance(t.Float64s(), nil)
	return v
}

// StdDev is the population standard deviation.
func StdDev(t *tensor.Tensor) float64 {
	return math.Sqrt(Variance(t))
}

// Median averages the two middle values for even counts.
func Median(t *tensor.Tensor) float64 {
	v := t.Float64s()
	if len(v) == 0 {
		return math.NaN()
	}
	slices.Sort(v)
	mid := len(v) / 2
	if len(v)%2 == 0 {
		return (v[mid-1] + v[mid]) / 2
	}
	return v[mid]
}

// Skewness is the sample skewness.
func Skewness(t *tensor.Tensor) float64 {
	return stat.Skew(t.Float64s(), nil)
}

// Sparsity is the fraction of exactly-zero elements.
func Sparsity(t *tensor.Tensor) float64 {
	v := t.Float64s()
	if len(v) == 0 {
		return 0
	}
	zeros := 0
	for _, x := range v {
		if x == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(v))
}

// Spectral approximates the spectral norm by the largest element.
func Spectral(t *tensor.Tensor) float64 {
	return Max(t)
}

// WeightStatistics summarises one reconstructed weight.
type WeightStatistics struct {
	Shape    []int   `json:"shape"`
	L1       float64 `json:"l1_norm"`
	L2       float64 `json:"l2_norm"`
	Matrix   float64 `json:"matrix_norm"`
	Max      float64 `json:"max"`
	Min      float64 `json:"min"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
	Skewness float64 `json:"skewness"`
	Sparsity float64 `json:"sparsity"`
}

// Summarize computes every statistic of t.
func Summarize(t *tensor.Tensor) WeightStatistics {
	return WeightStatistics{
		Shape:    t.Shape(),
		L1:       L1(t),
		L2:       L2(t),
		Matrix:   MatrixNorm(t),
		Max:      Max(t),
		Min:      Min(t),
		Mean:     Mean(t),
		Median:   Median(t),
		StdDev:   StdDev(t),
		Variance: Variance(t),
		Skewness: Skewness(t),
		Sparsity: Sparsity(t),
	}
}
