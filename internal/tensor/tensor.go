// Package tensor is a small dense tensor used to rebuild adapter weights.
//
// A Tensor is immutable through its API: every operation allocates a new
// result. Shapes are row-major and values are stored as float32 regardless of
// the source dtype, rounded to the dtype's precision after each operation.
package tensor

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDTypeMismatch = errors.New("dtype mismatch")
	ErrInvalidShape  = errors.New("invalid shape")
)

type Tensor struct {
	shape []int
	dtype DType
	data  []float32
}

// New wraps data in a tensor of the given dtype and shape. The data slice is
// copied and rounded to the dtype.
func New(dtype DType, shape []int, data []float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, errors.Wrapf(ErrInvalidShape, "shape %v needs %d values, got %d", shape, n, len(data))
	}
	return fromOwned(dtype, slices.Clone(shape), slices.Clone(data)), nil
}

// FromFloat32 builds an F32 tensor.
func FromFloat32(shape []int, data ...float32) (*Tensor, error) {
	return New(F32, shape, data)
}

// Zeros returns a zero-filled tensor.
func Zeros(dtype DType, shape ...int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: slices.Clone(shape), dtype: dtype, data: make([]float32, n)}, nil
}

// fromOwned takes ownership of shape and data.
func fromOwned(dtype DType, shape []int, data []float32) *Tensor {
	dtype.round(data)
	return &Tensor{shape: shape, dtype: dtype, data: data}
}

func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

func (t *Tensor) Dims() int { return len(t.shape) }

// Dim returns the size of dimension i. Negative indices count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

func (t *Tensor) DType() DType { return t.dtype }

// Len is the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns a copy of the values in row-major order.
func (t *Tensor) Data() []float32 { return slices.Clone(t.data) }

// Float64s returns the values widened to float64.
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = float64(v)
	}
	return out
}

// Scalar returns the single value of a one-element tensor.
func (t *Tensor) Scalar() (float64, error) {
	if len(t.data) != 1 {
		return 0, errors.Wrapf(ErrInvalidShape, "scalar from shape %v", t.shape)
	}
	return float64(t.data[0]), nil
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), dtype: t.dtype, data: slices.Clone(t.data)}
}

// Equal reports whether both tensors have the same dtype, shape and bit-identical values.
func (t *Tensor) Equal(o *Tensor) bool {
	if t.dtype != o.dtype || !slices.Equal(t.shape, o.shape) {
		return false
	}
	for i, v := range t.data {
		if math.Float32bits(v) != math.Float32bits(o.data[i]) {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%s %v]", t.dtype, t.shape)
}

// ToDType converts the tensor, rounding values to the target precision.
func (t *Tensor) ToDType(dtype DType) *Tensor {
	if dtype == t.dtype {
		return t.Clone()
	}
	return fromOwned(dtype, slices.Clone(t.shape), slices.Clone(t.data))
}

// Reshape returns a tensor with the same values and a new shape. One
// dimension may be -1 and is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d < 0:
			return nil, errors.Wrapf(ErrInvalidShape, "reshape %v to %v", t.shape, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, errors.Wrapf(ErrInvalidShape, "reshape %v to %v", t.shape, shape)
		}
		shape[infer] = len(t.data) / known
		known *= shape[infer]
	}
	if known != len(t.data) {
		return nil, errors.Wrapf(ErrInvalidShape, "reshape %v to %v", t.shape, shape)
	}
	return &Tensor{shape: shape, dtype: t.dtype, data: slices.Clone(t.data)}, nil
}

// Squeeze removes dimension dim, which must have size 1.
func (t *Tensor) Squeeze(dim int) (*Tensor, error) {
	if dim < 0 {
		dim += len(t.shape)
	}
	if dim < 0 || dim >= len(t.shape) || t.shape[dim] != 1 {
		return nil, errors.Wrapf(ErrInvalidShape, "squeeze dim %d of %v", dim, t.shape)
	}
	return t.Reshape(slices.Delete(slices.Clone(t.shape), dim, dim+1)...)
}

// Unsqueeze inserts a size-1 dimension at dim.
func (t *Tensor) Unsqueeze(dim int) (*Tensor, error) {
	if dim < 0 {
		dim += len(t.shape) + 1
	}
	if dim < 0 || dim > len(t.shape) {
		return nil, errors.Wrapf(ErrInvalidShape, "unsqueeze dim %d of %v", dim, t.shape)
	}
	return t.Reshape(slices.Insert(slices.Clone(t.shape), dim, 1)...)
}

// FlattenKeepFirst reshapes to (dim0, rest).
func (t *Tensor) FlattenKeepFirst() (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, errors.Wrap(ErrInvalidShape, "flatten scalar")
	}
	return t.Reshape(t.shape[0], -1)
}

// FlattenKeepLast reshapes to (rest, dimN).
func (t *Tensor) FlattenKeepLast() (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, errors.Wrap(ErrInvalidShape, "flatten scalar")
	}
	return t.Reshape(-1, t.shape[len(t.shape)-1])
}

// Permute reorders dimensions so that result dim i is source dim perm[i].
func (t *Tensor) Permute(perm ...int) (*Tensor, error) {
	n := len(t.shape)
	if len(perm) != n {
		return nil, errors.Wrapf(ErrInvalidShape, "permute %v with %v", t.shape, perm)
	}
	seen := make([]bool, n)
	shape := make([]int, n)
	for i, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return nil, errors.Wrapf(ErrInvalidShape, "permute %v with %v", t.shape, perm)
		}
		seen[p] = true
		shape[i] = t.shape[p]
	}

	src := strides(t.shape)
	out := make([]float32, len(t.data))
	idx := make([]int, n)
	for o := range out {
		off := 0
		for d := range n {
			off += idx[d] * src[perm[d]]
		}
		out[o] = t.data[off]
		for d := n - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return &Tensor{shape: shape, dtype: t.dtype, data: out}, nil
}

// Transpose swaps two dimensions.
func (t *Tensor) Transpose(d0, d1 int) (*Tensor, error) {
	n := len(t.shape)
	if d0 < 0 {
		d0 += n
	}
	if d1 < 0 {
		d1 += n
	}
	if d0 < 0 || d0 >= n || d1 < 0 || d1 >= n {
		return nil, errors.Wrapf(ErrInvalidShape, "transpose %d,%d of %v", d0, d1, t.shape)
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	perm[d0], perm[d1] = d1, d0
	return t.Permute(perm...)
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errors.Wrapf(ErrInvalidShape, "negative dim in %v", shape)
		}
		n *= d
	}
	return n, nil
}
