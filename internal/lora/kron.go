package lora

import (
	"github.com/samcharles93/loraspect/internal/tensor"
)

// Kron is the Kronecker product of two tensors of any rank. The lower-rank
// operand is padded with leading singleton dims; each output dim is the
// product of the matching input dims.
func Kron(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	n := max(a.Dims(), b.Dims())
	as, bs := leadingOnes(a.Shape(), n), leadingOnes(b.Shape(), n)

	// Interleave: a -> (a0,1,a1,1,...), b -> (1,b0,1,b1,...), multiply with
	// broadcasting to (a0,b0,a1,b1,...) and merge each pair.
	ai := make([]int, 0, 2*n)
	bi := make([]int, 0, 2*n)
	out := make([]int, n)
	for i := range n {
		ai = append(ai, as[i], 1)
		bi = append(bi, 1, bs[i])
		out[i] = as[i] * bs[i]
	}
	ar, err := a.Reshape(ai...)
	if err != nil {
		return nil, backendErr("kron", err)
	}
	br, err := b.Reshape(bi...)
	if err != nil {
		return nil, backendErr("kron", err)
	}
	prod, err := tensor.BroadcastMul(ar, br)
	if err != nil {
		return nil, backendErr("kron", err)
	}
	res, err := prod.Reshape(out...)
	if err != nil {
		return nil, backendErr("kron", err)
	}
	return res, nil
}

func leadingOnes(shape []int, n int) []int {
	out := make([]int, 0, n)
	for range n - len(shape) {
		out = append(out, 1)
	}
	return append(out, shape...)
}

// padTrailing appends singleton dims until t has rank n.
func padTrailing(t *tensor.Tensor, n int) (*tensor.Tensor, error) {
	shape := t.Shape()
	for len(shape) < n {
		shape = append(shape, 1)
	}
	return t.Reshape(shape...)
}
