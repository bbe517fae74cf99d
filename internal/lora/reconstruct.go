package lora

import (
	"github.com/pkg/errors"

	"github.com/samcharles93/loraspect/internal/tensor"
)

// All reconstructions run in F32. Half-precision matmuls round every
// partial result and drift visibly from the trained weights.
func upcast(t *tensor.Tensor) *tensor.Tensor {
	if t == nil || t.DType() == tensor.F32 {
		return t
	}
	return t.ToDType(tensor.F32)
}

func scaleFor(alpha Alpha, rank int) (float64, error) {
	if rank <= 0 {
		return 0, backendErr("scale", errors.Wrapf(tensor.ErrInvalidShape, "rank %d", rank))
	}
	return float64(alpha) / float64(rank), nil
}

// rankOf is the leading dim of a factor that stores the rank there.
func rankOf(op string, t *tensor.Tensor) (int, error) {
	if t.Dims() == 0 {
		return 0, backendErr(op, errors.Wrap(tensor.ErrInvalidShape, "scalar factor has no rank"))
	}
	return t.Dim(0), nil
}

// reconstructLoRA rebuilds up·down·alpha/rank. Pointwise conv factors are
// squeezed to matrices; spatial conv factors are combined with a
// convolution over the permuted down projection.
func reconstructLoRA(up, down *tensor.Tensor, alpha Alpha) (*tensor.Tensor, error) {
	up, down = upcast(up), upcast(down)
	rank, err := rankOf("lora", down)
	if err != nil {
		return nil, err
	}
	scale, err := scaleFor(alpha, rank)
	if err != nil {
		return nil, err
	}

	var w *tensor.Tensor
	switch {
	case up.Dims() == 2 && down.Dims() == 2:
		w, err = tensor.Matmul(up, down)
		if err != nil {
			return nil, backendErr("matmul", err)
		}
	case down.Dims() == 4 && down.Dim(2) == 1 && down.Dim(3) == 1:
		w, err = pointwise(up, down)
		if err != nil {
			return nil, err
		}
	case down.Dims() == 4 && up.Dims() == 4:
		w, err = spatial(up, down)
		if err != nil {
			return nil, err
		}
	default:
		return nil, backendErr("lora", errors.Wrapf(tensor.ErrShapeMismatch,
			"up %v down %v", up.Shape(), down.Shape()))
	}
	return tensor.Scale(w, scale), nil
}

func pointwise(up, down *tensor.Tensor) (*tensor.Tensor, error) {
	u, err := squeezeTrailing(up)
	if err != nil {
		return nil, backendErr("squeeze", err)
	}
	d, err := squeezeTrailing(down)
	if err != nil {
		return nil, backendErr("squeeze", err)
	}
	w, err := tensor.Matmul(u, d)
	if err != nil {
		return nil, backendErr("matmul", err)
	}
	w, err = w.Reshape(w.Dim(0), w.Dim(1), 1, 1)
	if err != nil {
		return nil, backendErr("unsqueeze", err)
	}
	return w, nil
}

func squeezeTrailing(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t.Dims() == 4 {
		s, err := t.Squeeze(3)
		if err != nil {
			return nil, err
		}
		return s.Squeeze(2)
	}
	return t, nil
}

func spatial(up, down *tensor.Tensor) (*tensor.Tensor, error) {
	d, err := down.Permute(1, 0, 2, 3)
	if err != nil {
		return nil, backendErr("permute", err)
	}
	w, err := tensor.Conv2D(d, up)
	if err != nil {
		return nil, backendErr("conv2d", err)
	}
	w, err = w.Permute(1, 0, 2, 3)
	if err != nil {
		return nil, backendErr("permute", err)
	}
	return w, nil
}

// tuckerContract computes out[p,r,...] = Σ_ij core[i,j,...]·left[i,p]·right[j,r].
func tuckerContract(core, left, right *tensor.Tensor) (*tensor.Tensor, error) {
	core, left, right = upcast(core), upcast(left), upcast(right)
	if core.Dims() < 2 || left.Dims() != 2 || right.Dims() != 2 {
		return nil, backendErr("tucker", errors.Wrapf(tensor.ErrShapeMismatch,
			"core %v left %v right %v", core.Shape(), left.Shape(), right.Shape()))
	}
	shape := core.Shape()
	i, j, rest := shape[0], shape[1], shape[2:]

	c, err := core.Reshape(i, j, -1)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	c, err = c.Permute(2, 0, 1)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	lt, err := left.Transpose(0, 1)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	m, err := tensor.Matmul(lt, c)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	m, err = tensor.Matmul(m, right)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	m, err = m.Permute(1, 2, 0)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	out, err := m.Reshape(append([]int{left.Dim(1), right.Dim(1)}, rest...)...)
	if err != nil {
		return nil, backendErr("tucker", err)
	}
	return out, nil
}

type hadaFactors struct {
	W1A, W1B, W2A, W2B *tensor.Tensor
	// T1 and T2 are the optional Tucker cores.
	T1, T2 *tensor.Tensor
}

// reconstructHada rebuilds the Hadamard product of two low-rank updates.
func reconstructHada(f hadaFactors, alpha Alpha) (*tensor.Tensor, error) {
	w1a, w1b, w2a, w2b := upcast(f.W1A), upcast(f.W1B), upcast(f.W2A), upcast(f.W2B)
	rank, err := rankOf("hada", w1b)
	if err != nil {
		return nil, err
	}
	scale, err := scaleFor(alpha, rank)
	if err != nil {
		return nil, err
	}

	if f.T1 != nil && f.T2 != nil {
		r1, err := tuckerContract(f.T1, w1a, w1b)
		if err != nil {
			return nil, err
		}
		r2, err := tuckerContract(f.T2, w2a, w2b)
		if err != nil {
			return nil, err
		}
		w, err := tensor.Matmul(r1, r2)
		if err != nil {
			return nil, backendErr("matmul", err)
		}
		return tensor.Scale(w, scale), nil
	}

	one, err := lowRank(w1a, w1b)
	if err != nil {
		return nil, err
	}
	two, err := lowRank(w2a, w2b)
	if err != nil {
		return nil, err
	}
	w, err := tensor.Mul(one, two)
	if err != nil {
		return nil, backendErr("mul", err)
	}
	if w1b.Dims() > 2 {
		w, err = w.Reshape(append([]int{w.Dim(0)}, w1b.Shape()[1:]...)...)
		if err != nil {
			return nil, backendErr("reshape", err)
		}
	}
	return tensor.Scale(w, scale), nil
}

// lowRank multiplies an up-like factor (flattened keeping its last dim)
// by a down-like factor (flattened keeping its first dim).
func lowRank(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	a, err := a.FlattenKeepLast()
	if err != nil {
		return nil, backendErr("flatten", err)
	}
	b, err = b.FlattenKeepFirst()
	if err != nil {
		return nil, backendErr("flatten", err)
	}
	w, err := tensor.Matmul(a, b)
	if err != nil {
		return nil, backendErr("matmul", err)
	}
	return w, nil
}

type lokrFactors struct {
	W1, W1A, W1B *tensor.Tensor
	W2, W2A, W2B *tensor.Tensor
	T2           *tensor.Tensor
}

// factored reports whether either side of the product is stored as a
// low-rank pair and therefore needs alpha.
func (f lokrFactors) factored() bool {
	return (f.W1A != nil && f.W1B != nil) || (f.W2A != nil && f.W2B != nil)
}

// reconstructLoKr rebuilds kron(w1, w2), each side either dense or
// factored. alpha is only consulted when a side is factored.
func reconstructLoKr(f lokrFactors, alpha Alpha) (*tensor.Tensor, error) {
	var (
		w1, w2 *tensor.Tensor
		rank   int
		err    error
	)

	switch {
	case f.W1A != nil && f.W1B != nil:
		w1, err = tensor.Matmul(upcast(f.W1A), upcast(f.W1B))
		if err != nil {
			return nil, backendErr("matmul", err)
		}
		rank = f.W1B.Dim(0)
	case f.W1 != nil:
		w1 = upcast(f.W1)
	default:
		return nil, backendErr("lokr", errors.New("missing w1"))
	}

	switch {
	case f.T2 != nil && f.W2A != nil && f.W2B != nil:
		w2, err = tuckerContract(f.T2, f.W2A, f.W2B)
		if err != nil {
			return nil, err
		}
	case f.W2A != nil && f.W2B != nil:
		w2, err = rebuildLoKrW2(upcast(f.W2A), upcast(f.W2B))
		if err != nil {
			return nil, err
		}
	case f.W2 != nil:
		w2 = upcast(f.W2)
	default:
		return nil, backendErr("lokr", errors.New("missing w2"))
	}
	if rank == 0 && f.W2B != nil && f.W2A != nil {
		rank = f.W2B.Dim(0)
	}

	n := max(w1.Dims(), w2.Dims())
	if w1, err = padTrailing(w1, n); err != nil {
		return nil, backendErr("pad", err)
	}
	if w2, err = padTrailing(w2, n); err != nil {
		return nil, backendErr("pad", err)
	}
	w, err := Kron(w1, w2)
	if err != nil {
		return nil, err
	}

	scale := 1.0
	if f.factored() {
		if scale, err = scaleFor(alpha, rank); err != nil {
			return nil, err
		}
	}
	if scale != 1 {
		w = tensor.Scale(w, scale)
	}
	return w, nil
}

// rebuildLoKrW2 multiplies a (out, rank) factor by a (rank, in, ...)
// factor and restores the trailing dims of the latter.
func rebuildLoKrW2(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	flat, err := b.FlattenKeepFirst()
	if err != nil {
		return nil, backendErr("flatten", err)
	}
	w, err := tensor.Matmul(a, flat)
	if err != nil {
		return nil, backendErr("matmul", err)
	}
	w, err = w.Reshape(append([]int{a.Dim(0)}, b.Shape()[1:]...)...)
	if err != nil {
		return nil, backendErr("reshape", err)
	}
	return w, nil
}

type gloraFactors struct {
	A1, A2, B1, B2 *tensor.Tensor
}

// reconstructGLoRA computes (b2·b1 + a2·a1)·alpha/rank(b1).
func reconstructGLoRA(f gloraFactors, alpha Alpha) (*tensor.Tensor, error) {
	w1a, w1b, w2a, w2b := upcast(f.A1), upcast(f.B1), upcast(f.A2), upcast(f.B2)
	rank, err := rankOf("glora", w1b)
	if err != nil {
		return nil, err
	}
	scale, err := scaleFor(alpha, rank)
	if err != nil {
		return nil, err
	}
	out, err := rankOf("glora", w2b)
	if err != nil {
		return nil, err
	}
	outShape := []int{out}
	if w1b.Dims() > 2 {
		outShape = append(outShape, w1b.Shape()[1:]...)
	}
	for _, t := range []**tensor.Tensor{&w1a, &w1b, &w2a, &w2b} {
		ft, err := (*t).FlattenKeepFirst()
		if err != nil {
			return nil, backendErr("flatten", err)
		}
		*t = ft
	}

	b, err := tensor.Matmul(w2b, w1b)
	if err != nil {
		return nil, backendErr("matmul", err)
	}
	a, err := tensor.Matmul(w2a, w1a)
	if err != nil {
		return nil, backendErr("matmul", err)
	}
	w, err := tensor.Add(b, a)
	if err != nil {
		return nil, backendErr("add", err)
	}
	if len(outShape) > 1 {
		if w, err = w.Reshape(outShape...); err != nil {
			return nil, backendErr("reshape", err)
		}
	}
	return tensor.Scale(w, scale), nil
}
