package tensor

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func sameDType(op string, a, b *Tensor) error {
	if a.dtype != b.dtype {
		return errors.Wrapf(ErrDTypeMismatch, "%s: %s and %s", op, a.dtype, b.dtype)
	}
	return nil
}

// Matmul multiplies the trailing two dimensions of a and b. Leading batch
// dimensions must match, or one operand may be a plain matrix that is
// applied to every batch of the other.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if err := sameDType("matmul", a, b); err != nil {
		return nil, err
	}
	ra, rb := len(a.shape), len(b.shape)
	if ra < 2 || rb < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul %v x %v", a.shape, b.shape)
	}
	m, k := a.shape[ra-2], a.shape[ra-1]
	k2, n := b.shape[rb-2], b.shape[rb-1]
	if k != k2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul %v x %v", a.shape, b.shape)
	}

	aBatch, bBatch := a.shape[:ra-2], b.shape[:rb-2]
	var batch []int
	switch {
	case len(aBatch) == 0:
		batch = bBatch
	case len(bBatch) == 0 || slices.Equal(aBatch, bBatch):
		batch = aBatch
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul batch %v x %v", a.shape, b.shape)
	}

	nb := 1
	for _, d := range batch {
		nb *= d
	}
	out := make([]float32, nb*m*n)
	for i := range nb {
		aOff, bOff := 0, 0
		if len(aBatch) > 0 {
			aOff = i * m * k
		}
		if len(bBatch) > 0 {
			bOff = i * k * n
		}
		gemm(m, k, n, a.data[aOff:aOff+m*k], b.data[bOff:bOff+k*n], out[i*m*n:(i+1)*m*n])
	}
	shape := append(slices.Clone(batch), m, n)
	return fromOwned(a.dtype, shape, out), nil
}

// gemm computes c = a(m×k) · b(k×n) for row-major slices.
func gemm(m, k, n int, a, b, c []float32) {
	if m == 0 || n == 0 || k == 0 {
		return
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// Mul is the elementwise product of two tensors of identical shape.
func Mul(a, b *Tensor) (*Tensor, error) {
	return zipSame("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Add is the elementwise sum of two tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	return zipSame("add", a, b, func(x, y float32) float32 { return x + y })
}

func zipSame(op string, a, b *Tensor, f func(x, y float32) float32) (*Tensor, error) {
	if err := sameDType(op, a, b); err != nil {
		return nil, err
	}
	if !slices.Equal(a.shape, b.shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s %v and %v", op, a.shape, b.shape)
	}
	out := make([]float32, len(a.data))
	for i := range out {
		out[i] = f(a.data[i], b.data[i])
	}
	return fromOwned(a.dtype, slices.Clone(a.shape), out), nil
}

// BroadcastMul multiplies with numpy broadcasting: shapes are aligned from
// the right and each pair of dims must match or contain a 1.
func BroadcastMul(a, b *Tensor) (*Tensor, error) {
	if err := sameDType("broadcast_mul", a, b); err != nil {
		return nil, err
	}
	n := max(len(a.shape), len(b.shape))
	as, bs := padLeading(a.shape, n), padLeading(b.shape, n)
	shape := make([]int, n)
	for i := range n {
		switch {
		case as[i] == bs[i], bs[i] == 1:
			shape[i] = as[i]
		case as[i] == 1:
			shape[i] = bs[i]
		default:
			return nil, errors.Wrapf(ErrShapeMismatch, "broadcast %v and %v", a.shape, b.shape)
		}
	}
	aStr, bStr := broadcastStrides(as, shape), broadcastStrides(bs, shape)

	total, _ := numElements(shape)
	out := make([]float32, total)
	idx := make([]int, n)
	for o := range out {
		ao, bo := 0, 0
		for d := range n {
			ao += idx[d] * aStr[d]
			bo += idx[d] * bStr[d]
		}
		out[o] = a.data[ao] * b.data[bo]
		for d := n - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return fromOwned(a.dtype, shape, out), nil
}

func padLeading(shape []int, n int) []int {
	out := make([]int, n-len(shape), n)
	for i := range out {
		out[i] = 1
	}
	return append(out, shape...)
}

func broadcastStrides(shape, out []int) []int {
	s := strides(shape)
	for i := range s {
		if shape[i] == 1 && out[i] != 1 {
			s[i] = 0
		}
	}
	return s
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) *Tensor {
	f := float32(s)
	out := make([]float32, len(t.data))
	for i, v := range t.data {
		out[i] = v * f
	}
	return fromOwned(t.dtype, slices.Clone(t.shape), out)
}

// Conv2D convolves an NCHW input with an OIHW kernel using stride 1 and no
// padding. The input channel counts must agree.
func Conv2D(input, kernel *Tensor) (*Tensor, error) {
	if err := sameDType("conv2d", input, kernel); err != nil {
		return nil, err
	}
	if len(input.shape) != 4 || len(kernel.shape) != 4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv2d input %v kernel %v", input.shape, kernel.shape)
	}
	batch, ch, h, w := input.shape[0], input.shape[1], input.shape[2], input.shape[3]
	outCh, kch, kh, kw := kernel.shape[0], kernel.shape[1], kernel.shape[2], kernel.shape[3]
	if ch != kch || kh > h || kw > w {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv2d input %v kernel %v", input.shape, kernel.shape)
	}
	oh, ow := h-kh+1, w-kw+1
	spatial := oh * ow
	cols := ch * kh * kw

	col := make([]float32, cols*spatial)
	out := make([]float32, batch*outCh*spatial)
	for b := range batch {
		img := input.data[b*ch*h*w : (b+1)*ch*h*w]
		for c := range ch {
			for y := range kh {
				for x := range kw {
					row := ((c*kh+y)*kw + x) * spatial
					for i := range oh {
						src := img[c*h*w+(i+y)*w+x:]
						copy(col[row+i*ow:row+(i+1)*ow], src[:ow])
					}
				}
			}
		}
		gemm(outCh, cols, spatial, kernel.data, col, out[b*outCh*spatial:(b+1)*outCh*spatial])
	}
	return fromOwned(input.dtype, []int{batch, outCh, oh, ow}, out), nil
}
