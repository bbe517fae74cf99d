package lora

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/loraspect/internal/tensor"
)

func f32(t *testing.T, shape []int, data ...float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromFloat32(shape, data...)
	require.NoError(t, err)
	return out
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%7) - 3
	}
	return out
}

func TestReconstructLoRALinear(t *testing.T) {
	t.Parallel()
	up := f32(t, []int{2, 1}, 1, 2)
	down := f32(t, []int{1, 3}, 1, 0, -1)
	w, err := reconstructLoRA(up, down, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, w.Shape())
	assert.Equal(t, []float32{2, 0, -2, 4, 0, -4}, w.Data())
}

func TestReconstructLoRAPointwiseConv(t *testing.T) {
	t.Parallel()
	up := f32(t, []int{2, 1, 1, 1}, 1, 2)
	down := f32(t, []int{1, 3, 1, 1}, 1, 0, -1)
	w, err := reconstructLoRA(up, down, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 1}, w.Shape())
	assert.Equal(t, []float32{1, 0, -1, 2, 0, -2}, w.Data())
}

func TestReconstructLoRASpatialConv(t *testing.T) {
	t.Parallel()
	// rank 2, 2 input channels, 2x2 kernel, 3 output channels.
	down := f32(t, []int{2, 2, 2, 2}, ramp(16)...)
	up := f32(t, []int{3, 2, 1, 1}, 1, 0, 0, 1, 1, -1)
	w, err := reconstructLoRA(up, down, 2)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 2, 2}, w.Shape())

	d, u, got := down.Data(), up.Data(), w.Data()
	for o := range 3 {
		for i := range 2 {
			for k := range 4 {
				var want float32
				for r := range 2 {
					want += u[o*2+r] * d[r*8+i*4+k]
				}
				assert.InDelta(t, want, got[o*8+i*4+k], 1e-6)
			}
		}
	}
}

func TestReconstructLoRAHalfPrecisionUpcasts(t *testing.T) {
	t.Parallel()
	up := f32(t, []int{1, 1}, 3).ToDType(tensor.F16)
	down := f32(t, []int{1, 1}, 0.1).ToDType(tensor.F16)
	w, err := reconstructLoRA(up, down, 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.F32, w.DType())
}

func TestReconstructLoRARejectsMismatch(t *testing.T) {
	t.Parallel()
	_, err := reconstructLoRA(f32(t, []int{2, 2}, 1, 2, 3, 4), f32(t, []int{3, 2}, ramp(6)...), 1)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestReconstructScalarRankFactors(t *testing.T) {
	t.Parallel()
	scalar := f32(t, nil, 1)
	m := f32(t, []int{2, 2}, 1, 2, 3, 4)

	_, err := reconstructLoRA(m, scalar, 1)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)

	_, err = reconstructHada(hadaFactors{W1A: m, W1B: scalar, W2A: m, W2B: m}, 1)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)

	_, err = reconstructGLoRA(gloraFactors{A1: m, A2: m, B1: scalar, B2: m}, 1)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)

	_, err = reconstructGLoRA(gloraFactors{A1: m, A2: m, B1: m, B2: scalar}, 1)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)
}

func TestTuckerContract(t *testing.T) {
	t.Parallel()
	core := f32(t, []int{2, 3, 2}, ramp(12)...)
	left := f32(t, []int{2, 4}, ramp(8)...)
	right := f32(t, []int{3, 5}, ramp(15)...)
	out, err := tuckerContract(core, left, right)
	require.NoError(t, err)
	require.Equal(t, []int{4, 5, 2}, out.Shape())

	c, l, r, got := core.Data(), left.Data(), right.Data(), out.Data()
	for p := range 4 {
		for q := range 5 {
			for s := range 2 {
				var want float32
				for i := range 2 {
					for j := range 3 {
						want += c[i*6+j*2+s] * l[i*4+p] * r[j*5+q]
					}
				}
				assert.InDelta(t, want, got[p*10+q*2+s], 1e-4)
			}
		}
	}
}

func TestReconstructHadaLinear(t *testing.T) {
	t.Parallel()
	w, err := reconstructHada(hadaFactors{
		W1A: f32(t, []int{2, 1}, 1, 2),
		W1B: f32(t, []int{1, 2}, 1, 1),
		W2A: f32(t, []int{2, 1}, 1, 1),
		W2B: f32(t, []int{1, 2}, 3, 4),
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, w.Shape())
	assert.Equal(t, []float32{3, 4, 6, 8}, w.Data())
}

func TestReconstructHadaConvRestoresShape(t *testing.T) {
	t.Parallel()
	w, err := reconstructHada(hadaFactors{
		W1A: f32(t, []int{4, 2}, ramp(8)...),
		W1B: f32(t, []int{2, 3, 3, 3}, ramp(54)...),
		W2A: f32(t, []int{4, 2}, ramp(8)...),
		W2B: f32(t, []int{2, 3, 3, 3}, ramp(54)...),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3, 3, 3}, w.Shape())
}

func TestReconstructHadaTucker(t *testing.T) {
	t.Parallel()
	alt := make([]float32, 36)
	for i := range alt {
		alt[i] = float32(i%5 - 2)
	}
	w1a, w1b := ramp(8), ramp(10)
	w2a, w2b := alt[:8], alt[:10]
	t1, t2 := ramp(36), alt
	w, err := reconstructHada(hadaFactors{
		W1A: f32(t, []int{2, 4}, w1a...),
		W1B: f32(t, []int{2, 5}, w1b...),
		W2A: f32(t, []int{2, 4}, w2a...),
		W2B: f32(t, []int{2, 5}, w2b...),
		T1:  f32(t, []int{2, 2, 3, 3}, t1...),
		T2:  f32(t, []int{2, 2, 3, 3}, t2...),
	}, 4)
	require.NoError(t, err)
	require.Equal(t, []int{4, 5, 3, 3}, w.Shape())

	// rebuild[p,q,s,u] = sum_ij core[i,j,s,u] * a[i,p] * b[j,q]
	rebuild := func(core, a, b []float32, p, q, s, u int) float32 {
		var v float32
		for i := range 2 {
			for j := range 2 {
				v += core[i*18+j*9+s*3+u] * a[i*4+p] * b[j*5+q]
			}
		}
		return v
	}
	const scale = 4.0 / 2
	got := w.Data()
	for p := range 4 {
		for q := range 5 {
			for s := range 3 {
				for u := range 3 {
					var want float32
					for v := range 3 {
						want += rebuild(t1, w1a, w1b, p, q, s, v) * rebuild(t2, w2a, w2b, p, q, v, u)
					}
					assert.InDelta(t, want*scale, got[p*45+q*9+s*3+u], 1e-3)
				}
			}
		}
	}
}

func TestKron(t *testing.T) {
	t.Parallel()
	a := f32(t, []int{2, 2}, 1, 2, 3, 4)
	b := f32(t, []int{2, 2}, 0, 1, 1, 0)
	k, err := Kron(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, k.Shape())
	assert.Equal(t, []float32{
		0, 1, 0, 2,
		1, 0, 2, 0,
		0, 3, 0, 4,
		3, 0, 4, 0,
	}, k.Data())

	v, err := Kron(f32(t, []int{2}, 1, 2), f32(t, []int{3}, 1, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 10, 100, 2, 20, 200}, v.Data())
}

func TestKronShapeLaw(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b, want []int
	}{
		{[]int{2, 3}, []int{4, 5}, []int{8, 15}},
		{[]int{2, 3, 1, 1}, []int{4, 5, 3, 3}, []int{8, 15, 3, 3}},
		{[]int{3}, []int{2, 2}, []int{2, 6}},
	}
	for _, tt := range tests {
		a, err := tensor.Zeros(tensor.F32, tt.a...)
		require.NoError(t, err)
		b, err := tensor.Zeros(tensor.F32, tt.b...)
		require.NoError(t, err)
		k, err := Kron(a, b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, k.Shape())
	}
}

func TestReconstructLoKrDense(t *testing.T) {
	t.Parallel()
	w, err := reconstructLoKr(lokrFactors{
		W1: f32(t, []int{2, 2}, 1, 2, 3, 4),
		W2: f32(t, []int{2, 2, 1, 1}, 0, 1, 1, 0),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 1, 1}, w.Shape())
	assert.Equal(t, float32(4), w.Data()[14])
}

func TestReconstructLoKrFactoredW1(t *testing.T) {
	t.Parallel()
	w, err := reconstructLoKr(lokrFactors{
		W1A: f32(t, []int{2, 1}, 1, 1),
		W1B: f32(t, []int{1, 2}, 1, 2),
		W2:  f32(t, []int{1, 1}, 3),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 12, 6, 12}, w.Data())
}

func TestReconstructLoKrFactoredW2(t *testing.T) {
	t.Parallel()
	w, err := reconstructLoKr(lokrFactors{
		W1:  f32(t, []int{1, 1}, 2),
		W2A: f32(t, []int{2, 1}, 1, 2),
		W2B: f32(t, []int{1, 3, 1, 1}, 1, 1, 1),
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 1}, w.Shape())
	assert.Equal(t, []float32{2, 2, 2, 4, 4, 4}, w.Data())
}

func TestReconstructLoKrTuckerW2(t *testing.T) {
	t.Parallel()
	w, err := reconstructLoKr(lokrFactors{
		W1:  f32(t, []int{2, 2}, 1, 0, 0, 1),
		W2A: f32(t, []int{2, 3}, ramp(6)...),
		W2B: f32(t, []int{2, 4}, ramp(8)...),
		T2:  f32(t, []int{2, 2, 3, 3}, ramp(36)...),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 8, 3, 3}, w.Shape())
}

func TestReconstructGLoRAClosedForm(t *testing.T) {
	t.Parallel()
	w, err := reconstructGLoRA(gloraFactors{
		A1: f32(t, []int{1, 2}, 1, 0),
		A2: f32(t, []int{2, 1}, 1, 1),
		B1: f32(t, []int{1, 2}, 0, 1),
		B2: f32(t, []int{2, 1}, 2, 3),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, w.Shape())
	assert.Equal(t, []float32{2, 4, 2, 6}, w.Data())
}
