package tensor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustF32(t *testing.T, shape []int, data ...float32) *Tensor {
	t.Helper()
	out, err := FromFloat32(shape, data...)
	require.NoError(t, err)
	return out
}

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func TestParseDType(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"F16", "BF16", "F32", "F64", "I64", "U8"} {
		dt, err := ParseDType(name)
		require.NoError(t, err)
		assert.Equal(t, name, dt.String())
	}
	_, err := ParseDType("F8_E5M2")
	assert.True(t, errors.Is(err, ErrUnsupportedDType))

	assert.Equal(t, "fp16", F16.Precision())
	assert.Equal(t, "bf16", BF16.Precision())
	assert.Equal(t, "i64", I64.Precision())
}

func TestNewValidatesLength(t *testing.T) {
	t.Parallel()
	_, err := FromFloat32([]int{2, 2}, 1, 2, 3)
	assert.True(t, errors.Is(err, ErrInvalidShape))

	s := mustF32(t, []int{}, 5)
	v, err := s.Scalar()
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestHalfPrecisionRounding(t *testing.T) {
	t.Parallel()
	a, err := New(F16, []int{1}, []float32{1.0001})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, a.Data())

	up := a.ToDType(F32)
	assert.Equal(t, F32, up.DType())
	assert.Equal(t, []float32{1}, up.Data())
}

func TestReshapeInfer(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 3, 4}, seq(24)...)
	r, err := a.Reshape(2, -1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, r.Shape())

	_, err = a.Reshape(5, -1)
	assert.Error(t, err)

	kf, err := a.FlattenKeepFirst()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, kf.Shape())
	kl, err := a.FlattenKeepLast()
	require.NoError(t, err)
	assert.Equal(t, []int{6, 4}, kl.Shape())
}

func TestSqueezeUnsqueeze(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{3, 2, 1, 1}, seq(6)...)
	s, err := a.Squeeze(3)
	require.NoError(t, err)
	s, err = s.Squeeze(2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, s.Shape())

	_, err = s.Squeeze(0)
	assert.Error(t, err)

	u, err := s.Unsqueeze(-1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, u.Shape())
}

func TestPermute(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 3}, 1, 2, 3, 4, 5, 6)
	tr, err := a.Transpose(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, tr.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, tr.Data())

	b := mustF32(t, []int{2, 1, 3}, seq(6)...)
	p, err := b.Permute(2, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, p.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, p.Data())

	_, err = b.Permute(0, 0, 1)
	assert.Error(t, err)
}

func TestMatmul(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 3}, 1, 2, 3, 4, 5, 6)
	b := mustF32(t, []int{3, 2}, 7, 8, 9, 10, 11, 12)
	c, err := Matmul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, c.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, c.Data())

	_, err = Matmul(a, a)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestMatmulBatched(t *testing.T) {
	t.Parallel()
	// Two batches of 2x2 identity-scaled matrices.
	a := mustF32(t, []int{2, 2, 2}, 1, 0, 0, 1, 2, 0, 0, 2)
	b := mustF32(t, []int{2, 2, 2}, 1, 2, 3, 4, 1, 2, 3, 4)
	c, err := Matmul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, c.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 2, 4, 6, 8}, c.Data())

	m := mustF32(t, []int{2, 2}, 0, 1, 1, 0)
	d, err := Matmul(b, m)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1, 4, 3, 2, 1, 4, 3}, d.Data())

	_, err = Matmul(a, mustF32(t, []int{3, 2, 2}, seq(12)...))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestMatmulDTypeMismatch(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{1, 1}, 1)
	b := a.ToDType(F16)
	_, err := Matmul(a, b)
	assert.True(t, errors.Is(err, ErrDTypeMismatch))
}

func TestElementwise(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 2}, 1, -2, 3, -4)
	b := mustF32(t, []int{2, 2}, 2, 2, 2, 2)

	m, err := Mul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, -4, 6, -8}, m.Data())

	s, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 5, -2}, s.Data())

	assert.Equal(t, []float32{0.5, -1, 1.5, -2}, Scale(a, 0.5).Data())

	_, err = Add(a, mustF32(t, []int{4}, 1, 2, 3, 4))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestBroadcastMul(t *testing.T) {
	t.Parallel()
	col := mustF32(t, []int{2, 1}, 1, 2)
	row := mustF32(t, []int{1, 3}, 1, 10, 100)
	out, err := BroadcastMul(col, row)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out.Shape())
	assert.Equal(t, []float32{1, 10, 100, 2, 20, 200}, out.Data())

	vec := mustF32(t, []int{3}, 2, 3, 4)
	out, err = BroadcastMul(mustF32(t, []int{2, 3}, seq(6)...), vec)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 6, 12, 8, 15, 24}, out.Data())

	_, err = BroadcastMul(mustF32(t, []int{2}, 1, 2), vec)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestConv2D(t *testing.T) {
	t.Parallel()
	// Single 3x3 image, 2x2 kernel of ones sums each window.
	input := mustF32(t, []int{1, 1, 3, 3}, seq(9)...)
	kernel := mustF32(t, []int{1, 1, 2, 2}, 1, 1, 1, 1)
	out, err := Conv2D(input, kernel)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{12, 16, 24, 28}, out.Data())

	// A 1x1 kernel is a channel mix.
	in2 := mustF32(t, []int{1, 2, 1, 2}, 1, 2, 3, 4)
	k2 := mustF32(t, []int{1, 2, 1, 1}, 10, 1)
	out, err = Conv2D(in2, k2)
	require.NoError(t, err)
	assert.Equal(t, []float32{13, 24}, out.Data())

	_, err = Conv2D(in2, mustF32(t, []int{1, 3, 1, 1}, 1, 1, 1))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestEqual(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2}, 1, 2)
	assert.True(t, a.Equal(a.Clone()))
	r, err := a.Reshape(1, 2)
	require.NoError(t, err)
	assert.False(t, a.Equal(r))
}
