package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMul(t *testing.T) {
	t.Run("2x3 by 3x2", func(t *testing.T) {
		a, _ := FromFloat32([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		b, _ := FromFloat32([]int{3, 2}, []float32{7, 8, 9, 10, 11, 12})

		out, err := MatMul(a, b)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, out.Shape)
		assert.Equal(t, []float32{58, 64, 139, 154}, out.Float32())
	})

	t.Run("incompatible", func(t *testing.T) {
		a, _ := Zeros([]int{2, 3}, Float32)
		b, _ := Zeros([]int{2, 3}, Float32)
		_, err := MatMul(a, b)
		assert.Error(t, err)
	})

	t.Run("int32 rejected", func(t *testing.T) {
		a, _ := Zeros([]int{2, 2}, Int32)
		_, err := MatMul(a, a)
		assert.Error(t, err)
	})
}

func TestMatMulIntoAccumulates(t *testing.T) {
	a := []float32{1, 0, 0, 1}
	b := []float32{2, 3, 4, 5}
	dst := []float32{1, 1, 1, 1}

	MatMulInto(dst, a, b, 2, 2, 2, true)
	assert.Equal(t, []float32{3, 4, 5, 6}, dst)

	MatMulInto(dst, a, b, 2, 2, 2, false)
	assert.Equal(t, []float32{2, 3, 4, 5}, dst)
}

func TestMatMulTransBMatchesExplicitTranspose(t *testing.T) {
	a, _ := FromFloat32([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b, _ := FromFloat32([]int{4, 3}, []float32{1, 0, 1, 0, 1, 0, 2, 2, 2, -1, 0, 1})

	bt, err := Transpose(b)
	require.NoError(t, err)
	want, err := MatMul(a, bt)
	require.NoError(t, err)

	got := make([]float32, 8)
	MatMulTransBInto(got, a.Float32(), b.Float32(), 2, 3, 4, false)
	assert.Equal(t, want.Float32(), got)
}

func TestTranspose(t *testing.T) {
	m, _ := FromInt32([]int{2, 3}, []int32{1, 2, 3, 4, 5, 6})
	out, err := Transpose(m)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out.Shape)
	assert.Equal(t, []int32{1, 4, 2, 5, 3, 6}, out.Int32())

	v, _ := Zeros([]int{3}, Float32)
	_, err = Transpose(v)
	assert.Error(t, err)
}
