package tensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizeBilinearHalfPixel(t *testing.T) {
	in, _ := FromFloat32([]int{1, 1, 1, 2}, []float32{0, 1})
	out, err := ResizeBilinear(in, 1, 4)
	require.NoError(t, err)

	expected := []float32{0, 0.25, 0.75, 1}
	for i, v := range out.Float32() {
		assert.InDelta(t, expected[i], v, 1e-6, "index %d", i)
	}
}

func TestResizeBilinearIdentity(t *testing.T) {
	in, _ := FromFloat32([]int{1, 1, 2, 2}, []float32{1, 2, 3, 4})
	out, err := ResizeBilinear(in, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, in.Float32(), out.Float32())
}

func TestResizeBilinearRejectsBadInput(t *testing.T) {
	labels, _ := FromInt32([]int{1, 1, 2, 2}, make([]int32, 4))
	_, err := ResizeBilinear(labels, 4, 4)
	assert.Error(t, err)

	flat, _ := FromFloat32([]int{4}, make([]float32, 4))
	_, err = ResizeBilinear(flat, 4, 4)
	assert.Error(t, err)
}

// The backward pass must be the exact adjoint of the forward resize:
// <resize(x), g> == <x, backward(g)>.
func TestResizeBilinearBackwardIsAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n, c, h, w, oh, ow = 2, 3, 4, 5, 11, 9

	x := make([]float32, n*c*h*w)
	for i := range x {
		x[i] = rng.Float32()*2 - 1
	}
	g := make([]float32, n*c*oh*ow)
	for i := range g {
		g[i] = rng.Float32()*2 - 1
	}

	xt, _ := FromFloat32([]int{n, c, h, w}, x)
	gt, _ := FromFloat32([]int{n, c, oh, ow}, g)

	y, err := ResizeBilinear(xt, oh, ow)
	require.NoError(t, err)
	gx, err := ResizeBilinearBackward(gt, h, w)
	require.NoError(t, err)

	var lhs, rhs float64
	for i, v := range y.Float32() {
		lhs += float64(v) * float64(g[i])
	}
	for i, v := range gx.Float32() {
		rhs += float64(v) * float64(x[i])
	}
	assert.InDelta(t, lhs, rhs, 1e-4)
}

func TestResizeNearestKeepsClassIds(t *testing.T) {
	in, _ := FromInt32([]int{2, 2}, []int32{0, 1, 2, 0})
	out, err := ResizeNearest(in, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, out.Shape)
	assert.Equal(t, []int32{
		0, 0, 1, 1,
		0, 0, 1, 1,
		2, 2, 0, 0,
		2, 2, 0, 0,
	}, out.Int32())

	down, err := ResizeNearest(out, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, in.Int32(), down.Int32())
}
