package dnnref

import (
	"testing"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/driver/host"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStream(t *testing.T) driver.Stream {
	t.Helper()
	s, err := host.New(1).DefaultDevice().NewStream()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Release() })
	return s
}

// input4x4 is the stock 4x4 plane used across the pooling tests.
var input4x4 = []float32{
	1, 2, 3, 4,
	5, 6, 7, 8,
	9, 10, 11, 12,
	13, 14, 15, 16,
}

func TestPoolingOutputDims(t *testing.T) {
	lib := New()

	xd, err := lib.NewTensorDesc(tensor.Float32, 2, 3, 8, 8)
	require.NoError(t, err)
	pd, err := lib.NewPoolingDesc(dnn.PoolMax, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)

	n, c, h, w, err := lib.PoolingOutputDims(pd, xd)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 4}, []int{n, c, h, w})

	// Padding enlarges the output per the cudnn formula.
	pd2, err := lib.NewPoolingDesc(dnn.PoolMax, 3, 3, 1, 1, 2, 2)
	require.NoError(t, err)
	_, _, h, w, err = lib.PoolingOutputDims(pd2, xd)
	require.NoError(t, err)
	assert.Equal(t, 4, h)
	assert.Equal(t, 4, w)
}

func TestMaxPoolForward(t *testing.T) {
	lib := New()
	s := newStream(t)

	xd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 4, 4)
	require.NoError(t, err)
	yd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 2, 2)
	require.NoError(t, err)
	pd, err := lib.NewPoolingDesc(dnn.PoolMax, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)

	x, err := tensor.FromSlice(input4x4, tensor.Shape{1, 1, 4, 4})
	require.NoError(t, err)
	y, err := tensor.NewRaw(tensor.Shape{1, 1, 2, 2}, tensor.Float32)
	require.NoError(t, err)

	status := lib.PoolingForward(s, pd, 1, xd, x, 0, yd, y)
	require.Equal(t, dnn.StatusSuccess, status)
	require.NoError(t, s.Synchronize())

	assert.Equal(t, []float32{6, 8, 14, 16}, y.AsFloat32())
}

func TestMaxPoolBackwardRoutesToArgmax(t *testing.T) {
	lib := New()
	s := newStream(t)

	xd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 4, 4)
	require.NoError(t, err)
	yd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 2, 2)
	require.NoError(t, err)
	pd, err := lib.NewPoolingDesc(dnn.PoolMax, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)

	x, err := tensor.FromSlice(input4x4, tensor.Shape{1, 1, 4, 4})
	require.NoError(t, err)
	y, err := tensor.FromSlice([]float32{6, 8, 14, 16}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)
	dy, err := tensor.FromSlice([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)
	dx, err := tensor.NewRaw(tensor.Shape{1, 1, 4, 4}, tensor.Float32)
	require.NoError(t, err)

	status := lib.PoolingBackward(s, pd, 1, yd, y, yd, dy, xd, x, 0, xd, dx)
	require.Equal(t, dnn.StatusSuccess, status)
	require.NoError(t, s.Synchronize())

	// Gradient lands only on the argmax of each 2x2 window.
	want := []float32{
		0, 0, 0, 0,
		0, 1, 0, 1,
		0, 0, 0, 0,
		0, 1, 0, 1,
	}
	assert.Equal(t, want, dx.AsFloat32())
}

func TestAvgPoolPaddingModes(t *testing.T) {
	lib := New()
	s := newStream(t)

	// 2x2 input, 2x2 window, pad 1, stride 2: corner windows see one real
	// value and three padding positions.
	xd, err := lib.NewTensorDesc(tensor.Float64, 1, 1, 2, 2)
	require.NoError(t, err)
	yd, err := lib.NewTensorDesc(tensor.Float64, 1, 1, 2, 2)
	require.NoError(t, err)

	x, err := tensor.FromSlice([]float64{4, 8, 12, 16}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)
	y, err := tensor.NewRaw(tensor.Shape{1, 1, 2, 2}, tensor.Float64)
	require.NoError(t, err)

	include, err := lib.NewPoolingDesc(dnn.PoolAvgIncludePad, 2, 2, 1, 1, 2, 2)
	require.NoError(t, err)
	require.Equal(t, dnn.StatusSuccess, lib.PoolingForward(s, include, 1, xd, x, 0, yd, y))
	require.NoError(t, s.Synchronize())
	assert.Equal(t, []float64{1, 2, 3, 4}, y.AsFloat64())

	exclude, err := lib.NewPoolingDesc(dnn.PoolAvgExcludePad, 2, 2, 1, 1, 2, 2)
	require.NoError(t, err)
	require.Equal(t, dnn.StatusSuccess, lib.PoolingForward(s, exclude, 1, xd, x, 0, yd, y))
	require.NoError(t, s.Synchronize())
	assert.Equal(t, []float64{4, 8, 12, 16}, y.AsFloat64())
}

func TestPoolingForwardBadParam(t *testing.T) {
	lib := New()
	s := newStream(t)

	xd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 4, 4)
	require.NoError(t, err)
	pd, err := lib.NewPoolingDesc(dnn.PoolMax, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)

	x, err := tensor.NewRaw(tensor.Shape{1, 1, 4, 4}, tensor.Float32)
	require.NoError(t, err)

	// Output descriptor disagrees with the inferred output shape.
	badYD, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 3, 3)
	require.NoError(t, err)
	badY, err := tensor.NewRaw(tensor.Shape{1, 1, 3, 3}, tensor.Float32)
	require.NoError(t, err)
	assert.Equal(t, dnn.StatusBadParam, lib.PoolingForward(s, pd, 1, xd, x, 0, badYD, badY))

	// Buffer precision disagrees with its descriptor.
	yd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 2, 2)
	require.NoError(t, err)
	wrong, err := tensor.NewRaw(tensor.Shape{1, 1, 2, 2}, tensor.Float64)
	require.NoError(t, err)
	assert.Equal(t, dnn.StatusBadParam, lib.PoolingForward(s, pd, 1, xd, x, 0, yd, wrong))
}

func TestDescriptorCounts(t *testing.T) {
	lib := New()

	xd, err := lib.NewTensorDesc(tensor.Float32, 1, 1, 4, 4)
	require.NoError(t, err)
	pd, err := lib.NewPoolingDesc(dnn.PoolMax, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)

	created, released := lib.DescriptorCounts()
	assert.Equal(t, int64(2), created)
	assert.Equal(t, int64(0), released)

	require.NoError(t, xd.Release())
	require.NoError(t, pd.Release())
	created, released = lib.DescriptorCounts()
	assert.Equal(t, created, released)

	// Double release is reported, not silently absorbed.
	assert.Error(t, xd.Release())
}
