package dnnref

import (
	"math"
	"testing"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivationForward(t *testing.T) {
	lib := New()
	s := newStream(t)

	xd, err := lib.NewTensorDesc(tensor.Float64, 1, 1, 1, 4)
	require.NoError(t, err)
	x, err := tensor.FromSlice([]float64{-2, -0.5, 0.5, 2}, tensor.Shape{1, 1, 1, 4})
	require.NoError(t, err)

	tests := []struct {
		mode dnn.ActivationMode
		want func(v float64) float64
	}{
		{dnn.ActReLU, func(v float64) float64 { return math.Max(v, 0) }},
		{dnn.ActSigmoid, func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }},
		{dnn.ActTanh, math.Tanh},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			ad, err := lib.NewActivationDesc(tt.mode)
			require.NoError(t, err)
			y, err := tensor.NewRaw(tensor.Shape{1, 1, 1, 4}, tensor.Float64)
			require.NoError(t, err)

			require.Equal(t, dnn.StatusSuccess, lib.ActivationForward(s, ad, 1, xd, x, 0, xd, y))
			require.NoError(t, s.Synchronize())

			for i, v := range x.AsFloat64() {
				assert.InDelta(t, tt.want(v), y.AsFloat64()[i], 1e-12)
			}
		})
	}
}

func TestSigmoidBackward(t *testing.T) {
	lib := New()
	s := newStream(t)

	xd, err := lib.NewTensorDesc(tensor.Float64, 1, 1, 1, 3)
	require.NoError(t, err)
	ad, err := lib.NewActivationDesc(dnn.ActSigmoid)
	require.NoError(t, err)

	shape := tensor.Shape{1, 1, 1, 3}
	y, err := tensor.FromSlice([]float64{0.25, 0.5, 0.9}, shape)
	require.NoError(t, err)
	dy, err := tensor.FromSlice([]float64{1, 2, -1}, shape)
	require.NoError(t, err)
	x, err := tensor.NewRaw(shape, tensor.Float64)
	require.NoError(t, err)
	dx, err := tensor.NewRaw(shape, tensor.Float64)
	require.NoError(t, err)

	require.Equal(t, dnn.StatusSuccess,
		lib.ActivationBackward(s, ad, 1, xd, y, xd, dy, xd, x, 0, xd, dx))
	require.NoError(t, s.Synchronize())

	got := dx.AsFloat64()
	assert.InDelta(t, 1*0.25*0.75, got[0], 1e-12)
	assert.InDelta(t, 2*0.5*0.5, got[1], 1e-12)
	assert.InDelta(t, -1*0.9*0.1, got[2], 1e-12)
}

func TestSoftmaxForwardBackward(t *testing.T) {
	lib := New()
	s := newStream(t)

	const C = 4
	shape := tensor.Shape{2, C, 1, 1}
	xd, err := lib.NewTensorDesc(tensor.Float64, 2, C, 1, 1)
	require.NoError(t, err)

	x, err := tensor.FromSlice([]float64{1, 2, 3, 4, -1, 0, 1, 2}, shape)
	require.NoError(t, err)
	y, err := tensor.NewRaw(shape, tensor.Float64)
	require.NoError(t, err)

	require.Equal(t, dnn.StatusSuccess, lib.SoftmaxForward(s, 1, xd, x, 0, xd, y))
	require.NoError(t, s.Synchronize())

	got := y.AsFloat64()
	for n := 0; n < 2; n++ {
		var sum float64
		for c := 0; c < C; c++ {
			v := got[n*C+c]
			assert.Greater(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	// Softmax is shift-invariant: both samples differ by a constant shift.
	for c := 0; c < C; c++ {
		assert.InDelta(t, got[c], got[C+c], 1e-12)
	}

	// A uniform upstream gradient produces a zero input gradient.
	dy, err := tensor.FromSlice([]float64{1, 1, 1, 1, 1, 1, 1, 1}, shape)
	require.NoError(t, err)
	dx, err := tensor.NewRaw(shape, tensor.Float64)
	require.NoError(t, err)
	require.Equal(t, dnn.StatusSuccess, lib.SoftmaxBackward(s, 1, xd, y, xd, dy, 0, xd, dx))
	require.NoError(t, s.Synchronize())
	for _, v := range dx.AsFloat64() {
		assert.InDelta(t, 0.0, v, 1e-12)
	}
}
