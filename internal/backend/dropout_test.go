package backend

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/driver/host"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestPrepareBernoulliDropout(t *testing.T) {
	b, _, _ := newTestBackend(t)

	const n = 20000
	const prob = 0.3
	rng := rand.New(rand.NewPCG(7, 11))

	draws := make([]float32, n)
	for i := range draws {
		draws[i] = rng.Float32()
	}
	rnd, err := tensor.FromSlice(draws, tensor.Shape{n})
	require.NoError(t, err)
	mult := f32Zeros(t, n)

	require.NoError(t, b.PrepareBernoulliDropout(mult, prob, rnd, n))
	require.NoError(t, b.Stream().Synchronize())

	scale := float32(1.0 / (1.0 - prob))
	zeros := 0
	for _, m := range mult.AsFloat32() {
		switch m {
		case 0:
			zeros++
		case scale:
		default:
			t.Fatalf("mask value %v is neither 0 nor %v", m, scale)
		}
	}
	assert.InDelta(t, prob, float64(zeros)/n, 0.01)
}

func TestPrepareBernoulliDropoutFloat64(t *testing.T) {
	// The kernel precision follows the buffers, not the backend's
	// preferred dtype.
	b, _, _ := newTestBackend(t)
	require.Equal(t, tensor.Float32, b.DType())

	rnd, err := tensor.FromSlice([]float64{0.1, 0.9, 0.4, 0.6}, tensor.Shape{4})
	require.NoError(t, err)
	mult, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float64)
	require.NoError(t, err)

	require.NoError(t, b.PrepareBernoulliDropout(mult, 0.5, rnd, 4))
	require.NoError(t, b.Stream().Synchronize())
	assert.Equal(t, []float64{0, 2, 0, 2}, mult.AsFloat64())
}

func TestPrepareBernoulliDropoutRejectsBadArgs(t *testing.T) {
	b, _, _ := newTestBackend(t)

	mult := f32Zeros(t, 4)
	rnd := f32Zeros(t, 4)
	require.Error(t, b.PrepareBernoulliDropout(nil, 0.5, rnd, 4))
	require.Error(t, b.PrepareBernoulliDropout(mult, 1.0, rnd, 4))
	require.Error(t, b.PrepareBernoulliDropout(mult, -0.1, rnd, 4))

	rnd64, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float64)
	require.NoError(t, err)
	require.Error(t, b.PrepareBernoulliDropout(mult, 0.5, rnd64, 4))
}

func TestPrepareGaussianDropout(t *testing.T) {
	b, _, _ := newTestBackend(t)

	const n = 20000
	rng := rand.New(rand.NewPCG(3, 5))

	draws := make([]float32, n)
	for i := range draws {
		draws[i] = float32(rng.NormFloat64() * 0.1)
	}
	rnd, err := tensor.FromSlice(draws, tensor.Shape{n})
	require.NoError(t, err)
	mult := f32Zeros(t, n)

	require.NoError(t, b.PrepareGaussianDropout(mult, rnd, n))
	require.NoError(t, b.Stream().Synchronize())

	values := make([]float64, n)
	for i, m := range mult.AsFloat32() {
		values[i] = float64(m)
	}
	mean, std := stat.MeanStdDev(values, nil)
	assert.InDelta(t, 1.0, mean, 0.01)
	assert.InDelta(t, 0.1, std, 0.01)
}

func TestDropoutDeviceMismatch(t *testing.T) {
	drv := host.New(2)
	b, err := Create(Config{Driver: drv, Device: drv.Devices()[0]})
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, drv.SetCurrent(drv.Devices()[1]))
	defer drv.SetCurrent(drv.Devices()[0])

	mult := f32Zeros(t, 4)
	rnd := f32Zeros(t, 4)
	var mismatch *DeviceMismatchError
	require.ErrorAs(t, b.PrepareBernoulliDropout(mult, 0.5, rnd, 4), &mismatch)
	require.ErrorAs(t, b.PrepareGaussianDropout(mult, rnd, 4), &mismatch)
}

func TestDropoutUnavailablePrecision(t *testing.T) {
	// A backend whose routine table has no Float64 entries reports
	// unavailability instead of launching; mirrors drivers without
	// double-precision kernels.
	b, _, _ := newTestBackend(t)
	delete(b.funcs, routineKey{"dropout_gaussian", tensor.Float64})

	mult, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float64)
	require.NoError(t, err)
	rnd, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float64)
	require.NoError(t, err)

	err = b.PrepareGaussianDropout(mult, rnd, 4)
	assert.ErrorIs(t, err, driver.ErrRoutineUnavailable)
}
