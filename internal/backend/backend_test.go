package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/dnnref"
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/driver/host"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func newTestBackend(t *testing.T) (*Backend, *host.Driver, *dnnref.Library) {
	t.Helper()
	drv := host.New(1)
	lib := dnnref.New()
	b, err := Create(Config{Driver: drv, Library: lib})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Release()) })
	return b, drv, lib
}

func TestCreateDefaults(t *testing.T) {
	drv := host.New(2)
	b, err := Create(Config{Driver: drv})
	require.NoError(t, err)
	defer b.Release()

	assert.Same(t, drv.DefaultDevice(), b.Device())
	assert.Equal(t, tensor.Float32, b.DType())
	assert.Equal(t, "dnnref", b.Library().Name())
	assert.NotNil(t, b.Stream())
	assert.Equal(t, "host", b.Driver().Name())
}

func TestCreateDefaultDriver(t *testing.T) {
	b, err := Create(Config{})
	require.NoError(t, err)

	assert.Equal(t, "host", b.Driver().Name())
	require.NoError(t, b.Release())
}

func TestCreateLoadsRoutineTable(t *testing.T) {
	b, _, _ := newTestBackend(t)

	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float64} {
		for _, name := range []string{"dropout_bernoulli", "dropout_gaussian"} {
			r, err := b.routine(name, dt)
			require.NoError(t, err)
			assert.Equal(t, name, r.Name())
		}
	}
	_, err := b.routine("no_such_routine", tensor.Float32)
	assert.ErrorIs(t, err, driver.ErrRoutineUnavailable)
}

func TestReleaseFreesOwnedResources(t *testing.T) {
	drv := host.New(1)
	lib := dnnref.New()
	b, err := Create(Config{Driver: drv, Library: lib})
	require.NoError(t, err)

	// Allocate descriptors through the factory so the backend owns them.
	_, err = b.BuildLayer(LayerSpec{
		Kind: LayerPooling,
		Name: "pool1",
		In:   &Dims{Channels: 1, Height: 4, Width: 4},
		Pooling: &PoolingConfig{
			Mode: "max", KernelH: 2, KernelW: 2, StrideH: 2, StrideW: 2,
		},
	}, 1)
	require.NoError(t, err)

	require.NoError(t, b.Release())

	created, released := lib.DescriptorCounts()
	assert.Equal(t, created, released, "descriptors leaked")
	sc, sr := drv.StreamCounts()
	assert.Equal(t, sc, sr, "streams leaked")
}

func TestReleaseTwiceIsNoOp(t *testing.T) {
	drv := host.New(1)
	lib := dnnref.New()
	b, err := Create(Config{Driver: drv, Library: lib})
	require.NoError(t, err)

	require.NoError(t, b.Release())
	require.NoError(t, b.Release())

	_, released := lib.DescriptorCounts()
	assert.Equal(t, int64(0), released)
	_, sr := drv.StreamCounts()
	assert.Equal(t, int64(1), sr)
}

func TestSuppliedStreamStaysWithCaller(t *testing.T) {
	drv := host.New(1)
	s, err := drv.DefaultDevice().NewStream()
	require.NoError(t, err)

	b, err := Create(Config{Driver: drv, Stream: s})
	require.NoError(t, err)
	assert.Same(t, s, b.Stream())
	require.NoError(t, b.Release())

	// The backend created no stream of its own and left ours alive.
	sc, sr := drv.StreamCounts()
	assert.Equal(t, int64(1), sc)
	assert.Equal(t, int64(0), sr)
	require.NoError(t, s.Release())
}

func TestCreateRegistersWithOuterTracker(t *testing.T) {
	drv := host.New(1)
	outer := NewTracker()

	b, err := Create(Config{Driver: drv, Resources: outer})
	require.NoError(t, err)
	require.Equal(t, 1, outer.Len())

	require.NoError(t, outer.Close())
	// The tracker released the backend; releasing again is a no-op.
	require.NoError(t, b.Release())
	sc, sr := drv.StreamCounts()
	assert.Equal(t, sc, sr)
}

func TestDeviceMismatchDoesNoWork(t *testing.T) {
	drv := host.New(2)
	lib := dnnref.New()
	b, err := Create(Config{Driver: drv, Device: drv.Devices()[0], Library: lib})
	require.NoError(t, err)
	defer b.Release()
	createdBefore, _ := lib.DescriptorCounts()

	require.NoError(t, drv.SetCurrent(drv.Devices()[1]))
	defer drv.SetCurrent(drv.Devices()[0])

	_, err = b.BuildLayer(LayerSpec{
		Kind: LayerLRN,
		In:   &Dims{Channels: 3, Height: 1, Width: 1},
		LRN:  &LRNConfig{Window: 3, Alpha: 1, Beta: 0.75, K: 1},
	}, 1)
	var mismatch *DeviceMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Same(t, drv.Devices()[0], mismatch.Bound)
	assert.Same(t, drv.Devices()[1], mismatch.Current)

	createdAfter, _ := lib.DescriptorCounts()
	assert.Equal(t, createdBefore, createdAfter, "mismatch call touched the library")
}

// brokenDriver exposes one device whose routine loading hard-fails, which
// is fatal to Create (unlike plain unavailability). Streams come from a
// host driver so leak counters still work.
type brokenDriver struct {
	host    *host.Driver
	dev     *brokenDevice
	current driver.Device
}

type brokenDevice struct {
	drv     *brokenDriver
	loadErr error
}

func newBrokenDriver(loadErr error) *brokenDriver {
	d := &brokenDriver{host: host.New(1)}
	d.dev = &brokenDevice{drv: d, loadErr: loadErr}
	d.current = d.dev
	return d
}

func (d *brokenDriver) Name() string                 { return "broken" }
func (d *brokenDriver) Devices() []driver.Device     { return []driver.Device{d.dev} }
func (d *brokenDriver) DefaultDevice() driver.Device { return d.dev }
func (d *brokenDriver) Current() driver.Device       { return d.current }

func (d *brokenDriver) SetCurrent(dev driver.Device) error {
	if dev != d.dev {
		return errors.New("broken: unknown device")
	}
	d.current = dev
	return nil
}

func (dv *brokenDevice) ID() int               { return 0 }
func (dv *brokenDevice) Name() string          { return "broken:0" }
func (dv *brokenDevice) Driver() driver.Driver { return dv.drv }

func (dv *brokenDevice) NewStream() (driver.Stream, error) {
	return dv.drv.host.DefaultDevice().NewStream()
}

func (dv *brokenDevice) LoadRoutine(string, tensor.DataType) (driver.Routine, error) {
	return nil, dv.loadErr
}

func TestCreateUnwindsOnLoadFailure(t *testing.T) {
	loadErr := errors.New("compile failed")
	drv := newBrokenDriver(loadErr)

	_, err := Create(Config{Driver: drv})
	require.ErrorIs(t, err, loadErr)

	// The stream created before the failure was unwound.
	sc, sr := drv.host.StreamCounts()
	assert.Equal(t, int64(1), sc)
	assert.Equal(t, sc, sr)
}
