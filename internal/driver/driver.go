// Package driver defines the device, stream, and kernel primitives the kiln
// backend consumes. The backend never talks to a GPU API directly; it goes
// through these interfaces so that real drivers (WebGPU, CUDA) and the host
// reference driver are interchangeable.
package driver

import (
	"errors"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// ErrRoutineUnavailable is returned by Device.LoadRoutine when a driver has
// no precompiled routine for the requested (name, precision) pair.
var ErrRoutineUnavailable = errors.New("driver: routine unavailable")

// Driver enumerates and selects compute devices. The "current" device is
// ambient driver state, mirroring how native GPU APIs bind a device to the
// calling thread; callers switch it with SetCurrent or the WithDevice helper.
type Driver interface {
	// Name identifies the driver implementation (e.g. "host", "webgpu").
	Name() string

	// Devices lists all devices this driver can address.
	Devices() []Device

	// DefaultDevice returns the device used when a caller does not pick one.
	DefaultDevice() Device

	// Current returns the currently bound device.
	Current() Device

	// SetCurrent binds a device. The device must belong to this driver.
	SetCurrent(d Device) error
}

// Device identifies a single compute device.
type Device interface {
	// ID is the device ordinal within its driver.
	ID() int

	// Name is a human-readable device name.
	Name() string

	// Driver returns the driver that owns this device.
	Driver() Driver

	// NewStream creates a new execution stream on this device.
	NewStream() (Stream, error)

	// LoadRoutine resolves a precompiled routine by name and precision.
	// Returns ErrRoutineUnavailable if the driver has no such routine.
	LoadRoutine(name string, dtype tensor.DataType) (Routine, error)
}

// Stream is an ordered, asynchronous execution queue on a device.
// Work enqueued on one stream executes in issue order; work on different
// streams has no implied ordering. Enqueue never blocks on the work itself.
// Execution errors are sticky: once any enqueued item fails, Synchronize
// and Release report the first failure.
type Stream interface {
	// Enqueue schedules fn to run after all previously enqueued work.
	Enqueue(fn func() error)

	// Synchronize blocks until all enqueued work has completed. After
	// Release it returns the sticky error without blocking.
	Synchronize() error

	// Release drains the stream and frees it. Enqueue after Release is a
	// programming error and panics.
	Release() error
}

// Routine is a precompiled device kernel launched over a 1-D grid.
// The argument convention is routine-specific; buffer arguments are passed
// as *tensor.RawTensor and scalar arguments as float64.
type Routine interface {
	// Name returns the routine name it was loaded under.
	Name() string

	// Launch enqueues the kernel over n elements on the given stream and
	// returns once the work is queued. A non-nil error means the launch
	// itself failed and no work was enqueued.
	Launch(s Stream, n int, args ...any) error
}

// WithDevice runs fn with d bound as the current device, restoring the
// previously bound device afterwards.
func WithDevice(d Device, fn func() error) error {
	drv := d.Driver()
	prev := drv.Current()
	if err := drv.SetCurrent(d); err != nil {
		return err
	}
	defer func() {
		if prev != nil {
			// Best effort: prev is known-good for this driver.
			_ = drv.SetCurrent(prev)
		}
	}()
	return fn()
}
