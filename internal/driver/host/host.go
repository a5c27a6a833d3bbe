// Package host implements a host-resident reference driver. Devices are
// virtual, streams are goroutine-backed in-order queues, and routines are Go
// functions. It backs the default backend configuration and the test suite;
// real accelerators plug in through the same driver interfaces.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// KernelFunc is the body of a host routine. It is called on the stream's
// worker goroutine with the launch's element count and argument list.
type KernelFunc func(n int, args []any) error

type routineKey struct {
	name  string
	dtype tensor.DataType
}

// Driver is a host reference driver with a configurable number of virtual
// devices.
type Driver struct {
	devices []driver.Device

	mu      sync.Mutex
	current driver.Device

	kernels map[routineKey]KernelFunc

	// Counters used by resource-leak tests.
	streamsCreated  atomic.Int64
	streamsReleased atomic.Int64
}

// New creates a host driver with the given number of virtual devices.
// The built-in dropout preparation kernels are registered for both
// precisions.
func New(deviceCount int) *Driver {
	if deviceCount < 1 {
		deviceCount = 1
	}
	d := &Driver{
		kernels: make(map[routineKey]KernelFunc),
	}
	for i := 0; i < deviceCount; i++ {
		d.devices = append(d.devices, &device{drv: d, id: i})
	}
	d.current = d.devices[0]
	registerBuiltins(d)
	return d
}

// Name identifies the driver implementation.
func (d *Driver) Name() string { return "host" }

// Devices lists the virtual devices.
func (d *Driver) Devices() []driver.Device {
	out := make([]driver.Device, len(d.devices))
	copy(out, d.devices)
	return out
}

// DefaultDevice returns device 0.
func (d *Driver) DefaultDevice() driver.Device { return d.devices[0] }

// Current returns the currently bound device.
func (d *Driver) Current() driver.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// SetCurrent binds a device owned by this driver.
func (d *Driver) SetCurrent(dev driver.Device) error {
	hd, ok := dev.(*device)
	if !ok || hd.drv != d {
		return fmt.Errorf("host: device %v does not belong to this driver", dev)
	}
	d.mu.Lock()
	d.current = dev
	d.mu.Unlock()
	return nil
}

// Register installs a host kernel under (name, dtype). Tests use it to add
// probes; the built-in dropout kernels are registered by New.
func (d *Driver) Register(name string, dtype tensor.DataType, fn KernelFunc) {
	d.mu.Lock()
	d.kernels[routineKey{name, dtype}] = fn
	d.mu.Unlock()
}

// StreamCounts reports how many streams were created and released, for
// leak accounting in tests.
func (d *Driver) StreamCounts() (created, released int64) {
	return d.streamsCreated.Load(), d.streamsReleased.Load()
}

func (d *Driver) lookup(name string, dtype tensor.DataType) (KernelFunc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn, ok := d.kernels[routineKey{name, dtype}]
	return fn, ok
}

// device is a virtual host device.
type device struct {
	drv *Driver
	id  int
}

func (dv *device) ID() int               { return dv.id }
func (dv *device) Name() string          { return fmt.Sprintf("host:%d", dv.id) }
func (dv *device) Driver() driver.Driver { return dv.drv }

func (dv *device) NewStream() (driver.Stream, error) {
	dv.drv.streamsCreated.Add(1)
	return &stream{drv: dv.drv, q: driver.NewWorkQueue()}, nil
}

func (dv *device) LoadRoutine(name string, dtype tensor.DataType) (driver.Routine, error) {
	fn, ok := dv.drv.lookup(name, dtype)
	if !ok {
		return nil, fmt.Errorf("host: %q (%s): %w", name, dtype, driver.ErrRoutineUnavailable)
	}
	return &routine{name: name, fn: fn}, nil
}

// stream is a goroutine-backed in-order execution queue.
type stream struct {
	drv *Driver
	q   *driver.WorkQueue

	releaseOnce sync.Once
	releaseErr  error
}

func (s *stream) Enqueue(fn func() error) { s.q.Enqueue(fn) }
func (s *stream) Synchronize() error      { return s.q.Synchronize() }

func (s *stream) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.q.Close()
		s.drv.streamsReleased.Add(1)
	})
	return s.releaseErr
}

// routine wraps a registered host kernel.
type routine struct {
	name string
	fn   KernelFunc
}

func (r *routine) Name() string { return r.name }

func (r *routine) Launch(s driver.Stream, n int, args ...any) error {
	if n < 0 {
		return fmt.Errorf("host: %s: negative element count %d", r.name, n)
	}
	s.Enqueue(func() error {
		return r.fn(n, args)
	})
	return nil
}
