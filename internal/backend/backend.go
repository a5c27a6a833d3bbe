package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/dnnref"
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/driver/host"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Routine names the backend loads into its precompiled routine table at
// creation time, one entry per available precision.
var routineNames = []string{
	"dropout_bernoulli",
	"dropout_gaussian",
}

// routineKey indexes the precompiled routine table by operation name and
// buffer precision.
type routineKey struct {
	name  string
	dtype tensor.DataType
}

// Config configures Create. Every field has a default.
type Config struct {
	// Driver supplies devices and streams. Defaults to a single-device
	// host driver.
	Driver driver.Driver

	// Device binds the backend to a specific device. Defaults to the
	// driver's default device. The device is referenced, not owned.
	Device driver.Device

	// Stream, when non-nil, is used instead of a freshly created stream.
	// A supplied stream stays owned by the caller and is not released with
	// the backend.
	Stream driver.Stream

	// DType is the backend's preferred numeric precision for descriptor
	// construction. Defaults to Float32.
	DType tensor.DataType

	// Library is the numerical library the backend orchestrates. Defaults
	// to the host reference library.
	Library dnn.Library

	// Resources, when non-nil, is an outer tracker the constructed backend
	// registers itself with, so closing that tracker releases the backend.
	Resources *Tracker
}

// Backend is the top-level owned aggregate: device binding, execution
// stream, numeric precision, precompiled routine table, numerical library
// handle, and the resource tracker bounding every descriptor allocated
// during its lifetime.
type Backend struct {
	driver driver.Driver
	device driver.Device
	stream driver.Stream
	dtype  tensor.DataType
	lib    dnn.Library

	funcs     map[routineKey]driver.Routine
	resources *Tracker

	mu       sync.Mutex
	released bool
}

// Create builds a Backend. Construction runs inside a scoped tracker: if it
// fails partway, everything allocated so far is released before the error
// propagates. On success the scoped resources move to the backend's own
// tracker and ownership transfers to the caller.
func Create(cfg Config) (*Backend, error) {
	if cfg.Driver == nil {
		cfg.Driver = host.New(1)
	}
	device := cfg.Device
	if device == nil {
		device = cfg.Driver.DefaultDevice()
	}
	lib := cfg.Library
	if lib == nil {
		lib = dnnref.New()
	}

	b := &Backend{
		driver:    cfg.Driver,
		device:    device,
		dtype:     cfg.DType,
		lib:       lib,
		funcs:     make(map[routineKey]driver.Routine),
		resources: NewTracker(),
	}

	scoped := NewTracker()
	err := driver.WithDevice(device, func() error {
		if cfg.Stream != nil {
			b.stream = cfg.Stream
		} else {
			stream, err := device.NewStream()
			if err != nil {
				return fmt.Errorf("backend: create stream: %w", err)
			}
			scoped.Register(stream)
			b.stream = stream
		}

		for _, name := range routineNames {
			for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float64} {
				r, err := device.LoadRoutine(name, dt)
				if errors.Is(err, driver.ErrRoutineUnavailable) {
					slog.Debug("backend: routine unavailable",
						"routine", name, "dtype", dt.String(), "device", device.Name())
					continue
				}
				if err != nil {
					return fmt.Errorf("backend: load routine %s (%s): %w", name, dt, err)
				}
				b.funcs[routineKey{name, dt}] = r
			}
		}
		return nil
	})
	if err != nil {
		// Unwind whatever construction managed to allocate.
		err = errors.Join(err, scoped.Close())
		return nil, err
	}

	scoped.MoveTo(b.resources)
	if cfg.Resources != nil {
		cfg.Resources.Register(b)
	}
	slog.Debug("backend created",
		"driver", cfg.Driver.Name(), "device", device.Name(),
		"dtype", b.dtype.String(), "library", lib.Name(), "routines", len(b.funcs))
	return b, nil
}

// Release re-enters the backend's device context and releases every tracked
// resource in reverse allocation order. Releasing twice is a safe no-op.
// A caller-supplied stream is not released.
func (b *Backend) Release() error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	b.mu.Unlock()

	slog.Debug("backend released", "device", b.device.Name())
	return driver.WithDevice(b.device, func() error {
		return b.resources.Close()
	})
}

// Device returns the bound device.
func (b *Backend) Device() driver.Device { return b.device }

// Stream returns the backend's execution stream.
func (b *Backend) Stream() driver.Stream { return b.stream }

// Driver returns the driver owning the bound device.
func (b *Backend) Driver() driver.Driver { return b.device.Driver() }

// DType returns the backend's preferred numeric precision.
func (b *Backend) DType() tensor.DataType { return b.dtype }

// Library returns the numerical library handle.
func (b *Backend) Library() dnn.Library { return b.lib }

// Resources returns the backend's resource tracker. Layers built for this
// backend register their descriptors here.
func (b *Backend) Resources() *Tracker { return b.resources }

// checkDevice verifies the backend's bound device is current. Privileged
// calls run this before touching the library or launching kernels.
func (b *Backend) checkDevice() error {
	current := b.driver.Current()
	if current != b.device {
		return &DeviceMismatchError{Bound: b.device, Current: current}
	}
	return nil
}

// routine resolves an entry of the precompiled routine table.
func (b *Backend) routine(name string, dtype tensor.DataType) (driver.Routine, error) {
	r, ok := b.funcs[routineKey{name, dtype}]
	if !ok {
		return nil, fmt.Errorf("backend: %s (%s): %w", name, dtype, driver.ErrRoutineUnavailable)
	}
	return r, nil
}
