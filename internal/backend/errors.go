// Package backend binds abstract layer descriptions to device-resident
// numerical kernels. A Backend owns a device binding, an execution stream,
// a table of precompiled routines, and a resource tracker whose closure
// releases every descriptor allocated during the backend's lifetime.
package backend

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/driver"
)

// DeviceMismatchError reports that an operation was issued while a device
// other than the backend's bound device was current. This is a programming
// error, not a recoverable condition: the call performs no device work.
type DeviceMismatchError struct {
	Bound   driver.Device
	Current driver.Device
}

func (e *DeviceMismatchError) Error() string {
	current := "no device"
	if e.Current != nil {
		current = e.Current.Name()
	}
	return fmt.Sprintf("backend: bound to device %s but %s is current",
		e.Bound.Name(), current)
}

// UnsupportedLayerKindError reports a layer kind the factory has no
// constructor for.
type UnsupportedLayerKindError struct {
	Kind LayerKind
}

func (e *UnsupportedLayerKindError) Error() string {
	return fmt.Sprintf("backend: unsupported layer kind %s", e.Kind)
}

// InvalidLayerConfigError reports a layer spec the factory cannot turn into
// descriptors (unknown mode, missing dimensions, bad parameters).
type InvalidLayerConfigError struct {
	Layer  string
	Reason string
}

func (e *InvalidLayerConfigError) Error() string {
	return fmt.Sprintf("backend: invalid config for layer %q: %s", e.Layer, e.Reason)
}

// LibraryError reports a non-success status from the numerical library.
// The failed call is not retried.
type LibraryError struct {
	Op     string
	Status dnn.Status
}

func (e *LibraryError) Error() string {
	return fmt.Sprintf("backend: %s: library status %s", e.Op, e.Status)
}
