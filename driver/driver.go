// Copyright 2025 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package driver exposes the device, stream, and routine abstractions that
// kiln backends execute on.
//
// Implementations:
//   - driver/host: pure Go reference driver, always available
//   - driver/webgpu: cross-platform GPU compute via WebGPU
//
// Example:
//
//	drv := host.New(1)
//	dev := drv.DefaultDevice()
//	err := driver.WithDevice(dev, func() error {
//	    s, err := dev.NewStream()
//	    if err != nil {
//	        return err
//	    }
//	    defer s.Release()
//	    // enqueue work...
//	    return s.Synchronize()
//	})
package driver

import "github.com/kiln-ml/kiln/internal/driver"

// Driver enumerates and selects compute devices.
type Driver = driver.Driver

// Device identifies a single compute device.
type Device = driver.Device

// Stream is an ordered, asynchronous execution queue on a device.
type Stream = driver.Stream

// Routine is a precompiled device kernel launched over a 1-D grid.
type Routine = driver.Routine

// ErrRoutineUnavailable reports that a driver has no routine for a
// requested (name, precision) pair.
var ErrRoutineUnavailable = driver.ErrRoutineUnavailable

// WithDevice runs fn with d bound as the current device, restoring the
// previous binding afterwards.
func WithDevice(d Device, fn func() error) error {
	return driver.WithDevice(d, fn)
}
