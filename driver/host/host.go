// Copyright 2025 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package host provides the pure Go reference driver. It is always
// available and backs the default backend configuration.
package host

import "github.com/kiln-ml/kiln/internal/driver/host"

// Driver is a host driver with virtual devices and Go-function routines.
type Driver = host.Driver

// KernelFunc is the body of a host routine.
type KernelFunc = host.KernelFunc

// New creates a host driver with the given number of virtual devices.
func New(deviceCount int) *Driver {
	return host.New(deviceCount)
}
