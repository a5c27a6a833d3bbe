// Copyright 2025 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU driver for GPU-accelerated dropout
// mask preparation.
//
// WebGPU is a cross-platform graphics and compute API that works on:
//   - Windows (via Dawn/D3D12)
//   - macOS (via Dawn/Metal)
//   - Linux (via Dawn/Vulkan)
//
// WGSL has no 64-bit floating point type, so Float64 routines are reported
// unavailable; backends created on this driver carry a Float32-only routine
// table.
//
// Example:
//
//	if !webgpu.IsAvailable() {
//	    log.Fatal("no WebGPU adapter")
//	}
//	drv, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Release()
//
//	b, err := backend.Create(backend.Config{Driver: drv})
package webgpu

import "github.com/kiln-ml/kiln/internal/driver/webgpu"

// Driver exposes a single WebGPU device.
type Driver = webgpu.Driver

// AdapterInfo describes the adapter backing a driver's device.
type AdapterInfo = webgpu.AdapterInfo

// New acquires a WebGPU instance, adapter, device, and queue. Call Release
// when done to free them.
func New() (*Driver, error) {
	return webgpu.New()
}

// IsAvailable reports whether a WebGPU adapter can be acquired on this
// system, without committing to a device.
func IsAvailable() bool {
	return webgpu.IsAvailable()
}

// ListAdapters describes the available GPU adapters.
func ListAdapters() ([]AdapterInfo, error) {
	return webgpu.ListAdapters()
}
