// Copyright 2025 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend builds and runs device-resident neural network layers.
// A Backend binds a device, an execution stream, a precompiled routine
// table, and a numerical library; layers constructed through it register
// their descriptors with the backend's resource tracker and are freed when
// the backend is released.
//
// Example:
//
//	drv := host.New(1)
//	b, err := backend.Create(backend.Config{Driver: drv})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Release()
//
//	layer, err := b.BuildLayer(backend.LayerSpec{
//	    Kind: backend.LayerPooling,
//	    In:   &backend.Dims{Channels: 3, Height: 32, Width: 32},
//	    Pooling: &backend.PoolingConfig{
//	        Mode: "max", KernelH: 2, KernelW: 2, StrideH: 2, StrideW: 2,
//	    },
//	}, 64)
package backend

import "github.com/kiln-ml/kiln/internal/backend"

// Backend binds a device, stream, routine table, and numerical library.
type Backend = backend.Backend

// Config configures Create.
type Config = backend.Config

// Create builds a Backend. Construction unwinds on failure; the returned
// backend must be released exactly once (releasing again is a no-op).
func Create(cfg Config) (*Backend, error) {
	return backend.Create(cfg)
}

// Tracker owns device resources and releases them in reverse allocation
// order when closed.
type Tracker = backend.Tracker

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return backend.NewTracker()
}

// Releaser frees a tracked device resource.
type Releaser = backend.Releaser

// LayerKind selects a compute layer constructor.
type LayerKind = backend.LayerKind

// Layer kinds the factory can build.
const (
	LayerPooling    = backend.LayerPooling
	LayerLRN        = backend.LayerLRN
	LayerActivation = backend.LayerActivation
	LayerSoftmax    = backend.LayerSoftmax
)

// Dims is a per-sample (channel, height, width) volume.
type Dims = backend.Dims

// LayerSpec is the device-independent layer description BuildLayer
// consumes.
type LayerSpec = backend.LayerSpec

// PoolingConfig parameterizes a pooling layer.
type PoolingConfig = backend.PoolingConfig

// LRNConfig parameterizes a local response normalization layer.
type LRNConfig = backend.LRNConfig

// ActivationConfig parameterizes a pointwise activation layer.
type ActivationConfig = backend.ActivationConfig

// Pair bundles a value buffer with its gradient buffer.
type Pair = backend.Pair

// ComputeLayer is a device-resident layer built by Backend.BuildLayer.
type ComputeLayer = backend.ComputeLayer

// Typed errors reported by backend operations.
type (
	// DeviceMismatchError reports an operation issued while another device
	// was current.
	DeviceMismatchError = backend.DeviceMismatchError
	// UnsupportedLayerKindError reports a layer kind without a constructor.
	UnsupportedLayerKindError = backend.UnsupportedLayerKindError
	// InvalidLayerConfigError reports a spec that cannot become descriptors.
	InvalidLayerConfigError = backend.InvalidLayerConfigError
	// LibraryError reports a non-success status from the numerical library.
	LibraryError = backend.LibraryError
)
