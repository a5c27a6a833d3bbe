// Copyright 2025 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dnn exposes the numerical library contract kiln backends
// orchestrate: shape and algorithm descriptors plus forward/backward
// routines for pooling, local response normalization, activation, and
// softmax. Ref returns the built-in host reference implementation.
package dnn

import (
	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/dnnref"
)

// Status is the result code of a library routine.
type Status = dnn.Status

// Library status codes.
const (
	StatusSuccess      = dnn.StatusSuccess
	StatusBadParam     = dnn.StatusBadParam
	StatusNotSupported = dnn.StatusNotSupported
	StatusExecFailed   = dnn.StatusExecFailed
)

// Library is the numerical library contract. Routines follow the
// alpha/beta blending convention: dst = alpha*result + beta*dst.
type Library = dnn.Library

// TensorDesc describes the layout of a 4-D (batch, channel, height, width)
// buffer.
type TensorDesc = dnn.TensorDesc

// PoolingDesc carries pooling window, padding, and stride parameters.
type PoolingDesc = dnn.PoolingDesc

// LRNDesc carries cross-channel normalization parameters.
type LRNDesc = dnn.LRNDesc

// ActivationDesc carries the activation selection.
type ActivationDesc = dnn.ActivationDesc

// PoolingMode selects the pooling reduction.
type PoolingMode = dnn.PoolingMode

// Supported pooling reductions.
const (
	PoolMax           = dnn.PoolMax
	PoolAvgIncludePad = dnn.PoolAvgIncludePad
	PoolAvgExcludePad = dnn.PoolAvgExcludePad
)

// ActivationMode selects the pointwise activation.
type ActivationMode = dnn.ActivationMode

// Supported activations.
const (
	ActReLU    = dnn.ActReLU
	ActSigmoid = dnn.ActSigmoid
	ActTanh    = dnn.ActTanh
)

// Ref returns the built-in host reference library.
func Ref() Library {
	return dnnref.New()
}
