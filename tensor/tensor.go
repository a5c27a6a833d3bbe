// Copyright 2025 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the raw host-side buffer type the kiln backends
// operate on: a flat byte slice plus shape and element type. RawTensor is
// deliberately dumb; all math lives behind the backend and dnn packages.
//
// Example:
//
//	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(x.Shape(), x.DType())
package tensor

import "github.com/kiln-ml/kiln/internal/tensor"

// DataType identifies the element type of a RawTensor.
type DataType = tensor.DataType

// Supported element types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
)

// Float constrains the element types a RawTensor can view.
type Float = tensor.Float

// Shape is the dimension list of a tensor.
type Shape = tensor.Shape

// RawTensor is an untyped host buffer with shape and element type.
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromSlice copies values into a freshly allocated tensor of the given
// shape.
func FromSlice[T Float](values []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(values, shape)
}

// View reinterprets the tensor's bytes as a []T without copying. T must
// match the tensor's element type.
func View[T Float](r *RawTensor) []T {
	return tensor.View[T](r)
}

// TypeOf returns the DataType corresponding to T.
func TypeOf[T Float]() DataType {
	return tensor.TypeOf[T]()
}
