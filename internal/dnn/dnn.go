// Package dnn defines the contract of the external numerical library the
// kiln backend orchestrates: shape and algorithm descriptors plus the
// forward/backward routines for pooling, local response normalization,
// activation, and softmax. The backend allocates descriptors through a
// Library, tracks them for release, and forwards buffers to its routines;
// it never implements the math itself.
package dnn

import (
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Status is the result code of a library routine, cudnn-style. Any value
// other than StatusSuccess is fatal to the call that produced it.
type Status int

// Library status codes.
const (
	StatusSuccess Status = iota
	StatusBadParam
	StatusNotSupported
	StatusExecFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBadParam:
		return "bad param"
	case StatusNotSupported:
		return "not supported"
	case StatusExecFailed:
		return "execution failed"
	default:
		return "unknown"
	}
}

// Releaser frees a device-side library object. Library descriptors have no
// automatic collection; every descriptor must be released exactly once.
type Releaser interface {
	Release() error
}

// TensorDesc describes the layout of a 4-D (batch, channel, height, width)
// buffer. Immutable once created.
type TensorDesc interface {
	Releaser
	Dims() (n, c, h, w int)
	DType() tensor.DataType
}

// PoolingMode selects the pooling reduction.
type PoolingMode int

// Supported pooling reductions.
const (
	PoolMax PoolingMode = iota
	PoolAvgIncludePad
	PoolAvgExcludePad
)

// String returns the mode name.
func (m PoolingMode) String() string {
	switch m {
	case PoolMax:
		return "max"
	case PoolAvgIncludePad:
		return "avg-include-pad"
	case PoolAvgExcludePad:
		return "avg-exclude-pad"
	default:
		return "unknown"
	}
}

// PoolingDesc carries pooling window, padding, and stride parameters.
// Immutable once created.
type PoolingDesc interface {
	Releaser
	Mode() PoolingMode
	Window() (h, w int)
	Padding() (h, w int)
	Stride() (h, w int)
}

// LRNDesc carries cross-channel local response normalization parameters.
// Alpha is passed through as given; the library applies its own
// window-width normalization internally (cudnn convention: alpha/n).
type LRNDesc interface {
	Releaser
	Window() int
	Alpha() float64
	Beta() float64
	K() float64
}

// ActivationMode selects the pointwise activation.
type ActivationMode int

// Supported activations.
const (
	ActReLU ActivationMode = iota
	ActSigmoid
	ActTanh
)

// String returns the mode name.
func (m ActivationMode) String() string {
	switch m {
	case ActReLU:
		return "relu"
	case ActSigmoid:
		return "sigmoid"
	case ActTanh:
		return "tanh"
	default:
		return "unknown"
	}
}

// ActivationDesc carries the activation selection. Immutable once created.
type ActivationDesc interface {
	Releaser
	Mode() ActivationMode
}

// Library is the numerical library contract. All compute routines follow
// the alpha/beta blending convention: dst = alpha*result + beta*dst, so
// alpha=1, beta=0 replaces the destination. Routines enqueue their work on
// the given stream and return the launch status without blocking.
type Library interface {
	// Name identifies the library implementation.
	Name() string

	// Descriptor construction. Returned descriptors are immutable and must
	// be released exactly once.
	NewTensorDesc(dtype tensor.DataType, n, c, h, w int) (TensorDesc, error)
	NewPoolingDesc(mode PoolingMode, winH, winW, padH, padW, strideH, strideW int) (PoolingDesc, error)
	NewLRNDesc(window int, alpha, beta, k float64) (LRNDesc, error)
	NewActivationDesc(mode ActivationMode) (ActivationDesc, error)

	// PoolingOutputDims is the library's own shape inference for a pooling
	// configuration over input x. Its result may legitimately differ from a
	// caller's declared output dimensions; the library's answer is
	// authoritative for descriptor construction.
	PoolingOutputDims(pd PoolingDesc, x TensorDesc) (n, c, h, w int, err error)

	PoolingForward(s driver.Stream, pd PoolingDesc,
		alpha float64, xd TensorDesc, x *tensor.RawTensor,
		beta float64, yd TensorDesc, y *tensor.RawTensor) Status
	PoolingBackward(s driver.Stream, pd PoolingDesc,
		alpha float64, yd TensorDesc, y *tensor.RawTensor,
		dyd TensorDesc, dy *tensor.RawTensor,
		xd TensorDesc, x *tensor.RawTensor,
		beta float64, dxd TensorDesc, dx *tensor.RawTensor) Status

	LRNForward(s driver.Stream, ld LRNDesc,
		alpha float64, xd TensorDesc, x *tensor.RawTensor,
		beta float64, yd TensorDesc, y *tensor.RawTensor) Status
	LRNBackward(s driver.Stream, ld LRNDesc,
		alpha float64, yd TensorDesc, y *tensor.RawTensor,
		dyd TensorDesc, dy *tensor.RawTensor,
		xd TensorDesc, x *tensor.RawTensor,
		beta float64, dxd TensorDesc, dx *tensor.RawTensor) Status

	ActivationForward(s driver.Stream, ad ActivationDesc,
		alpha float64, xd TensorDesc, x *tensor.RawTensor,
		beta float64, yd TensorDesc, y *tensor.RawTensor) Status
	ActivationBackward(s driver.Stream, ad ActivationDesc,
		alpha float64, yd TensorDesc, y *tensor.RawTensor,
		dyd TensorDesc, dy *tensor.RawTensor,
		xd TensorDesc, x *tensor.RawTensor,
		beta float64, dxd TensorDesc, dx *tensor.RawTensor) Status

	SoftmaxForward(s driver.Stream,
		alpha float64, xd TensorDesc, x *tensor.RawTensor,
		beta float64, yd TensorDesc, y *tensor.RawTensor) Status
	SoftmaxBackward(s driver.Stream,
		alpha float64, yd TensorDesc, y *tensor.RawTensor,
		dyd TensorDesc, dy *tensor.RawTensor,
		beta float64, dxd TensorDesc, dx *tensor.RawTensor) Status
}
