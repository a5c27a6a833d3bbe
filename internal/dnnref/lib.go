// Package dnnref is a host reference implementation of the dnn.Library
// contract. The math runs on the stream's worker goroutine over host
// buffers, parallelized across the batch dimension. It backs the default
// backend configuration and the test suite, and doubles as the executable
// definition of the library semantics a hardware-accelerated implementation
// must match.
package dnnref

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Library implements dnn.Library on host memory.
type Library struct {
	created  atomic.Int64
	released atomic.Int64
}

// New creates a reference library.
func New() *Library {
	return &Library{}
}

// Name identifies the library implementation.
func (l *Library) Name() string { return "dnnref" }

// DescriptorCounts reports how many descriptors were created and released.
// Leak tests assert the two match after teardown.
func (l *Library) DescriptorCounts() (created, released int64) {
	return l.created.Load(), l.released.Load()
}

// desc is the shared release bookkeeping embedded in every descriptor.
type desc struct {
	lib      *Library
	released atomic.Bool
}

func (d *desc) release(kind string) error {
	if !d.released.CompareAndSwap(false, true) {
		return fmt.Errorf("dnnref: %s descriptor released twice", kind)
	}
	d.lib.released.Add(1)
	return nil
}

type tensorDesc struct {
	desc
	dtype      tensor.DataType
	n, c, h, w int
}

func (d *tensorDesc) Dims() (n, c, h, w int) { return d.n, d.c, d.h, d.w }
func (d *tensorDesc) DType() tensor.DataType { return d.dtype }
func (d *tensorDesc) Release() error         { return d.release("tensor") }

// NewTensorDesc creates a 4-D shape descriptor.
func (l *Library) NewTensorDesc(dtype tensor.DataType, n, c, h, w int) (dnn.TensorDesc, error) {
	if n < 1 || c < 1 || h < 1 || w < 1 {
		return nil, fmt.Errorf("dnnref: invalid tensor dims (%d,%d,%d,%d)", n, c, h, w)
	}
	l.created.Add(1)
	return &tensorDesc{desc: desc{lib: l}, dtype: dtype, n: n, c: c, h: h, w: w}, nil
}

type poolingDesc struct {
	desc
	mode             dnn.PoolingMode
	winH, winW       int
	padH, padW       int
	strideH, strideW int
}

func (d *poolingDesc) Mode() dnn.PoolingMode { return d.mode }
func (d *poolingDesc) Window() (h, w int)    { return d.winH, d.winW }
func (d *poolingDesc) Padding() (h, w int)   { return d.padH, d.padW }
func (d *poolingDesc) Stride() (h, w int)    { return d.strideH, d.strideW }
func (d *poolingDesc) Release() error        { return d.release("pooling") }

// NewPoolingDesc creates a pooling algorithm descriptor.
func (l *Library) NewPoolingDesc(mode dnn.PoolingMode, winH, winW, padH, padW, strideH, strideW int) (dnn.PoolingDesc, error) {
	switch mode {
	case dnn.PoolMax, dnn.PoolAvgIncludePad, dnn.PoolAvgExcludePad:
	default:
		return nil, fmt.Errorf("dnnref: unknown pooling mode %d", mode)
	}
	if winH < 1 || winW < 1 {
		return nil, fmt.Errorf("dnnref: invalid pooling window %dx%d", winH, winW)
	}
	if padH < 0 || padW < 0 {
		return nil, fmt.Errorf("dnnref: invalid pooling padding %dx%d", padH, padW)
	}
	if strideH < 1 || strideW < 1 {
		return nil, fmt.Errorf("dnnref: invalid pooling stride %dx%d", strideH, strideW)
	}
	l.created.Add(1)
	return &poolingDesc{
		desc: desc{lib: l},
		mode: mode,
		winH: winH, winW: winW,
		padH: padH, padW: padW,
		strideH: strideH, strideW: strideW,
	}, nil
}

type lrnDesc struct {
	desc
	window        int
	alpha, beta, k float64
}

func (d *lrnDesc) Window() int    { return d.window }
func (d *lrnDesc) Alpha() float64 { return d.alpha }
func (d *lrnDesc) Beta() float64  { return d.beta }
func (d *lrnDesc) K() float64     { return d.k }
func (d *lrnDesc) Release() error { return d.release("lrn") }

// NewLRNDesc creates a cross-channel LRN descriptor. Alpha is stored as
// given; the forward and backward routines divide it by the window width
// (cudnn convention).
func (l *Library) NewLRNDesc(window int, alpha, beta, k float64) (dnn.LRNDesc, error) {
	if window < 1 {
		return nil, fmt.Errorf("dnnref: invalid lrn window %d", window)
	}
	if k <= 0 {
		return nil, fmt.Errorf("dnnref: invalid lrn k %g", k)
	}
	l.created.Add(1)
	return &lrnDesc{desc: desc{lib: l}, window: window, alpha: alpha, beta: beta, k: k}, nil
}

type activationDesc struct {
	desc
	mode dnn.ActivationMode
}

func (d *activationDesc) Mode() dnn.ActivationMode { return d.mode }
func (d *activationDesc) Release() error           { return d.release("activation") }

// NewActivationDesc creates an activation descriptor.
func (l *Library) NewActivationDesc(mode dnn.ActivationMode) (dnn.ActivationDesc, error) {
	switch mode {
	case dnn.ActReLU, dnn.ActSigmoid, dnn.ActTanh:
	default:
		return nil, fmt.Errorf("dnnref: unknown activation mode %d", mode)
	}
	l.created.Add(1)
	return &activationDesc{desc: desc{lib: l}, mode: mode}, nil
}

// PoolingOutputDims computes the output shape for a pooling configuration,
// cudnn-style: out = (in + 2*pad - window)/stride + 1.
func (l *Library) PoolingOutputDims(pd dnn.PoolingDesc, x dnn.TensorDesc) (n, c, h, w int, err error) {
	winH, winW := pd.Window()
	padH, padW := pd.Padding()
	strideH, strideW := pd.Stride()
	xn, xc, xh, xw := x.Dims()

	h = (xh+2*padH-winH)/strideH + 1
	w = (xw+2*padW-winW)/strideW + 1
	if h < 1 || w < 1 {
		return 0, 0, 0, 0, fmt.Errorf("dnnref: pooling window %dx%d does not fit input %dx%d", winH, winW, xh, xw)
	}
	return xn, xc, h, w, nil
}

// errBufferMismatch marks validation failures mapped to StatusBadParam.
var errBufferMismatch = errors.New("dnnref: buffer does not match descriptor")

// checkBuffer verifies that a buffer matches its descriptor's precision and
// element count.
func checkBuffer(d dnn.TensorDesc, b *tensor.RawTensor) error {
	if b == nil {
		return errBufferMismatch
	}
	n, c, h, w := d.Dims()
	if b.DType() != d.DType() || b.NumElements() != n*c*h*w {
		return errBufferMismatch
	}
	return nil
}

// blend applies dst = alpha*res + beta*dst element-wise.
func blend[T tensor.Float](dst, res []T, alpha, beta float64) {
	a := T(alpha)
	if beta == 0 {
		for i := range dst {
			dst[i] = a * res[i]
		}
		return
	}
	b := T(beta)
	for i := range dst {
		dst[i] = a*res[i] + b*dst[i]
	}
}
