package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// shaderTable maps routine names to their WGSL sources. Only Float32 exists:
// WGSL has no f64.
var shaderTable = map[string]string{
	"dropout_bernoulli": bernoulliShader,
	"dropout_gaussian":  gaussianShader,
}

// LoadRoutine compiles (or fetches from cache) the shader behind name.
// Float64 is never available on this driver.
func (dv *gpuDevice) LoadRoutine(name string, dtype tensor.DataType) (driver.Routine, error) {
	if dtype != tensor.Float32 {
		return nil, fmt.Errorf("webgpu: %q (%s): %w", name, dtype, driver.ErrRoutineUnavailable)
	}
	code, ok := shaderTable[name]
	if !ok {
		return nil, fmt.Errorf("webgpu: %q (%s): %w", name, dtype, driver.ErrRoutineUnavailable)
	}
	drv := dv.drv
	shader := drv.compileShader(name, code)
	pipeline := drv.getOrCreatePipeline(name, shader)
	return &routine{drv: drv, name: name, pipeline: pipeline}, nil
}

// routine is a compiled compute pipeline plus the launch plumbing around it.
type routine struct {
	drv      *Driver
	name     string
	pipeline *wgpu.ComputePipeline
}

func (r *routine) Name() string { return r.name }

// Launch enqueues one GPU round trip: upload inputs, dispatch, read the
// result back into the mult buffer. The argument convention matches the
// host driver's kernels.
func (r *routine) Launch(s driver.Stream, n int, args ...any) error {
	if n < 0 {
		return fmt.Errorf("webgpu: %s: negative element count %d", r.name, n)
	}
	mult, prob, rnd, err := r.unpackArgs(args)
	if err != nil {
		return err
	}
	if n > mult.NumElements() || n > rnd.NumElements() {
		return fmt.Errorf("webgpu: %s: grid size %d exceeds buffer length", r.name, n)
	}
	s.Enqueue(func() error {
		return r.dispatch(n, mult, prob, rnd)
	})
	return nil
}

func (r *routine) unpackArgs(args []any) (mult *tensor.RawTensor, prob float64, rnd *tensor.RawTensor, err error) {
	switch r.name {
	case "dropout_bernoulli":
		if len(args) != 3 {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: want 3 args, got %d", r.name, len(args))
		}
		var ok bool
		if mult, ok = args[0].(*tensor.RawTensor); !ok {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: arg 0 is not a buffer", r.name)
		}
		if prob, ok = args[1].(float64); !ok {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: arg 1 is not a float64", r.name)
		}
		if rnd, ok = args[2].(*tensor.RawTensor); !ok {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: arg 2 is not a buffer", r.name)
		}
	case "dropout_gaussian":
		if len(args) != 2 {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: want 2 args, got %d", r.name, len(args))
		}
		var ok bool
		if mult, ok = args[0].(*tensor.RawTensor); !ok {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: arg 0 is not a buffer", r.name)
		}
		if rnd, ok = args[1].(*tensor.RawTensor); !ok {
			return nil, 0, nil, fmt.Errorf("webgpu: %s: arg 1 is not a buffer", r.name)
		}
	default:
		return nil, 0, nil, fmt.Errorf("webgpu: unknown routine %q", r.name)
	}
	if mult.DType() != tensor.Float32 || rnd.DType() != tensor.Float32 {
		return nil, 0, nil, fmt.Errorf("webgpu: %s: buffers must be float32", r.name)
	}
	return mult, prob, rnd, nil
}

func (r *routine) dispatch(n int, mult *tensor.RawTensor, prob float64, rnd *tensor.RawTensor) error {
	d := r.drv
	//nolint:gosec // ByteSize is non-negative
	size := uint64(n) * uint64(tensor.Float32.Size())

	randBuf := d.uploadBuffer(rnd.Data()[:size], wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer randBuf.Release()

	multBuf := d.pool.Acquire(size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer d.pool.Release(multBuf, size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)

	// Uniform params: size u32 at offset 0, prob f32 at offset 4, padded to
	// the 16-byte uniform alignment.
	params := make([]byte, 16)
	//nolint:gosec // n checked non-negative at launch
	binary.LittleEndian.PutUint32(params[0:4], uint32(n))
	binary.LittleEndian.PutUint32(params[4:8], math.Float32bits(float32(prob)))
	paramsBuf := d.uploadBuffer(params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	defer paramsBuf.Release()

	layout := r.pipeline.GetBindGroupLayout(0)
	bindGroup := d.device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, multBuf, 0, size),
		wgpu.BufferBindingEntry(1, randBuf, 0, size),
		wgpu.BufferBindingEntry(2, paramsBuf, 0, 16),
	})
	defer bindGroup.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // workgroup count is non-negative
	pass.DispatchWorkgroups(uint32((n+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()
	cmd := encoder.Finish(nil)
	d.queue.Submit(cmd)

	return d.readBuffer(multBuf, mult.Data()[:size])
}

// uploadBuffer creates a buffer with initial contents via MappedAtCreation.
func (d *Driver) uploadBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buf := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	ptr := buf.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy view of the mapped range
	copy(unsafe.Slice((*byte)(ptr), size), data)
	buf.Unmap()
	return buf
}

// readBuffer copies a storage buffer into dst through a pooled staging
// buffer, blocking until the map completes.
func (d *Driver) readBuffer(src *wgpu.Buffer, dst []byte) error {
	size := uint64(len(dst))
	staging := d.pool.Acquire(size, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst)
	defer d.pool.Release(staging, size, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst)

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	ptr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy view of the mapped range
	copy(dst, unsafe.Slice((*byte)(ptr), size))
	staging.Unmap()
	return nil
}
