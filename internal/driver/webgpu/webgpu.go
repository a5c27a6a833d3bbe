// Package webgpu implements the driver interfaces on top of WebGPU compute,
// using go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO bindings.
// WGSL has no 64-bit floating point type, so Float64 routines are reported
// unavailable and callers fall back per the routine-table contract.
package webgpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/driver"
)

// AdapterInfo describes the adapter backing the driver's device.
type AdapterInfo struct {
	Name   string
	Vendor string
}

// Driver exposes a single WebGPU device. The instance, adapter, and device
// handles are owned by the driver and freed by Release in reverse
// acquisition order.
type Driver struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     AdapterInfo

	dev *gpuDevice

	mu      sync.RWMutex
	current driver.Device

	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline

	pool *BufferPool

	releaseOnce sync.Once
}

// IsAvailable reports whether a WebGPU adapter can be acquired without
// committing to a device. Callers use it to decide between this driver and
// the host fallback.
func IsAvailable() (available bool) {
	defer func() {
		if recover() != nil {
			available = false
		}
	}()
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// ListAdapters describes the available GPU adapters. WebGPU has no adapter
// enumeration, so this reports the adapter the default request resolves to.
func ListAdapters() (adapters []AdapterInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			adapters = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: create instance: %w", err)
	}
	defer instance.Release()

	adapter, aerr := instance.RequestAdapter(nil)
	if aerr != nil {
		return nil, fmt.Errorf("webgpu: no adapters available: %w", aerr)
	}
	defer adapter.Release()

	info, ierr := adapter.GetInfo()
	if ierr != nil {
		return nil, fmt.Errorf("webgpu: adapter info: %w", ierr)
	}
	return []AdapterInfo{{Name: info.Device, Vendor: info.Vendor}}, nil
}

// New acquires a WebGPU instance, adapter, device, and queue. Acquisition
// failures unwind whatever was already acquired before returning.
func New() (drv *Driver, err error) {
	// The native library loads lazily and panics when missing.
	defer func() {
		if r := recover(); r != nil {
			drv = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: create instance: %w", err)
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: request adapter: %w", err)
	}

	adapterInfo, err := adapter.GetInfo()
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: adapter info: %w", err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: no queue on device")
	}

	d := &Driver{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		info: AdapterInfo{
			Name:   adapterInfo.Device,
			Vendor: adapterInfo.Vendor,
		},
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}
	d.pool = NewBufferPool(device)
	d.dev = &gpuDevice{drv: d}
	d.current = d.dev
	slog.Debug("webgpu driver ready",
		"adapter", d.info.Name, "vendor", d.info.Vendor)
	return d, nil
}

// Name identifies the driver implementation.
func (d *Driver) Name() string { return "webgpu" }

// Info returns the adapter description captured at acquisition time.
func (d *Driver) Info() AdapterInfo { return d.info }

// Devices lists the single exposed device.
func (d *Driver) Devices() []driver.Device { return []driver.Device{d.dev} }

// DefaultDevice returns the exposed device.
func (d *Driver) DefaultDevice() driver.Device { return d.dev }

// Current returns the currently bound device.
func (d *Driver) Current() driver.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// SetCurrent binds a device owned by this driver.
func (d *Driver) SetCurrent(dev driver.Device) error {
	if dev != d.dev {
		return fmt.Errorf("webgpu: device %v does not belong to this driver", dev)
	}
	d.mu.Lock()
	d.current = dev
	d.mu.Unlock()
	return nil
}

// Release frees cached pipelines and shaders, drains the buffer pool, and
// releases the queue, device, adapter, and instance in reverse acquisition
// order. Safe to call more than once.
func (d *Driver) Release() error {
	d.releaseOnce.Do(func() {
		d.mu.Lock()
		for _, p := range d.pipelines {
			p.Release()
		}
		d.pipelines = nil
		for _, s := range d.shaders {
			s.Release()
		}
		d.shaders = nil
		d.mu.Unlock()

		d.pool.Drain()
		d.queue.Release()
		d.device.Release()
		d.adapter.Release()
		d.instance.Release()
	})
	return nil
}

func (d *Driver) compileShader(name, code string) *wgpu.ShaderModule {
	d.mu.RLock()
	if shader, ok := d.shaders[name]; ok {
		d.mu.RUnlock()
		return shader
	}
	d.mu.RUnlock()

	shader := d.device.CreateShaderModuleWGSL(code)
	d.mu.Lock()
	d.shaders[name] = shader
	d.mu.Unlock()
	return shader
}

func (d *Driver) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	d.mu.RLock()
	if pipeline, ok := d.pipelines[name]; ok {
		d.mu.RUnlock()
		return pipeline
	}
	d.mu.RUnlock()

	pipeline := d.device.CreateComputePipelineSimple(nil, shader, "main")
	d.mu.Lock()
	d.pipelines[name] = pipeline
	d.mu.Unlock()
	return pipeline
}

// gpuDevice is the driver's single device.
type gpuDevice struct {
	drv *Driver
}

func (dv *gpuDevice) ID() int               { return 0 }
func (dv *gpuDevice) Driver() driver.Driver { return dv.drv }

func (dv *gpuDevice) Name() string {
	if dv.drv.info.Name != "" {
		return "webgpu:" + dv.drv.info.Name
	}
	return "webgpu:0"
}

func (dv *gpuDevice) NewStream() (driver.Stream, error) {
	return &stream{q: driver.NewWorkQueue()}, nil
}
