package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// LayerKind selects a compute layer constructor.
type LayerKind int

// Layer kinds the factory can build.
const (
	LayerPooling LayerKind = iota
	LayerLRN
	LayerActivation
	LayerSoftmax
)

// String returns the kind name.
func (k LayerKind) String() string {
	switch k {
	case LayerPooling:
		return "pooling"
	case LayerLRN:
		return "lrn"
	case LayerActivation:
		return "activation"
	case LayerSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Dims is a per-sample (channel, height, width) volume.
type Dims struct {
	Channels int
	Height   int
	Width    int
}

// Size returns the element count of the volume.
func (d Dims) Size() int { return d.Channels * d.Height * d.Width }

// PoolingConfig parameterizes a pooling layer. Mode is one of "max", "avg",
// or "avg-exclude-pad".
type PoolingConfig struct {
	Mode    string
	KernelH int
	KernelW int
	PadH    int
	PadW    int
	StrideH int
	StrideW int
}

// LRNConfig parameterizes a cross-channel local response normalization
// layer. Alpha is passed to the library as given; the library divides by
// the window width internally.
type LRNConfig struct {
	Window int
	Alpha  float64
	Beta   float64
	K      float64
}

// ActivationConfig parameterizes a pointwise activation layer. Mode is one
// of "relu", "sigmoid", or "tanh".
type ActivationConfig struct {
	Mode string
}

// LayerSpec is the device-independent description of a layer the factory
// turns into a ComputeLayer. In and Out carry the structured per-sample
// volumes. The flat fields below them predate Dims and are still emitted by
// older model loaders; normalize folds them into In/Out when those are nil.
type LayerSpec struct {
	Kind LayerKind
	Name string

	In  *Dims
	Out *Dims

	// Legacy flat dimension fields. Ignored when In/Out are set.
	InChannels  int
	InHeight    int
	InWidth     int
	OutChannels int
	OutHeight   int
	OutWidth    int

	// OutputSize is the legacy flat element count used by layers that never
	// carried a spatial output shape (activation, softmax).
	OutputSize int

	Pooling    *PoolingConfig
	LRN        *LRNConfig
	Activation *ActivationConfig
}

// normalize returns a copy of the spec with the legacy flat fields folded
// into structured In/Out volumes. Specs that already carry In/Out pass
// through unchanged.
func (s LayerSpec) normalize() LayerSpec {
	if s.In == nil {
		switch {
		case s.InChannels != 0 || s.InHeight != 0 || s.InWidth != 0:
			s.In = &Dims{Channels: s.InChannels, Height: s.InHeight, Width: s.InWidth}
		case s.OutputSize != 0:
			// Pointwise layers from the flat era carried only an element
			// count; input and output volumes are the same.
			s.In = &Dims{Channels: 1, Height: 1, Width: s.OutputSize}
		}
	}
	if s.Out == nil {
		switch {
		case s.OutChannels != 0 || s.OutHeight != 0 || s.OutWidth != 0:
			s.Out = &Dims{Channels: s.OutChannels, Height: s.OutHeight, Width: s.OutWidth}
		case s.OutputSize != 0:
			s.Out = &Dims{Channels: 1, Height: 1, Width: s.OutputSize}
		}
	}
	return s
}

// Pair bundles a value buffer with its gradient buffer. Grad may be nil on
// forward-only paths.
type Pair struct {
	Value *tensor.RawTensor
	Grad  *tensor.RawTensor
}

// ComputeLayer is a device-resident layer built by BuildLayer. Forward and
// Backward enqueue work on the owning backend's stream; results replace the
// destination buffers outright. The layer's descriptors belong to the
// backend's tracker and are released with the backend.
type ComputeLayer interface {
	// Kind returns the layer kind the factory built this layer from.
	Kind() LayerKind

	// Name returns the spec name the layer was built under.
	Name() string

	// Forward computes outputs from inputs for a full batch. The params
	// list carries trainable parameter buffers; the built-in kinds have
	// none and ignore it.
	Forward(params, inputs, outputs []Pair) error

	// Backward computes input gradients from output gradients. Forward must
	// have run for the same buffers first; layers may read their forward
	// outputs during the backward pass.
	Backward(params, outputs, inputs []Pair) error
}

// BuildLayer constructs the device-resident layer described by spec for a
// batch of batchSize samples. The backend's device must be current.
// Descriptors allocated during construction register with the backend's
// tracker on success; a failed construction releases everything it
// allocated before returning.
func (b *Backend) BuildLayer(spec LayerSpec, batchSize int) (ComputeLayer, error) {
	if err := b.checkDevice(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, &InvalidLayerConfigError{Layer: spec.Name,
			Reason: fmt.Sprintf("batch size %d", batchSize)}
	}
	spec = spec.normalize()
	if spec.In == nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: "no input dimensions"}
	}

	scoped := NewTracker()
	layer, err := b.buildLayer(scoped, spec, batchSize)
	if err != nil {
		return nil, errors.Join(err, scoped.Close())
	}
	scoped.MoveTo(b.resources)
	slog.Debug("layer built", "kind", spec.Kind.String(), "name", spec.Name,
		"batch", batchSize)
	return layer, nil
}

func (b *Backend) buildLayer(scoped *Tracker, spec LayerSpec, batchSize int) (ComputeLayer, error) {
	switch spec.Kind {
	case LayerPooling:
		return b.newPoolingLayer(scoped, spec, batchSize)
	case LayerLRN:
		return b.newLRNLayer(scoped, spec, batchSize)
	case LayerActivation:
		return b.newActivationLayer(scoped, spec, batchSize)
	case LayerSoftmax:
		return b.newSoftmaxLayer(scoped, spec, batchSize)
	default:
		return nil, &UnsupportedLayerKindError{Kind: spec.Kind}
	}
}
