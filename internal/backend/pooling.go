package backend

import (
	"log/slog"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

type poolingLayer struct {
	backend *Backend
	name    string

	inDesc   dnn.TensorDesc
	outDesc  dnn.TensorDesc
	poolDesc dnn.PoolingDesc
}

func poolingMode(mode string) (dnn.PoolingMode, bool) {
	switch mode {
	case "max":
		return dnn.PoolMax, true
	case "avg":
		return dnn.PoolAvgIncludePad, true
	case "avg-exclude-pad":
		return dnn.PoolAvgExcludePad, true
	default:
		return 0, false
	}
}

func (b *Backend) newPoolingLayer(scoped *Tracker, spec LayerSpec, batchSize int) (ComputeLayer, error) {
	cfg := spec.Pooling
	if cfg == nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: "no pooling config"}
	}
	mode, ok := poolingMode(cfg.Mode)
	if !ok {
		return nil, &InvalidLayerConfigError{Layer: spec.Name,
			Reason: "unknown pooling mode " + cfg.Mode}
	}

	inDesc, err := b.lib.NewTensorDesc(b.dtype, batchSize,
		spec.In.Channels, spec.In.Height, spec.In.Width)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(inDesc)

	poolDesc, err := b.lib.NewPoolingDesc(mode,
		cfg.KernelH, cfg.KernelW, cfg.PadH, cfg.PadW, cfg.StrideH, cfg.StrideW)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(poolDesc)

	// The library's shape inference is authoritative for the output
	// descriptor. A declared output that disagrees is reported but the
	// library's answer wins.
	n, c, h, w, err := b.lib.PoolingOutputDims(poolDesc, inDesc)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	if spec.Out != nil &&
		(spec.Out.Channels != c || spec.Out.Height != h || spec.Out.Width != w) {
		slog.Debug("pooling output dims disagree with declared dims",
			"layer", spec.Name,
			"declared", []int{spec.Out.Channels, spec.Out.Height, spec.Out.Width},
			"computed", []int{c, h, w})
	}

	outDesc, err := b.lib.NewTensorDesc(b.dtype, n, c, h, w)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(outDesc)

	return &poolingLayer{
		backend:  b,
		name:     spec.Name,
		inDesc:   inDesc,
		outDesc:  outDesc,
		poolDesc: poolDesc,
	}, nil
}

func (l *poolingLayer) Kind() LayerKind { return LayerPooling }

func (l *poolingLayer) Name() string { return l.name }

// OutputDims returns the per-sample output volume the library inferred at
// construction time.
func (l *poolingLayer) OutputDims() Dims {
	_, c, h, w := l.outDesc.Dims()
	return Dims{Channels: c, Height: h, Width: w}
}

func (l *poolingLayer) Forward(params, inputs, outputs []Pair) error {
	x, y, err := forwardBuffers(l.backend, l.name, inputs, outputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.PoolingForward(l.backend.stream, l.poolDesc,
		1, l.inDesc, x, 0, l.outDesc, y)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "pooling forward", Status: status}
	}
	return nil
}

func (l *poolingLayer) Backward(params, outputs, inputs []Pair) error {
	y, dy, x, dx, err := backwardBuffers(l.backend, l.name, outputs, inputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.PoolingBackward(l.backend.stream, l.poolDesc,
		1, l.outDesc, y, l.outDesc, dy, l.inDesc, x, 0, l.inDesc, dx)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "pooling backward", Status: status}
	}
	return nil
}

// forwardBuffers validates a forward call and extracts the batch value
// buffers. Layers operate on a single full-batch buffer per side.
func forwardBuffers(b *Backend, layer string, inputs, outputs []Pair) (x, y *tensor.RawTensor, err error) {
	if err := b.checkDevice(); err != nil {
		return nil, nil, err
	}
	if len(inputs) != 1 || len(outputs) != 1 ||
		inputs[0].Value == nil || outputs[0].Value == nil {
		return nil, nil, &InvalidLayerConfigError{Layer: layer,
			Reason: "forward needs one input and one output buffer"}
	}
	return inputs[0].Value, outputs[0].Value, nil
}

// backwardBuffers validates a backward call and extracts the batch value and
// gradient buffers.
func backwardBuffers(b *Backend, layer string, outputs, inputs []Pair) (y, dy, x, dx *tensor.RawTensor, err error) {
	if err := b.checkDevice(); err != nil {
		return nil, nil, nil, nil, err
	}
	if len(inputs) != 1 || len(outputs) != 1 ||
		inputs[0].Value == nil || inputs[0].Grad == nil ||
		outputs[0].Value == nil || outputs[0].Grad == nil {
		return nil, nil, nil, nil, &InvalidLayerConfigError{Layer: layer,
			Reason: "backward needs value and gradient buffers on both sides"}
	}
	return outputs[0].Value, outputs[0].Grad, inputs[0].Value, inputs[0].Grad, nil
}
