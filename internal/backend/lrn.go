package backend

import (
	"github.com/kiln-ml/kiln/internal/dnn"
)

// lrnLayer normalizes across channels. Input and output volumes are
// identical, so one tensor descriptor serves both sides.
type lrnLayer struct {
	backend *Backend
	name    string

	desc    dnn.TensorDesc
	lrnDesc dnn.LRNDesc
}

func (b *Backend) newLRNLayer(scoped *Tracker, spec LayerSpec, batchSize int) (ComputeLayer, error) {
	cfg := spec.LRN
	if cfg == nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: "no lrn config"}
	}

	desc, err := b.lib.NewTensorDesc(b.dtype, batchSize,
		spec.In.Channels, spec.In.Height, spec.In.Width)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(desc)

	lrnDesc, err := b.lib.NewLRNDesc(cfg.Window, cfg.Alpha, cfg.Beta, cfg.K)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(lrnDesc)

	return &lrnLayer{
		backend: b,
		name:    spec.Name,
		desc:    desc,
		lrnDesc: lrnDesc,
	}, nil
}

func (l *lrnLayer) Kind() LayerKind { return LayerLRN }

func (l *lrnLayer) Name() string { return l.name }

func (l *lrnLayer) Forward(params, inputs, outputs []Pair) error {
	x, y, err := forwardBuffers(l.backend, l.name, inputs, outputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.LRNForward(l.backend.stream, l.lrnDesc,
		1, l.desc, x, 0, l.desc, y)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "lrn forward", Status: status}
	}
	return nil
}

func (l *lrnLayer) Backward(params, outputs, inputs []Pair) error {
	y, dy, x, dx, err := backwardBuffers(l.backend, l.name, outputs, inputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.LRNBackward(l.backend.stream, l.lrnDesc,
		1, l.desc, y, l.desc, dy, l.desc, x, 0, l.desc, dx)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "lrn backward", Status: status}
	}
	return nil
}
