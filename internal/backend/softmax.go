package backend

import (
	"github.com/kiln-ml/kiln/internal/dnn"
)

// softmaxLayer normalizes each sample across channels. The per-sample
// element count maps onto the channel dimension of a (batch, size, 1, 1)
// descriptor so the library's channel softmax covers the whole sample.
type softmaxLayer struct {
	backend *Backend
	name    string

	desc dnn.TensorDesc
}

func (b *Backend) newSoftmaxLayer(scoped *Tracker, spec LayerSpec, batchSize int) (ComputeLayer, error) {
	desc, err := b.lib.NewTensorDesc(b.dtype, batchSize, spec.In.Size(), 1, 1)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(desc)

	return &softmaxLayer{
		backend: b,
		name:    spec.Name,
		desc:    desc,
	}, nil
}

func (l *softmaxLayer) Kind() LayerKind { return LayerSoftmax }

func (l *softmaxLayer) Name() string { return l.name }

func (l *softmaxLayer) Forward(params, inputs, outputs []Pair) error {
	x, y, err := forwardBuffers(l.backend, l.name, inputs, outputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.SoftmaxForward(l.backend.stream,
		1, l.desc, x, 0, l.desc, y)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "softmax forward", Status: status}
	}
	return nil
}

func (l *softmaxLayer) Backward(params, outputs, inputs []Pair) error {
	y, dy, _, dx, err := backwardBuffers(l.backend, l.name, outputs, inputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.SoftmaxBackward(l.backend.stream,
		1, l.desc, y, l.desc, dy, 0, l.desc, dx)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "softmax backward", Status: status}
	}
	return nil
}
