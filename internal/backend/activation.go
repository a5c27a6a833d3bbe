package backend

import (
	"github.com/kiln-ml/kiln/internal/dnn"
)

// activationLayer applies a pointwise nonlinearity. The spatial layout is
// irrelevant to a pointwise op, so the whole batch is described as a single
// flat (1, 1, 1, batch*size) volume.
type activationLayer struct {
	backend *Backend
	name    string

	desc    dnn.TensorDesc
	actDesc dnn.ActivationDesc
}

func activationMode(mode string) (dnn.ActivationMode, bool) {
	switch mode {
	case "relu":
		return dnn.ActReLU, true
	case "sigmoid":
		return dnn.ActSigmoid, true
	case "tanh":
		return dnn.ActTanh, true
	default:
		return 0, false
	}
}

func (b *Backend) newActivationLayer(scoped *Tracker, spec LayerSpec, batchSize int) (ComputeLayer, error) {
	cfg := spec.Activation
	if cfg == nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: "no activation config"}
	}
	mode, ok := activationMode(cfg.Mode)
	if !ok {
		return nil, &InvalidLayerConfigError{Layer: spec.Name,
			Reason: "unknown activation mode " + cfg.Mode}
	}

	desc, err := b.lib.NewTensorDesc(b.dtype, 1, 1, 1, batchSize*spec.In.Size())
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(desc)

	actDesc, err := b.lib.NewActivationDesc(mode)
	if err != nil {
		return nil, &InvalidLayerConfigError{Layer: spec.Name, Reason: err.Error()}
	}
	scoped.Register(actDesc)

	return &activationLayer{
		backend: b,
		name:    spec.Name,
		desc:    desc,
		actDesc: actDesc,
	}, nil
}

func (l *activationLayer) Kind() LayerKind { return LayerActivation }

func (l *activationLayer) Name() string { return l.name }

func (l *activationLayer) Forward(params, inputs, outputs []Pair) error {
	x, y, err := forwardBuffers(l.backend, l.name, inputs, outputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.ActivationForward(l.backend.stream, l.actDesc,
		1, l.desc, x, 0, l.desc, y)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "activation forward", Status: status}
	}
	return nil
}

func (l *activationLayer) Backward(params, outputs, inputs []Pair) error {
	y, dy, x, dx, err := backwardBuffers(l.backend, l.name, outputs, inputs)
	if err != nil {
		return err
	}
	status := l.backend.lib.ActivationBackward(l.backend.stream, l.actDesc,
		1, l.desc, y, l.desc, dy, l.desc, x, 0, l.desc, dx)
	if status != dnn.StatusSuccess {
		return &LibraryError{Op: "activation backward", Status: status}
	}
	return nil
}
