package host

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Built-in routine names. The backend loads these into its routine table at
// creation time; argument conventions are part of the routine contract:
//
//	dropout_bernoulli: args = [mult *RawTensor, prob float64, rand *RawTensor]
//	dropout_gaussian:  args = [mult *RawTensor, rand *RawTensor]
const (
	RoutineDropoutBernoulli = "dropout_bernoulli"
	RoutineDropoutGaussian  = "dropout_gaussian"
)

func registerBuiltins(d *Driver) {
	d.Register(RoutineDropoutBernoulli, tensor.Float32, bernoulliKernel[float32])
	d.Register(RoutineDropoutBernoulli, tensor.Float64, bernoulliKernel[float64])
	d.Register(RoutineDropoutGaussian, tensor.Float32, gaussianKernel[float32])
	d.Register(RoutineDropoutGaussian, tensor.Float64, gaussianKernel[float64])
}

// bernoulliKernel turns uniform randoms in [0,1) into an inverted-dropout
// mask: entries below prob are zeroed, survivors are scaled by 1/(1-prob) so
// the mask preserves the expected activation magnitude.
func bernoulliKernel[T tensor.Float](n int, args []any) error {
	if len(args) != 3 {
		return fmt.Errorf("dropout_bernoulli: want 3 args, got %d", len(args))
	}
	mult, ok := args[0].(*tensor.RawTensor)
	if !ok {
		return fmt.Errorf("dropout_bernoulli: arg 0 is not a buffer")
	}
	prob, ok := args[1].(float64)
	if !ok {
		return fmt.Errorf("dropout_bernoulli: arg 1 is not a float64")
	}
	rnd, ok := args[2].(*tensor.RawTensor)
	if !ok {
		return fmt.Errorf("dropout_bernoulli: arg 2 is not a buffer")
	}
	if n > mult.NumElements() || n > rnd.NumElements() {
		return fmt.Errorf("dropout_bernoulli: grid size %d exceeds buffer length", n)
	}

	m := tensor.View[T](mult)
	r := tensor.View[T](rnd)
	p := T(prob)
	scale := T(1.0 / (1.0 - prob))
	for i := 0; i < n; i++ {
		if r[i] < p {
			m[i] = 0
		} else {
			m[i] = scale
		}
	}
	return nil
}

// gaussianKernel shifts caller-provided zero-mean noise to a unit-mean
// multiplicative mask: mult[i] = 1 + rand[i]. The noise scale is chosen by
// whoever filled the rand buffer.
func gaussianKernel[T tensor.Float](n int, args []any) error {
	if len(args) != 2 {
		return fmt.Errorf("dropout_gaussian: want 2 args, got %d", len(args))
	}
	mult, ok := args[0].(*tensor.RawTensor)
	if !ok {
		return fmt.Errorf("dropout_gaussian: arg 0 is not a buffer")
	}
	rnd, ok := args[1].(*tensor.RawTensor)
	if !ok {
		return fmt.Errorf("dropout_gaussian: arg 1 is not a buffer")
	}
	if n > mult.NumElements() || n > rnd.NumElements() {
		return fmt.Errorf("dropout_gaussian: grid size %d exceeds buffer length", n)
	}

	m := tensor.View[T](mult)
	r := tensor.View[T](rnd)
	for i := 0; i < n; i++ {
		m[i] = 1 + r[i]
	}
	return nil
}
