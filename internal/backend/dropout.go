package backend

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// PrepareBernoulliDropout turns uniform random draws into a bernoulli
// dropout multiplier: mult[i] = 0 where rand[i] < prob, and 1/(1-prob)
// elsewhere, so surviving units are rescaled to keep the expected
// activation unchanged. The kernel precision follows the mult buffer, not
// the backend's preferred precision. Work is enqueued on the backend's
// stream.
func (b *Backend) PrepareBernoulliDropout(mult *tensor.RawTensor, prob float64, rnd *tensor.RawTensor, n int) error {
	if err := b.checkDevice(); err != nil {
		return err
	}
	if mult == nil || rnd == nil {
		return fmt.Errorf("backend: bernoulli dropout: nil buffer")
	}
	if prob < 0 || prob >= 1 {
		return fmt.Errorf("backend: bernoulli dropout: probability %v out of [0,1)", prob)
	}
	if mult.DType() != rnd.DType() {
		return fmt.Errorf("backend: bernoulli dropout: mult is %s but rand is %s",
			mult.DType(), rnd.DType())
	}
	r, err := b.routine("dropout_bernoulli", mult.DType())
	if err != nil {
		return err
	}
	return r.Launch(b.stream, n, mult, prob, rnd)
}

// PrepareGaussianDropout turns standard normal draws into a gaussian
// dropout multiplier: mult[i] = 1 + rand[i]. The kernel precision follows
// the mult buffer. Work is enqueued on the backend's stream.
func (b *Backend) PrepareGaussianDropout(mult, rnd *tensor.RawTensor, n int) error {
	if err := b.checkDevice(); err != nil {
		return err
	}
	if mult == nil || rnd == nil {
		return fmt.Errorf("backend: gaussian dropout: nil buffer")
	}
	if mult.DType() != rnd.DType() {
		return fmt.Errorf("backend: gaussian dropout: mult is %s but rand is %s",
			mult.DType(), rnd.DType())
	}
	r, err := b.routine("dropout_gaussian", mult.DType())
	if err != nil {
		return err
	}
	return r.Launch(b.stream, n, mult, rnd)
}
