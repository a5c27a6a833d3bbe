package dnnref

import (
	"math"
	"runtime"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// SoftmaxForward enqueues y = alpha*softmax(x) + beta*y, normalizing across
// the channel dimension for every (batch, h, w) position.
func (l *Library) SoftmaxForward(s driver.Stream,
	alpha float64, xd dnn.TensorDesc, x *tensor.RawTensor,
	beta float64, yd dnn.TensorDesc, y *tensor.RawTensor) dnn.Status {
	if checkBuffer(xd, x) != nil || checkBuffer(yd, y) != nil || !sameDims(xd, yd) {
		return dnn.StatusBadParam
	}

	s.Enqueue(func() error {
		switch xd.DType() {
		case tensor.Float32:
			softmaxForward[float32](xd, x, y, alpha, beta)
		default:
			softmaxForward[float64](xd, x, y, alpha, beta)
		}
		return nil
	})
	return dnn.StatusSuccess
}

// SoftmaxBackward enqueues dx = alpha*(y*(dy - sum(dy*y))) + beta*dx, the
// softmax Jacobian-vector product across the channel dimension.
func (l *Library) SoftmaxBackward(s driver.Stream,
	alpha float64, yd dnn.TensorDesc, y *tensor.RawTensor,
	dyd dnn.TensorDesc, dy *tensor.RawTensor,
	beta float64, dxd dnn.TensorDesc, dx *tensor.RawTensor) dnn.Status {
	if checkBuffer(yd, y) != nil || checkBuffer(dyd, dy) != nil || checkBuffer(dxd, dx) != nil {
		return dnn.StatusBadParam
	}
	if !sameDims(yd, dyd) || !sameDims(yd, dxd) {
		return dnn.StatusBadParam
	}

	s.Enqueue(func() error {
		switch yd.DType() {
		case tensor.Float32:
			softmaxBackward[float32](yd, y, dy, dx, alpha, beta)
		default:
			softmaxBackward[float64](yd, y, dy, dx, alpha, beta)
		}
		return nil
	})
	return dnn.StatusSuccess
}

func softmaxForward[T tensor.Float](xd dnn.TensorDesc, x, y *tensor.RawTensor, alpha, beta float64) {
	N, C, H, W := xd.Dims()
	spatial := H * W
	xData := tensor.View[T](x)
	yData := tensor.View[T](y)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < N; n++ {
		n := n
		g.Go(func() error {
			res := make([]T, C*spatial)
			sample := xData[n*C*spatial : (n+1)*C*spatial]
			for p := 0; p < spatial; p++ {
				maxVal := float64(sample[p])
				for c := 1; c < C; c++ {
					if v := float64(sample[c*spatial+p]); v > maxVal {
						maxVal = v
					}
				}
				var sum float64
				for c := 0; c < C; c++ {
					e := math.Exp(float64(sample[c*spatial+p]) - maxVal)
					res[c*spatial+p] = T(e)
					sum += e
				}
				for c := 0; c < C; c++ {
					res[c*spatial+p] = T(float64(res[c*spatial+p]) / sum)
				}
			}
			blend(yData[n*C*spatial:(n+1)*C*spatial], res, alpha, beta)
			return nil
		})
	}
	_ = g.Wait()
}

func softmaxBackward[T tensor.Float](yd dnn.TensorDesc, y, dy, dx *tensor.RawTensor, alpha, beta float64) {
	N, C, H, W := yd.Dims()
	spatial := H * W
	yData := tensor.View[T](y)
	dyData := tensor.View[T](dy)
	dxData := tensor.View[T](dx)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < N; n++ {
		n := n
		g.Go(func() error {
			res := make([]T, C*spatial)
			off := n * C * spatial
			sampleY := yData[off : off+C*spatial]
			sampleDY := dyData[off : off+C*spatial]
			for p := 0; p < spatial; p++ {
				var dot float64
				for c := 0; c < C; c++ {
					dot += float64(sampleDY[c*spatial+p]) * float64(sampleY[c*spatial+p])
				}
				for c := 0; c < C; c++ {
					i := c*spatial + p
					res[i] = T(float64(sampleY[i]) * (float64(sampleDY[i]) - dot))
				}
			}
			blend(dxData[off:off+C*spatial], res, alpha, beta)
			return nil
		})
	}
	_ = g.Wait()
}
