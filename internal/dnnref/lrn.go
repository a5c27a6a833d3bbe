package dnnref

import (
	"math"
	"runtime"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/tensor"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// LRNForward enqueues cross-channel local response normalization:
//
//	y[c] = x[c] * (k + alpha/n * sum_{c' in window(c)} x[c']^2)^(-beta)
//
// with window(c) covering n channels centered on c (clipped at the channel
// boundaries). Alpha arrives unscaled and is divided by the window width
// here, matching the cudnn convention; callers must not pre-divide.
func (l *Library) LRNForward(s driver.Stream, ld dnn.LRNDesc,
	alpha float64, xd dnn.TensorDesc, x *tensor.RawTensor,
	beta float64, yd dnn.TensorDesc, y *tensor.RawTensor) dnn.Status {
	if checkBuffer(xd, x) != nil || checkBuffer(yd, y) != nil {
		return dnn.StatusBadParam
	}
	if !sameDims(xd, yd) {
		return dnn.StatusBadParam
	}

	s.Enqueue(func() error {
		switch xd.DType() {
		case tensor.Float32:
			lrnForward[float32](ld, xd, x, y, alpha, beta)
		default:
			lrnForward[float64](ld, xd, x, y, alpha, beta)
		}
		return nil
	})
	return dnn.StatusSuccess
}

// LRNBackward enqueues the LRN input gradient:
//
//	dx[c] = denom[c]^(-beta) * dy[c]
//	      - 2*(alpha/n)*beta * x[c] * sum_{c': c in window(c')} dy[c']*y[c']/denom[c']
func (l *Library) LRNBackward(s driver.Stream, ld dnn.LRNDesc,
	alpha float64, yd dnn.TensorDesc, y *tensor.RawTensor,
	dyd dnn.TensorDesc, dy *tensor.RawTensor,
	xd dnn.TensorDesc, x *tensor.RawTensor,
	beta float64, dxd dnn.TensorDesc, dx *tensor.RawTensor) dnn.Status {
	for _, pair := range []struct {
		d dnn.TensorDesc
		b *tensor.RawTensor
	}{{yd, y}, {dyd, dy}, {xd, x}, {dxd, dx}} {
		if checkBuffer(pair.d, pair.b) != nil {
			return dnn.StatusBadParam
		}
	}
	if !sameDims(xd, yd) || !sameDims(xd, dxd) || !sameDims(yd, dyd) {
		return dnn.StatusBadParam
	}

	s.Enqueue(func() error {
		switch xd.DType() {
		case tensor.Float32:
			lrnBackward[float32](ld, xd, x, y, dy, dx, alpha, beta)
		default:
			lrnBackward[float64](ld, xd, x, y, dy, dx, alpha, beta)
		}
		return nil
	})
	return dnn.StatusSuccess
}

func sameDims(a, b dnn.TensorDesc) bool {
	an, ac, ah, aw := a.Dims()
	bn, bc, bh, bw := b.Dims()
	return an == bn && ac == bc && ah == bh && aw == bw && a.DType() == b.DType()
}

// windowBounds returns the channel window [lo, hi] for center c, clipped to
// [0, C-1]. For even windows the extra channel sits above the center.
func windowBounds(c, C, window int) (lo, hi int) {
	below := (window - 1) / 2
	lo = c - below
	hi = lo + window - 1
	if lo < 0 {
		lo = 0
	}
	if hi > C-1 {
		hi = C - 1
	}
	return lo, hi
}

// channelSquares fills sq with x^2 for one spatial position across all
// channels, and cum with its cumulative sum so window sums become two reads.
// Accumulation is in float64 regardless of buffer precision.
func channelSquares[T tensor.Float](data []T, base, stride, C int, sq, cum []float64) {
	for c := 0; c < C; c++ {
		v := float64(data[base+c*stride])
		sq[c] = v * v
	}
	floats.CumSum(cum, sq)
}

func lrnForward[T tensor.Float](ld dnn.LRNDesc, xd dnn.TensorDesc, x, y *tensor.RawTensor, alpha, beta float64) {
	N, C, H, W := xd.Dims()
	window := ld.Window()
	ascaled := ld.Alpha() / float64(window)
	k := ld.K()
	lbeta := ld.Beta()

	xData := tensor.View[T](x)
	yData := tensor.View[T](y)
	spatial := H * W

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < N; n++ {
		n := n
		g.Go(func() error {
			res := make([]T, C*spatial)
			sq := make([]float64, C)
			cum := make([]float64, C)
			sample := xData[n*C*spatial : (n+1)*C*spatial]
			for p := 0; p < spatial; p++ {
				channelSquares(sample, p, spatial, C, sq, cum)
				for c := 0; c < C; c++ {
					lo, hi := windowBounds(c, C, window)
					sum := cum[hi]
					if lo > 0 {
						sum -= cum[lo-1]
					}
					denom := math.Pow(k+ascaled*sum, -lbeta)
					res[c*spatial+p] = T(float64(sample[c*spatial+p]) * denom)
				}
			}
			blend(yData[n*C*spatial:(n+1)*C*spatial], res, alpha, beta)
			return nil
		})
	}
	_ = g.Wait()
}

func lrnBackward[T tensor.Float](ld dnn.LRNDesc, xd dnn.TensorDesc, x, y, dy, dx *tensor.RawTensor, alpha, beta float64) {
	N, C, H, W := xd.Dims()
	window := ld.Window()
	ascaled := ld.Alpha() / float64(window)
	k := ld.K()
	lbeta := ld.Beta()

	xData := tensor.View[T](x)
	yData := tensor.View[T](y)
	dyData := tensor.View[T](dy)
	dxData := tensor.View[T](dx)
	spatial := H * W

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < N; n++ {
		n := n
		g.Go(func() error {
			res := make([]T, C*spatial)
			sq := make([]float64, C)
			cum := make([]float64, C)
			ratio := make([]float64, C)
			ratioCum := make([]float64, C)
			off := n * C * spatial
			sampleX := xData[off : off+C*spatial]
			sampleY := yData[off : off+C*spatial]
			sampleDY := dyData[off : off+C*spatial]
			for p := 0; p < spatial; p++ {
				channelSquares(sampleX, p, spatial, C, sq, cum)

				// ratio[c'] = dy[c']*y[c']/denom[c'], then a transposed
				// window sum: c contributes to every c' whose window
				// contains c.
				for c := 0; c < C; c++ {
					lo, hi := windowBounds(c, C, window)
					sum := cum[hi]
					if lo > 0 {
						sum -= cum[lo-1]
					}
					denom := k + ascaled*sum
					ratio[c] = float64(sampleDY[c*spatial+p]) * float64(sampleY[c*spatial+p]) / denom
				}
				floats.CumSum(ratioCum, ratio)

				below := (window - 1) / 2
				above := window - 1 - below
				for c := 0; c < C; c++ {
					lo, hi := windowBounds(c, C, window)
					sum := cum[hi]
					if lo > 0 {
						sum -= cum[lo-1]
					}
					denom := k + ascaled*sum

					tLo := c - above
					tHi := c + below
					if tLo < 0 {
						tLo = 0
					}
					if tHi > C-1 {
						tHi = C - 1
					}
					rsum := ratioCum[tHi]
					if tLo > 0 {
						rsum -= ratioCum[tLo-1]
					}

					direct := math.Pow(denom, -lbeta) * float64(sampleDY[c*spatial+p])
					scaled := 2 * ascaled * lbeta * float64(sampleX[c*spatial+p]) * rsum
					res[c*spatial+p] = T(direct - scaled)
				}
			}
			blend(dxData[off:off+C*spatial], res, alpha, beta)
			return nil
		})
	}
	_ = g.Wait()
}
