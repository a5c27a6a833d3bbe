package dnnref

import (
	"runtime"

	"github.com/kiln-ml/kiln/internal/dnn"
	"github.com/kiln-ml/kiln/internal/driver"
	"github.com/kiln-ml/kiln/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// PoolingForward enqueues y = alpha*pool(x) + beta*y.
//
// Max pooling ignores padding positions; average pooling divides by the full
// window size (include-pad) or by the number of in-bounds positions
// (exclude-pad).
func (l *Library) PoolingForward(s driver.Stream, pd dnn.PoolingDesc,
	alpha float64, xd dnn.TensorDesc, x *tensor.RawTensor,
	beta float64, yd dnn.TensorDesc, y *tensor.RawTensor) dnn.Status {
	if checkBuffer(xd, x) != nil || checkBuffer(yd, y) != nil {
		return dnn.StatusBadParam
	}
	if xd.DType() != yd.DType() {
		return dnn.StatusBadParam
	}
	n, c, h, w, err := l.PoolingOutputDims(pd, xd)
	if err != nil {
		return dnn.StatusBadParam
	}
	yn, yc, yh, yw := yd.Dims()
	if yn != n || yc != c || yh != h || yw != w {
		return dnn.StatusBadParam
	}

	s.Enqueue(func() error {
		switch xd.DType() {
		case tensor.Float32:
			poolForward[float32](pd, xd, x, yd, y, alpha, beta)
		default:
			poolForward[float64](pd, xd, x, yd, y, alpha, beta)
		}
		return nil
	})
	return dnn.StatusSuccess
}

// PoolingBackward enqueues dx = alpha*poolGrad(y, dy, x) + beta*dx.
//
// Max pooling routes each output gradient to the position that produced the
// forward maximum (first maximum wins on ties, matching the forward scan
// order). Average pooling spreads each output gradient uniformly over its
// window.
func (l *Library) PoolingBackward(s driver.Stream, pd dnn.PoolingDesc,
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
	n, c, h, w, err := l.PoolingOutputDims(pd, xd)
	if err != nil {
		return dnn.StatusBadParam
	}
	yn, yc, yh, yw := yd.Dims()
	if yn != n || yc != c || yh != h || yw != w {
		return dnn.StatusBadParam
	}

	s.Enqueue(func() error {
		switch xd.DType() {
		case tensor.Float32:
			poolBackward[float32](pd, xd, x, yd, dy, dx, alpha, beta)
		default:
			poolBackward[float64](pd, xd, x, yd, dy, dx, alpha, beta)
		}
		return nil
	})
	return dnn.StatusSuccess
}

func poolForward[T tensor.Float](pd dnn.PoolingDesc, xd dnn.TensorDesc, x *tensor.RawTensor,
	yd dnn.TensorDesc, y *tensor.RawTensor, alpha, beta float64) {
	N, C, H, W := xd.Dims()
	_, _, HOut, WOut := yd.Dims()
	winH, winW := pd.Window()
	padH, padW := pd.Padding()
	strideH, strideW := pd.Stride()
	mode := pd.Mode()

	xData := tensor.View[T](x)
	yData := tensor.View[T](y)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < N; n++ {
		n := n
		g.Go(func() error {
			res := make([]T, C*HOut*WOut)
			for c := 0; c < C; c++ {
				plane := xData[(n*C+c)*H*W : (n*C+c+1)*H*W]
				for oh := 0; oh < HOut; oh++ {
					for ow := 0; ow < WOut; ow++ {
						hStart := oh*strideH - padH
						wStart := ow*strideW - padW

						var acc T
						count := 0
						first := true
						for kh := 0; kh < winH; kh++ {
							h := hStart + kh
							if h < 0 || h >= H {
								continue
							}
							row := plane[h*W : (h+1)*W]
							for kw := 0; kw < winW; kw++ {
								w := wStart + kw
								if w < 0 || w >= W {
									continue
								}
								v := row[w]
								count++
								switch mode {
								case dnn.PoolMax:
									if first || v > acc {
										acc = v
									}
									first = false
								default:
									acc += v
								}
							}
						}
						switch mode {
						case dnn.PoolAvgIncludePad:
							acc /= T(winH * winW)
						case dnn.PoolAvgExcludePad:
							if count > 0 {
								acc /= T(count)
							}
						}
						res[(c*HOut+oh)*WOut+ow] = acc
					}
				}
			}
			blend(yData[n*C*HOut*WOut:(n+1)*C*HOut*WOut], res, alpha, beta)
			return nil
		})
	}
	_ = g.Wait()
}

func poolBackward[T tensor.Float](pd dnn.PoolingDesc, xd dnn.TensorDesc, x *tensor.RawTensor,
	yd dnn.TensorDesc, dy, dx *tensor.RawTensor, alpha, beta float64) {
	N, C, H, W := xd.Dims()
	_, _, HOut, WOut := yd.Dims()
	winH, winW := pd.Window()
	padH, padW := pd.Padding()
	strideH, strideW := pd.Stride()
	mode := pd.Mode()

	xData := tensor.View[T](x)
	dyData := tensor.View[T](dy)
	dxData := tensor.View[T](dx)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < N; n++ {
		n := n
		g.Go(func() error {
			res := make([]T, C*H*W)
			for c := 0; c < C; c++ {
				plane := xData[(n*C+c)*H*W : (n*C+c+1)*H*W]
				grad := res[c*H*W : (c+1)*H*W]
				for oh := 0; oh < HOut; oh++ {
					for ow := 0; ow < WOut; ow++ {
						hStart := oh*strideH - padH
						wStart := ow*strideW - padW
						gv := dyData[((n*C+c)*HOut+oh)*WOut+ow]

						switch mode {
						case dnn.PoolMax:
							// Recompute the argmax in forward scan order.
							maxIdx := -1
							var maxVal T
							for kh := 0; kh < winH; kh++ {
								h := hStart + kh
								if h < 0 || h >= H {
									continue
								}
								for kw := 0; kw < winW; kw++ {
									w := wStart + kw
									if w < 0 || w >= W {
										continue
									}
									if v := plane[h*W+w]; maxIdx < 0 || v > maxVal {
										maxVal = v
										maxIdx = h*W + w
									}
								}
							}
							if maxIdx >= 0 {
								grad[maxIdx] += gv
							}
						default:
							count := 0
							if mode == dnn.PoolAvgExcludePad {
								for kh := 0; kh < winH; kh++ {
									h := hStart + kh
									if h < 0 || h >= H {
										continue
									}
									for kw := 0; kw < winW; kw++ {
										if w := wStart + kw; w >= 0 && w < W {
											count++
										}
									}
								}
							} else {
								count = winH * winW
							}
							if count == 0 {
								continue
							}
							share := gv / T(count)
							for kh := 0; kh < winH; kh++ {
								h := hStart + kh
								if h < 0 || h >= H {
									continue
								}
								for kw := 0; kw < winW; kw++ {
									w := wStart + kw
									if w < 0 || w >= W {
										continue
									}
									grad[h*W+w] += share
								}
							}
						}
					}
				}
			}
			blend(dxData[n*C*H*W:(n+1)*C*H*W], res, alpha, beta)
			return nil
		})
	}
	_ = g.Wait()
}
