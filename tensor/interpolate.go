package tensor

import (
	"fmt"
	"math"
)

// axisWeights holds the two source taps and their weights for every output
// position along one axis.
type axisWeights struct {
	lo, hi []int
	wLo    []float32
	wHi    []float32
}

// bilinearAxis computes half-pixel (align_corners=false) source coordinates,
// clamped at zero the same way common deep-learning frameworks do.
func bilinearAxis(in, out int) axisWeights {
	aw := axisWeights{
		lo:  make([]int, out),
		hi:  make([]int, out),
		wLo: make([]float32, out),
		wHi: make([]float32, out),
	}
	scale := float64(in) / float64(out)
	for o := 0; o < out; o++ {
		src := (float64(o)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		lo := int(math.Floor(src))
		if lo > in-1 {
			lo = in - 1
		}
		hi := lo + 1
		if hi > in-1 {
			hi = in - 1
		}
		lambda := float32(src - float64(lo))
		aw.lo[o] = lo
		aw.hi[o] = hi
		aw.wLo[o] = 1 - lambda
		aw.wHi[o] = lambda
	}
	return aw
}

func checkNCHW(t *Tensor) (n, c, h, w int, err error) {
	if t.DType != Float32 {
		return 0, 0, 0, 0, fmt.Errorf("expected Float32 tensor, got %s", t.DType)
	}
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected 4-d NCHW tensor, got shape %v", t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// ResizeBilinear resamples an NCHW tensor to outH x outW.
func ResizeBilinear(t *Tensor, outH, outW int) (*Tensor, error) {
	n, c, h, w, err := checkNCHW(t)
	if err != nil {
		return nil, err
	}
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", outH, outW)
	}
	if outH == h && outW == w {
		return t.Clone(), nil
	}

	ys := bilinearAxis(h, outH)
	xs := bilinearAxis(w, outW)
	src := t.Float32()
	dst := make([]float32, n*c*outH*outW)

	for plane := 0; plane < n*c; plane++ {
		in := src[plane*h*w : (plane+1)*h*w]
		out := dst[plane*outH*outW : (plane+1)*outH*outW]
		for oy := 0; oy < outH; oy++ {
			rowLo := in[ys.lo[oy]*w : (ys.lo[oy]+1)*w]
			rowHi := in[ys.hi[oy]*w : (ys.hi[oy]+1)*w]
			wy0, wy1 := ys.wLo[oy], ys.wHi[oy]
			for ox := 0; ox < outW; ox++ {
				x0, x1 := xs.lo[ox], xs.hi[ox]
				wx0, wx1 := xs.wLo[ox], xs.wHi[ox]
				out[oy*outW+ox] = wy0*(wx0*rowLo[x0]+wx1*rowLo[x1]) +
					wy1*(wx0*rowHi[x0]+wx1*rowHi[x1])
			}
		}
	}

	return NewTensor([]int{n, c, outH, outW}, Float32, dst)
}

// ResizeBilinearBackward maps a gradient w.r.t. the resized output back onto
// the inH x inW input grid. It is the adjoint of ResizeBilinear.
func ResizeBilinearBackward(gradOut *Tensor, inH, inW int) (*Tensor, error) {
	n, c, outH, outW, err := checkNCHW(gradOut)
	if err != nil {
		return nil, err
	}
	if outH == inH && outW == inW {
		return gradOut.Clone(), nil
	}

	ys := bilinearAxis(inH, outH)
	xs := bilinearAxis(inW, outW)
	g := gradOut.Float32()
	grad := make([]float32, n*c*inH*inW)

	for plane := 0; plane < n*c; plane++ {
		gOut := g[plane*outH*outW : (plane+1)*outH*outW]
		gIn := grad[plane*inH*inW : (plane+1)*inH*inW]
		for oy := 0; oy < outH; oy++ {
			y0, y1 := ys.lo[oy], ys.hi[oy]
			wy0, wy1 := ys.wLo[oy], ys.wHi[oy]
			for ox := 0; ox < outW; ox++ {
				v := gOut[oy*outW+ox]
				if v == 0 {
					continue
				}
				x0, x1 := xs.lo[ox], xs.hi[ox]
				wx0, wx1 := xs.wLo[ox], xs.wHi[ox]
				gIn[y0*inW+x0] += v * wy0 * wx0
				gIn[y0*inW+x1] += v * wy0 * wx1
				gIn[y1*inW+x0] += v * wy1 * wx0
				gIn[y1*inW+x1] += v * wy1 * wx1
			}
		}
	}

	return NewTensor([]int{n, c, inH, inW}, Float32, grad)
}

// ResizeNearest resamples the two trailing dimensions of an Int32 tensor
// (label maps) using nearest-neighbour lookup, so no new class ids appear.
func ResizeNearest(t *Tensor, outH, outW int) (*Tensor, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("nearest resize expects Int32 tensor, got %s", t.DType)
	}
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("nearest resize needs at least 2 dimensions, got shape %v", t.Shape)
	}
	h, w := t.Shape[len(t.Shape)-2], t.Shape[len(t.Shape)-1]
	if h == outH && w == outW {
		return t.Clone(), nil
	}
	planes := t.NumElems / (h * w)

	src := t.Int32()
	dst := make([]int32, planes*outH*outW)
	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)
	for p := 0; p < planes; p++ {
		in := src[p*h*w : (p+1)*h*w]
		out := dst[p*outH*outW : (p+1)*outH*outW]
		for oy := 0; oy < outH; oy++ {
			sy := int(math.Floor(float64(oy) * scaleY))
			if sy > h-1 {
				sy = h - 1
			}
			for ox := 0; ox < outW; ox++ {
				sx := int(math.Floor(float64(ox) * scaleX))
				if sx > w-1 {
					sx = w - 1
				}
				out[oy*outW+ox] = in[sy*w+sx]
			}
		}
	}

	shape := append(append([]int(nil), t.Shape[:len(t.Shape)-2]...), outH, outW)
	return NewTensor(shape, Int32, dst)
}
