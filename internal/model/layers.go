package model

import "math"

// Layer kernels operate on one sample stored as a flat HWC slice. Kernels
// are laid out (ky, kx, in, out) and dense weights (in, out).

// conv2dForward computes a stride-1 SAME convolution of in (h, w, cin) into
// out (h, w, cout).
func conv2dForward(in []float64, h, w, cin int, kernel []float64, k, cout int, bias, out []float64) {
	pad := k / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := out[(y*w+x)*cout : (y*w+x+1)*cout]
			copy(o, bias)
			for ky := 0; ky < k; ky++ {
				iy := y + ky - pad
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					ix := x + kx - pad
					if ix < 0 || ix >= w {
						continue
					}
					px := in[(iy*w+ix)*cin : (iy*w+ix+1)*cin]
					kbase := (ky*k + kx) * cin * cout
					for c, v := range px {
						if v == 0 {
							continue
						}
						row := kernel[kbase+c*cout : kbase+(c+1)*cout]
						for oc, kv := range row {
							o[oc] += v * kv
						}
					}
				}
			}
		}
	}
}

// conv2dBackward accumulates kernel and bias gradients for dOut and, when
// dIn is non-nil, overwrites dIn with the input gradient.
func conv2dBackward(in []float64, h, w, cin int, kernel []float64, k, cout int, dOut, dIn, dKernel, dBias []float64) {
	pad := k / 2
	if dIn != nil {
		clear(dIn)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := dOut[(y*w+x)*cout : (y*w+x+1)*cout]
			if allZero(g) {
				continue
			}
			for oc, gv := range g {
				dBias[oc] += gv
			}
			for ky := 0; ky < k; ky++ {
				iy := y + ky - pad
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					ix := x + kx - pad
					if ix < 0 || ix >= w {
						continue
					}
					off := (iy*w + ix) * cin
					kbase := (ky*k + kx) * cin * cout
					for c := 0; c < cin; c++ {
						v := in[off+c]
						row := kernel[kbase+c*cout : kbase+(c+1)*cout]
						drow := dKernel[kbase+c*cout : kbase+(c+1)*cout]
						s := 0.0
						for oc, gv := range g {
							drow[oc] += v * gv
							s += row[oc] * gv
						}
						if dIn != nil {
							dIn[off+c] += s
						}
					}
				}
			}
		}
	}
}

// maxPoolForward applies a 2x2 stride-2 max pool to in (h, w, c). argmax
// records the input offset that won each output cell.
func maxPoolForward(in []float64, h, w, c int, out []float64, argmax []int) {
	oh, ow := h/2, w/2
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			for ch := 0; ch < c; ch++ {
				best := math.Inf(-1)
				bestAt := 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						at := ((2*oy+dy)*w+(2*ox+dx))*c + ch
						if in[at] > best {
							best = in[at]
							bestAt = at
						}
					}
				}
				i := (oy*ow+ox)*c + ch
				out[i] = best
				argmax[i] = bestAt
			}
		}
	}
}

// maxPoolBackward routes dOut to the winning inputs, overwriting dIn.
func maxPoolBackward(dOut []float64, argmax []int, dIn []float64) {
	clear(dIn)
	for i, g := range dOut {
		dIn[argmax[i]] += g
	}
}

func reluForward(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// reluBackward zeroes gradients where the activation out was clamped.
func reluBackward(out, grad []float64) {
	for i, v := range out {
		if v <= 0 {
			grad[i] = 0
		}
	}
}

// denseForward computes out = in*W + b.
func denseForward(in, weights, bias, out []float64) {
	nout := len(out)
	copy(out, bias)
	for i, v := range in {
		if v == 0 {
			continue
		}
		row := weights[i*nout : (i+1)*nout]
		for o, wv := range row {
			out[o] += v * wv
		}
	}
}

// denseBackward accumulates weight and bias gradients and, when dIn is
// non-nil, overwrites it with the input gradient.
func denseBackward(in, weights, dOut, dIn, dWeights, dBias []float64) {
	nout := len(dOut)
	for o, g := range dOut {
		dBias[o] += g
	}
	for i, v := range in {
		row := weights[i*nout : (i+1)*nout]
		drow := dWeights[i*nout : (i+1)*nout]
		s := 0.0
		for o, g := range dOut {
			drow[o] += v * g
			s += row[o] * g
		}
		if dIn != nil {
			dIn[i] = s
		}
	}
}

// softmax writes a numerically stable softmax of logits into out.
func softmax(logits, out []float64) {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		out[i] = e
		sum += e
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
}

func argmax(x []float64) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

func allZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
