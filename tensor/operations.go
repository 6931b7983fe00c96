package tensor

// ArgmaxChannels reduces an NCHW score map to an N x H x W class map.
// Ties resolve to the lowest channel index.
func ArgmaxChannels(t *Tensor) (*Tensor, error) {
	n, c, h, w, err := checkNCHW(t)
	if err != nil {
		return nil, err
	}
	src := t.Float32()
	plane := h * w
	out := make([]int32, n*plane)
	for b := 0; b < n; b++ {
		base := b * c * plane
		for p := 0; p < plane; p++ {
			best := 0
			bestVal := src[base+p]
			for ch := 1; ch < c; ch++ {
				if v := src[base+ch*plane+p]; v > bestVal {
					bestVal = v
					best = ch
				}
			}
			out[b*plane+p] = int32(best)
		}
	}
	return NewTensor([]int{n, h, w}, Int32, out)
}
