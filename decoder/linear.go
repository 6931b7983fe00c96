package decoder

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/optimizer"
	"github.com/tsawler/cxr-probe/tensor"
)

// LinearDecoder is a 1x1 convolution over the patch grid: every patch
// embedding is projected to class logits independently.
type LinearDecoder struct {
	embedDim   int
	numClasses int
	weight     *optimizer.Param // [C, D]
	bias       *optimizer.Param // [C]
}

// NewLinear creates a linear head with N(0, 0.01) weights and zero bias.
func NewLinear(embedDim, numClasses int, seed int64) (*LinearDecoder, error) {
	if embedDim <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("invalid linear decoder size: embedDim=%d numClasses=%d", embedDim, numClasses)
	}
	rng := rand.New(rand.NewSource(seed))
	w := make([]float32, numClasses*embedDim)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * 0.01)
	}
	return &LinearDecoder{
		embedDim:   embedDim,
		numClasses: numClasses,
		weight:     optimizer.NewParam("weight", []int{numClasses, embedDim}, w),
		bias:       optimizer.NewParam("bias", []int{numClasses}, make([]float32, numClasses)),
	}, nil
}

func (l *LinearDecoder) Type() Type      { return Linear }
func (l *LinearDecoder) NumClasses() int { return l.numClasses }

func (l *LinearDecoder) Params() []*optimizer.Param {
	return []*optimizer.Param{l.weight, l.bias}
}

func (l *LinearDecoder) checkFeatures(features *tensor.Tensor) (b, plane int, err error) {
	if features == nil || features.DType != tensor.Float32 || len(features.Shape) != 4 {
		return 0, 0, fmt.Errorf("linear decoder expects [B, D, h, w] float32 features, got %v", features)
	}
	if features.Shape[1] != l.embedDim {
		return 0, 0, fmt.Errorf("linear decoder expects %d channels, got %d", l.embedDim, features.Shape[1])
	}
	return features.Shape[0], features.Shape[2] * features.Shape[3], nil
}

// Forward computes logits[b] = W x F[b] + bias for each batch element.
func (l *LinearDecoder) Forward(features *tensor.Tensor) (*tensor.Tensor, error) {
	b, plane, err := l.checkFeatures(features)
	if err != nil {
		return nil, err
	}
	d, c := l.embedDim, l.numClasses
	in := features.Float32()
	out := make([]float32, b*c*plane)

	for n := 0; n < b; n++ {
		dst := out[n*c*plane : (n+1)*c*plane]
		tensor.MatMulInto(dst, l.weight.Data, in[n*d*plane:(n+1)*d*plane], c, d, plane, false)
		for ch := 0; ch < c; ch++ {
			bv := l.bias.Data[ch]
			row := dst[ch*plane : (ch+1)*plane]
			for i := range row {
				row[i] += bv
			}
		}
	}
	return tensor.NewTensor([]int{b, c, features.Shape[2], features.Shape[3]}, tensor.Float32, out)
}

// Backward accumulates dW += G[b] x F[b]^T and db += sum(G[b]) over the
// batch.
func (l *LinearDecoder) Backward(features, gradLogits *tensor.Tensor) error {
	b, plane, err := l.checkFeatures(features)
	if err != nil {
		return err
	}
	d, c := l.embedDim, l.numClasses
	if gradLogits == nil || len(gradLogits.Shape) != 4 || gradLogits.Shape[0] != b ||
		gradLogits.Shape[1] != c || gradLogits.Shape[2]*gradLogits.Shape[3] != plane {
		return fmt.Errorf("gradient shape %v does not match logits [%d, %d, %v]", gradLogits, b, c, features.Shape[2:])
	}
	in := features.Float32()
	g := gradLogits.Float32()

	for n := 0; n < b; n++ {
		gn := g[n*c*plane : (n+1)*c*plane]
		tensor.MatMulTransBInto(l.weight.Grad, gn, in[n*d*plane:(n+1)*d*plane], c, plane, d, true)
		for ch := 0; ch < c; ch++ {
			var sum float32
			for _, v := range gn[ch*plane : (ch+1)*plane] {
				sum += v
			}
			l.bias.Grad[ch] += sum
		}
	}
	return nil
}

func (l *LinearDecoder) State() []checkpoints.WeightTensor {
	out := make([]checkpoints.WeightTensor, 0, 2)
	for _, p := range l.Params() {
		out = append(out, checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
			Layer: string(Linear),
			Type:  p.Name,
		})
	}
	return out
}

// Load copies weights into the existing parameters so optimizer references
// stay valid.
func (l *LinearDecoder) Load(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, p := range l.Params() {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no %s for linear decoder", p.Name)
		}
		if len(w.Data) != len(p.Data) {
			return fmt.Errorf("%s: checkpoint has %d values, decoder has %d", p.Name, len(w.Data), len(p.Data))
		}
		copy(p.Data, w.Data)
	}
	return nil
}
