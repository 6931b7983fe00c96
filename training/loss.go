package training

import (
	"fmt"
	"math"

	"github.com/tsawler/cxr-probe/tensor"
)

// CrossEntropyLoss is per-pixel softmax cross entropy for dense
// classification. Pixels whose target is outside [0, numClasses) are
// ignored: they add nothing to the loss, the gradient or the mean's
// denominator.
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// LossResult is the value of the loss and its gradient w.r.t. the logits.
type LossResult struct {
	Value float64
	Grad  *tensor.Tensor
	Valid int // number of pixels that contributed
}

// Compute evaluates the loss and its gradient in one pass.
// logits: [B, C, H, W] float32; target: [B, H, W] int32 class ids.
// When no pixel is valid the loss and gradient are zero.
func (ce *CrossEntropyLoss) Compute(logits, target *tensor.Tensor) (*LossResult, error) {
	if logits == nil || target == nil {
		return nil, fmt.Errorf("cross entropy needs logits and target")
	}
	if logits.DType != tensor.Float32 || target.DType != tensor.Int32 {
		return nil, fmt.Errorf("predicted must be Float32 and target must be Int32")
	}
	if len(logits.Shape) != 4 {
		return nil, fmt.Errorf("predicted must be 4D tensor [batch, classes, height, width], got shape %v", logits.Shape)
	}
	b, c, h, w := logits.Shape[0], logits.Shape[1], logits.Shape[2], logits.Shape[3]
	if len(target.Shape) != 3 || target.Shape[0] != b || target.Shape[1] != h || target.Shape[2] != w {
		return nil, fmt.Errorf("target shape %v does not match logits %v", target.Shape, logits.Shape)
	}

	x := logits.Float32()
	y := target.Int32()
	plane := h * w
	grad := make([]float32, len(x))

	var total float64
	valid := 0
	probs := make([]float64, c)
	for n := 0; n < b; n++ {
		base := n * c * plane
		for p := 0; p < plane; p++ {
			cls := y[n*plane+p]
			if cls < 0 || int(cls) >= c {
				continue
			}
			valid++

			maxVal := math.Inf(-1)
			for ch := 0; ch < c; ch++ {
				if v := float64(x[base+ch*plane+p]); v > maxVal {
					maxVal = v
				}
			}
			var sum float64
			for ch := 0; ch < c; ch++ {
				probs[ch] = math.Exp(float64(x[base+ch*plane+p]) - maxVal)
				sum += probs[ch]
			}
			// -log softmax[cls] = logsumexp - x[cls]
			total += math.Log(sum) + maxVal - float64(x[base+int(cls)*plane+p])

			for ch := 0; ch < c; ch++ {
				g := probs[ch] / sum
				if ch == int(cls) {
					g -= 1
				}
				grad[base+ch*plane+p] = float32(g)
			}
		}
	}

	if valid > 0 && ce.reduction == "mean" {
		total /= float64(valid)
		scale := float32(1 / float64(valid))
		for i := range grad {
			grad[i] *= scale
		}
	}

	g, err := tensor.NewTensor(logits.Shape, tensor.Float32, grad)
	if err != nil {
		return nil, err
	}
	return &LossResult{Value: total, Grad: g, Valid: valid}, nil
}
