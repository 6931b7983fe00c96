package decoder

import (
	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/optimizer"
	"github.com/tsawler/cxr-probe/tensor"
)

// Decoder maps patch features [B, D, h, w] to class logits [B, C, h, w].
// Backward accumulates parameter gradients for a gradient w.r.t. the logits;
// features are frozen, so nothing is propagated further.
type Decoder interface {
	Type() Type
	NumClasses() int
	Forward(features *tensor.Tensor) (*tensor.Tensor, error)
	Backward(features, gradLogits *tensor.Tensor) error
	Params() []*optimizer.Param

	// State returns the weights for a checkpoint; Load restores them.
	State() []checkpoints.WeightTensor
	Load(weights []checkpoints.WeightTensor) error
}

// New builds an untrained decoder of type t.
func New(t Type, embedDim, numClasses int, seed int64) (Decoder, error) {
	switch t {
	case Linear:
		return NewLinear(embedDim, numClasses, seed)
	default:
		return nil, ErrUnknownDecoder
	}
}
