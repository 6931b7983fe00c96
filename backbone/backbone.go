// Package backbone provides the frozen feature extractor the decoders are
// trained on.
package backbone

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/cxr-probe/tensor"
)

// Backbone maps a [B, 3, H, W] image batch to [B, D, H/p, W/p] patch
// features. Implementations are never trained.
type Backbone interface {
	EmbedDim() int
	PatchSize() int
	Forward(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error)
}

// PatchProjection embeds each p x p x 3 patch with a fixed random linear map
// followed by tanh.
type PatchProjection struct {
	embedDim  int
	patchSize int
	weight    []float32 // [embedDim, 3*p*p]
	bias      []float32 // [embedDim]
}

// NewPatchProjection draws the projection from a seeded normal distribution
// scaled by 1/sqrt(fan-in).
func NewPatchProjection(embedDim, patchSize int, seed int64) (*PatchProjection, error) {
	if embedDim <= 0 || patchSize <= 0 {
		return nil, errors.Errorf("invalid patch projection: embedDim=%d patchSize=%d", embedDim, patchSize)
	}
	fanIn := 3 * patchSize * patchSize
	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(fanIn))

	pp := &PatchProjection{
		embedDim:  embedDim,
		patchSize: patchSize,
		weight:    make([]float32, embedDim*fanIn),
		bias:      make([]float32, embedDim),
	}
	for i := range pp.weight {
		pp.weight[i] = float32(rng.NormFloat64() * scale)
	}
	for i := range pp.bias {
		pp.bias[i] = float32(rng.NormFloat64() * 0.01)
	}
	return pp, nil
}

func (pp *PatchProjection) EmbedDim() int  { return pp.embedDim }
func (pp *PatchProjection) PatchSize() int { return pp.patchSize }

// Forward computes tanh(W x patch + b) for every non-overlapping patch.
// Trailing rows and columns that do not fill a patch are dropped.
func (pp *PatchProjection) Forward(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error) {
	if images == nil || len(images.Shape) != 4 || images.Shape[1] != 3 || images.DType != tensor.Float32 {
		return nil, errors.Errorf("expected [B, 3, H, W] float32 images, got %v", images)
	}
	b, H, W := images.Shape[0], images.Shape[2], images.Shape[3]
	p := pp.patchSize
	gh, gw := H/p, W/p
	if gh == 0 || gw == 0 {
		return nil, errors.Errorf("image %dx%d smaller than patch size %d", H, W, p)
	}
	precision := PrecisionFrom(ctx)

	fanIn := 3 * p * p
	numPatches := gh * gw
	src := images.Float32()
	out := make([]float32, b*pp.embedDim*numPatches)
	patches := make([]float32, numPatches*fanIn)

	for n := 0; n < b; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img := src[n*3*H*W : (n+1)*3*H*W]
		for py := 0; py < gh; py++ {
			for px := 0; px < gw; px++ {
				row := patches[(py*gw+px)*fanIn : (py*gw+px+1)*fanIn]
				k := 0
				for c := 0; c < 3; c++ {
					for y := 0; y < p; y++ {
						base := c*H*W + (py*p+y)*W + px*p
						copy(row[k:k+p], img[base:base+p])
						k += p
					}
				}
			}
		}
		precision.RoundSlice(patches)

		feat := out[n*pp.embedDim*numPatches : (n+1)*pp.embedDim*numPatches]
		tensor.MatMulTransBInto(feat, pp.weight, patches, pp.embedDim, fanIn, numPatches, false)
		for d := 0; d < pp.embedDim; d++ {
			plane := feat[d*numPatches : (d+1)*numPatches]
			for i, v := range plane {
				plane[i] = float32(math.Tanh(float64(v + pp.bias[d])))
			}
		}
	}
	return tensor.FromFloat32([]int{b, pp.embedDim, gh, gw}, out)
}
