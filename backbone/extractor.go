package backbone

import (
	"context"

	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"

	"github.com/tsawler/cxr-probe/tensor"
)

// FeatureExtractor runs a frozen backbone under a precision mode. The mode
// is entered on every call and left again before Extract returns, even when
// the backbone fails.
type FeatureExtractor struct {
	backbone  Backbone
	precision Precision

	mu     sync.Mutex
	active bool
}

func NewFeatureExtractor(b Backbone, precision Precision) *FeatureExtractor {
	return &FeatureExtractor{backbone: b, precision: precision}
}

func (fe *FeatureExtractor) EmbedDim() int        { return fe.backbone.EmbedDim() }
func (fe *FeatureExtractor) PatchSize() int       { return fe.backbone.PatchSize() }
func (fe *FeatureExtractor) Precision() Precision { return fe.precision }

// Active reports whether a call is currently inside the precision mode.
func (fe *FeatureExtractor) Active() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.active
}

func (fe *FeatureExtractor) enter(ctx context.Context) (context.Context, func()) {
	fe.mu.Lock()
	prev := fe.active
	fe.active = true
	fe.mu.Unlock()

	return WithPrecision(ctx, fe.precision), func() {
		fe.mu.Lock()
		fe.active = prev
		fe.mu.Unlock()
	}
}

// Extract returns [B, D, H/p, W/p] features rounded to the configured
// precision.
func (fe *FeatureExtractor) Extract(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error) {
	ctx, restore := fe.enter(ctx)
	defer restore()

	features, err := fe.backbone.Forward(ctx, images)
	if err != nil {
		return nil, errors.Wrap(err, "backbone forward")
	}
	if len(features.Shape) != 4 || features.Shape[1] != fe.backbone.EmbedDim() {
		return nil, errors.Errorf("backbone returned %v, expected [B, %d, h, w]", features.Shape, fe.backbone.EmbedDim())
	}
	fe.precision.RoundSlice(features.Float32())
	return features, nil
}
