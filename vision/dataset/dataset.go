package dataset

import (
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/tensor"
	"github.com/tsawler/cxr-probe/vision/preprocessing"
)

// Dataset is indexed access to transformed (image, target) pairs.
// Images are [3, H, W] Float32 tensors. Target may be nil for unlabeled
// samples.
type Dataset interface {
	Len() int
	Get(index int) (image *tensor.Tensor, target *tensor.Tensor, err error)
}

// Labeled exposes the class vocabulary of a dataset.
type Labeled interface {
	Dataset
	NumClasses() int
	ClassNames() []string
}

type options struct {
	logger    *zap.Logger
	transform preprocessing.Transform
	imageSize int
}

// Option configures a dataset adapter.
type Option func(*options)

// WithLogger injects the logger used for advisory messages.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTransform sets the joint (image, target) transform applied by Get.
func WithTransform(t preprocessing.Transform) Option {
	return func(o *options) {
		o.transform = t
	}
}

// WithLoadSize resizes images (and masks) to size x size while decoding.
func WithLoadSize(size int) Option {
	return func(o *options) {
		o.imageSize = size
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
