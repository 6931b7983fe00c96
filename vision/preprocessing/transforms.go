package preprocessing

import (
	"github.com/pkg/errors"

	"github.com/tsawler/cxr-probe/tensor"
)

// ImageNet statistics, applied after scaling intensities to [0, 1].
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

// Transform is applied jointly to an image and its (possibly nil) target.
type Transform interface {
	Apply(image, target *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
}

// SegmentationTransform resizes the image bilinearly and the label map with
// nearest-neighbour lookup to Size x Size, then normalises the image.
type SegmentationTransform struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// NewSegmentationTransform uses the ImageNet normalisation constants.
func NewSegmentationTransform(size int) *SegmentationTransform {
	return &SegmentationTransform{Size: size, Mean: DefaultMean, Std: DefaultStd}
}

func (st *SegmentationTransform) Apply(image, target *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	img, err := resizeAndNormalize(image, st.Size, st.Mean, st.Std)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return img, nil, nil
	}

	h, w := st.Size, st.Size
	if st.Size <= 0 {
		h, w = image.Dim(-2), image.Dim(-1)
	}
	tgt, err := tensor.ResizeNearest(target, h, w)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to resize target")
	}
	return img, tgt, nil
}

// ClassificationTransform resizes and normalises the image; multi-hot
// targets pass through untouched.
type ClassificationTransform struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

func NewClassificationTransform(size int) *ClassificationTransform {
	return &ClassificationTransform{Size: size, Mean: DefaultMean, Std: DefaultStd}
}

func (ct *ClassificationTransform) Apply(image, target *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	img, err := resizeAndNormalize(image, ct.Size, ct.Mean, ct.Std)
	if err != nil {
		return nil, nil, err
	}
	return img, target, nil
}

// resizeAndNormalize expects a [3, H, W] tensor on the 8-bit intensity scale.
func resizeAndNormalize(image *tensor.Tensor, size int, mean, std [3]float32) (*tensor.Tensor, error) {
	if image == nil || len(image.Shape) != 3 || image.Shape[0] != 3 {
		return nil, errors.Errorf("expected [3, H, W] image, got %v", image)
	}
	batched, err := image.Unsqueeze(0)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		batched, err = tensor.ResizeBilinear(batched, size, size)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resize image")
		}
	} else {
		batched = batched.Clone()
	}

	data := batched.Float32()
	plane := batched.Dim(2) * batched.Dim(3)
	for c := 0; c < 3; c++ {
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i]/255.0 - mean[c]) / std[c]
		}
	}
	return batched.Reshape(batched.Shape[1:])
}
