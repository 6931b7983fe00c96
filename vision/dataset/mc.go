package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/tensor"
	"github.com/tsawler/cxr-probe/vision/preprocessing"
)

// Montgomery County lung segmentation classes.
const (
	MCBackground int32 = 0
	MCLeftLung   int32 = 1
	MCRightLung  int32 = 2
)

var mcClassNames = []string{"background", "left_lung", "right_lung"}

// MC is the Montgomery County chest X-ray lung segmentation set.
//
// Layout:
//
//	<root>/{train,val,test}/<name>.png
//	<root>/ManualMask/leftMask/<name>.png
//	<root>/ManualMask/rightMask/<name>.png
type MC struct {
	root      string
	splitDir  string
	masksDir  string
	split     Split
	images    []string
	processor *preprocessing.ImageProcessor
	transform preprocessing.Transform
	logger    *zap.Logger
}

// NewMC lists the split directory. An unknown split fails immediately.
func NewMC(split Split, root string, opts ...Option) (*MC, error) {
	if !split.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedSplit, "%q", split.String())
	}
	o := buildOptions(opts)

	ds := &MC{
		root:      root,
		splitDir:  filepath.Join(root, split.Dir()),
		masksDir:  filepath.Join(root, "ManualMask"),
		split:     split,
		processor: preprocessing.NewImageProcessor(o.imageSize),
		transform: o.transform,
		logger:    o.logger,
	}

	entries, err := os.ReadDir(ds.splitDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s split", split)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ds.images = append(ds.images, entry.Name())
	}
	sort.Strings(ds.images)

	ds.checkSize()
	return ds, nil
}

func (ds *MC) checkSize() {
	expected, ok := MCSplitLengths.Expected(ds.split)
	if !ok {
		return
	}
	ds.logger.Sugar().Infof("%d scans are missing from %s set", expected-len(ds.images), ds.split)
}

func (ds *MC) Split() Split { return ds.split }

func (ds *MC) Len() int { return len(ds.images) }

func (ds *MC) NumClasses() int { return len(mcClassNames) }

func (ds *MC) ClassNames() []string {
	return append([]string(nil), mcClassNames...)
}

// ImageName returns the file name backing index.
func (ds *MC) ImageName(index int) string { return ds.images[index] }

func (ds *MC) checkIndex(index int) error {
	if index < 0 || index >= len(ds.images) {
		return errors.Errorf("index %d out of range [0, %d)", index, len(ds.images))
	}
	return nil
}

// ImageData returns the untransformed [3, H, W] radiograph.
func (ds *MC) ImageData(index int) (*tensor.Tensor, error) {
	if err := ds.checkIndex(index); err != nil {
		return nil, err
	}
	gray, err := ds.processor.LoadGray(filepath.Join(ds.splitDir, ds.images[index]))
	if err != nil {
		return nil, err
	}
	return gray.ToCHW()
}

// Target builds the [H, W] label map: left lung pixels become 1, right lung
// pixels 2, and the two masks are summed. Overlapping pixels therefore read
// 3; they are left as-is.
func (ds *MC) Target(index int) (*tensor.Tensor, error) {
	if err := ds.checkIndex(index); err != nil {
		return nil, err
	}
	name := ds.images[index]

	left, lw, lh, err := ds.processor.LoadMask(filepath.Join(ds.masksDir, "leftMask", name))
	if err != nil {
		return nil, errors.Wrap(err, "left mask")
	}
	right, rw, rh, err := ds.processor.LoadMask(filepath.Join(ds.masksDir, "rightMask", name))
	if err != nil {
		return nil, errors.Wrap(err, "right mask")
	}
	if lw != rw || lh != rh {
		return nil, errors.Errorf("mask size mismatch for %s: left %dx%d, right %dx%d", name, lw, lh, rw, rh)
	}

	target := make([]int32, lw*lh)
	for i := range target {
		if left[i] {
			target[i] += MCLeftLung
		}
		if right[i] {
			target[i] += MCRightLung
		}
	}
	return tensor.FromInt32([]int{lh, lw}, target)
}

// Get returns the transformed (image, target) pair.
func (ds *MC) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	image, err := ds.ImageData(index)
	if err != nil {
		return nil, nil, err
	}
	target, err := ds.Target(index)
	if err != nil {
		return nil, nil, err
	}
	if image.Dim(1) != target.Dim(0) || image.Dim(2) != target.Dim(1) {
		return nil, nil, errors.Errorf("%s: image %v and target %v are not aligned", ds.images[index], image.Shape[1:], target.Shape)
	}

	if ds.transform != nil {
		image, target, err = ds.transform.Apply(image, target)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "transform %s", ds.images[index])
		}
	}
	return image, target, nil
}
