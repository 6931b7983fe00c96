package dataset

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/tensor"
	"github.com/tsawler/cxr-probe/vision/preprocessing"
)

const (
	nihLabelsFile   = "labels.csv"
	nihTrainValList = "train_val_list.txt"
	nihTestList     = "test_list.txt"
)

// nihLabelRow is one row of labels.csv. Other columns are ignored.
type nihLabelRow struct {
	ImageIndex    string `csv:"Image Index"`
	FindingLabels string `csv:"Finding Labels"`
}

// NIHChestXray is the NIH ChestX-ray14 multi-label classification set.
//
// root points at the image directory; labels.csv and the split manifests
// live in its parent.
type NIHChestXray struct {
	root      string
	dataDir   string
	split     Split
	rows      []nihLabelRow
	targets   [][]int32
	binarizer *MultiLabelBinarizer
	processor *preprocessing.ImageProcessor
	transform preprocessing.Transform
	logger    *zap.Logger
}

// NewNIHChestXray loads the label table and keeps the rows listed in the
// split's manifest. The class vocabulary is fitted on the whole table so
// that every split shares the same target layout.
func NewNIHChestXray(split Split, root string, opts ...Option) (*NIHChestXray, error) {
	var manifest string
	switch split {
	case Train, Val:
		manifest = nihTrainValList
	case Test:
		manifest = nihTestList
	default:
		return nil, errors.Wrapf(ErrUnsupportedSplit, "%q", split.String())
	}
	o := buildOptions(opts)

	root = filepath.Clean(root)
	ds := &NIHChestXray{
		root:      root,
		dataDir:   filepath.Dir(root),
		split:     split,
		processor: preprocessing.NewImageProcessor(o.imageSize),
		transform: o.transform,
		logger:    o.logger,
	}

	all, err := readLabelTable(filepath.Join(ds.dataDir, nihLabelsFile))
	if err != nil {
		return nil, err
	}

	findings := make([][]string, len(all))
	for i, row := range all {
		findings[i] = SplitFindings(row.FindingLabels)
	}
	ds.binarizer = FitMultiLabelBinarizer(findings)

	keep, err := readManifest(filepath.Join(ds.dataDir, manifest))
	if err != nil {
		return nil, err
	}
	for i, row := range all {
		if _, ok := keep[row.ImageIndex]; !ok {
			continue
		}
		target, err := ds.binarizer.Transform(findings[i])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d (%s)", i, row.ImageIndex)
		}
		ds.rows = append(ds.rows, row)
		ds.targets = append(ds.targets, target)
	}

	ds.checkSize()
	return ds, nil
}

func readLabelTable(path string) ([]nihLabelRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open label table")
	}
	defer f.Close()

	var rows []nihLabelRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return rows, nil
}

// readManifest reads one image name per line.
func readManifest(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open split manifest")
	}
	defer f.Close()

	names := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names[name] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return names, nil
}

func (ds *NIHChestXray) checkSize() {
	expected, ok := NIHSplitLengths.Expected(ds.split)
	if !ok {
		return
	}
	entries, err := os.ReadDir(ds.root)
	if err != nil {
		ds.logger.Warn("could not list image directory", zap.String("root", ds.root), zap.Error(err))
		return
	}
	if missing := expected - len(entries); missing != 0 {
		ds.logger.Sugar().Infof("%d x-rays are missing from %s set", missing, ds.split)
		return
	}
	ds.logger.Sugar().Infof("No missing data in %s set", ds.split)
}

func (ds *NIHChestXray) Split() Split { return ds.split }

func (ds *NIHChestXray) Len() int { return len(ds.rows) }

func (ds *NIHChestXray) NumClasses() int { return ds.binarizer.NumClasses() }

func (ds *NIHChestXray) ClassNames() []string { return ds.binarizer.Classes() }

// ClassName returns the name of the class at classIndex in the sorted
// vocabulary.
func (ds *NIHChestXray) ClassName(classIndex int) (string, error) {
	if classIndex < 0 || classIndex >= ds.NumClasses() {
		return "", errors.Errorf("class index %d out of range [0, %d)", classIndex, ds.NumClasses())
	}
	return ds.binarizer.classes[classIndex], nil
}

// ClassID returns the 1-based id of the class at classIndex.
func (ds *NIHChestXray) ClassID(classIndex int) (string, error) {
	if classIndex < 0 || classIndex >= ds.NumClasses() {
		return "", errors.Errorf("class index %d out of range [0, %d)", classIndex, ds.NumClasses())
	}
	return strconv.Itoa(classIndex + 1), nil
}

// ImageName is the "Image Index" of row index.
func (ds *NIHChestXray) ImageName(index int) string { return ds.rows[index].ImageIndex }

func (ds *NIHChestXray) checkIndex(index int) error {
	if index < 0 || index >= len(ds.rows) {
		return errors.Errorf("index %d out of range [0, %d)", index, len(ds.rows))
	}
	return nil
}

// ImageData reads the radiograph as grayscale, replicated to 3 channels.
func (ds *NIHChestXray) ImageData(index int) (*tensor.Tensor, error) {
	if err := ds.checkIndex(index); err != nil {
		return nil, err
	}
	gray, err := ds.processor.LoadGray(filepath.Join(ds.root, ds.rows[index].ImageIndex))
	if err != nil {
		return nil, err
	}
	return gray.ToCHW()
}

// Target returns the multi-hot vector of sample index. The TEST split is
// unlabeled: ok is false and the tensor nil.
func (ds *NIHChestXray) Target(index int) (*tensor.Tensor, bool) {
	if ds.split == Test || index < 0 || index >= len(ds.targets) {
		return nil, false
	}
	t, err := tensor.FromInt32([]int{len(ds.targets[index])}, append([]int32(nil), ds.targets[index]...))
	if err != nil {
		return nil, false
	}
	return t, true
}

// Targets returns all targets as an [N, C] tensor, absent on TEST.
func (ds *NIHChestXray) Targets() (*tensor.Tensor, bool) {
	if ds.split == Test || len(ds.targets) == 0 {
		return nil, false
	}
	flat := make([]int32, 0, len(ds.targets)*ds.NumClasses())
	for _, row := range ds.targets {
		flat = append(flat, row...)
	}
	t, err := tensor.FromInt32([]int{len(ds.targets), ds.NumClasses()}, flat)
	if err != nil {
		return nil, false
	}
	return t, true
}

// TargetClassNames lists the positive findings of sample index.
func (ds *NIHChestXray) TargetClassNames(index int) ([]string, bool) {
	if ds.split == Test || index < 0 || index >= len(ds.targets) {
		return nil, false
	}
	return ds.binarizer.Inverse(ds.targets[index]), true
}

// Get returns the transformed pair. The target is nil on TEST.
func (ds *NIHChestXray) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	image, err := ds.ImageData(index)
	if err != nil {
		return nil, nil, err
	}
	target, _ := ds.Target(index)

	if ds.transform != nil {
		image, target, err = ds.transform.Apply(image, target)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "transform %s", ds.rows[index].ImageIndex)
		}
	}
	return image, target, nil
}
