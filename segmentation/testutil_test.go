package segmentation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/cxr-probe/backbone"
	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/decoder"
	"github.com/tsawler/cxr-probe/optimizer"
	"github.com/tsawler/cxr-probe/tensor"
	"github.com/tsawler/cxr-probe/training"
	"github.com/tsawler/cxr-probe/vision/dataloader"
)

const testSize = 8

// memSet is a two-class toy segmentation set: the right half of every image
// is bright and labelled 1, the left half dark and labelled 0.
type memSet struct {
	images  []*tensor.Tensor
	targets []*tensor.Tensor
}

func newMemSet(t *testing.T, n int, offset float32) *memSet {
	t.Helper()
	ms := &memSet{}
	for k := 0; k < n; k++ {
		img := make([]float32, 3*testSize*testSize)
		tgt := make([]int32, testSize*testSize)
		for y := 0; y < testSize; y++ {
			for x := 0; x < testSize; x++ {
				v := offset + float32(k)*0.01
				if x >= testSize/2 {
					v += 1
					tgt[y*testSize+x] = 1
				}
				for c := 0; c < 3; c++ {
					img[c*testSize*testSize+y*testSize+x] = v
				}
			}
		}
		it, err := tensor.FromFloat32([]int{3, testSize, testSize}, img)
		require.NoError(t, err)
		tt, err := tensor.FromInt32([]int{testSize, testSize}, tgt)
		require.NoError(t, err)
		ms.images = append(ms.images, it)
		ms.targets = append(ms.targets, tt)
	}
	return ms
}

func (ms *memSet) Len() int { return len(ms.images) }

func (ms *memSet) Get(i int) (*tensor.Tensor, *tensor.Tensor, error) {
	return ms.images[i].Clone(), ms.targets[i].Clone(), nil
}

func (ms *memSet) NumClasses() int      { return 2 }
func (ms *memSet) ClassNames() []string { return []string{"background", "lung"} }

func newExtractor(t *testing.T) *backbone.FeatureExtractor {
	t.Helper()
	pp, err := backbone.NewPatchProjection(4, 4, 0)
	require.NoError(t, err)
	return backbone.NewFeatureExtractor(pp, backbone.Float32)
}

// newTrainParams wires a fresh ensemble, optimizer and scheduler the same
// way Run does, so two calls with the same arguments start identically.
func newTrainParams(t *testing.T, dir string, lrs []float64, maxIter int) TrainParams {
	t.Helper()
	fe := newExtractor(t)
	train := newMemSet(t, 6, 0)
	val := newMemSet(t, 4, 0.5)

	ens, groups, err := decoder.Setup(fe.EmbedDim(), 2, lrs, decoder.Linear, 0)
	require.NoError(t, err)
	sgd, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{Momentum: 0.9}, groups)
	require.NoError(t, err)
	sched := training.NewGroupScheduler(training.NewCosineAnnealingLRScheduler(maxIter, 0), sgd)
	metric, err := training.NewMetric(training.SegmentationMetrics, 2, val.ClassNames())
	require.NoError(t, err)
	evalLoader, err := dataloader.NewEvalLoader(val, dataloader.Config{BatchSize: 2})
	require.NoError(t, err)

	return TrainParams{
		Extractor:        fe,
		Ensemble:         ens,
		Optimizer:        sgd,
		Scheduler:        sched,
		TrainDataset:     train,
		EvalLoader:       evalLoader,
		Metric:           metric,
		BatchSize:        2,
		Seed:             3,
		OutputDir:        dir,
		CheckpointFormat: checkpoints.FormatJSON,
		MaxIter:          maxIter,
		RunID:            "test-run",
		Results:          NewResultsLog(filepath.Join(dir, ResultsFile), true),
	}
}
