package segmentation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/cxr-probe/decoder"
	"github.com/tsawler/cxr-probe/training"
)

func TestComputeCadence(t *testing.T) {
	c := ComputeCadence(10, 4, 3, 0, 2, 1)
	assert.Equal(t, Cadence{EpochLength: 3, MaxIter: 9, EvalPeriod: 6, CheckpointPeriod: 3, RunningCheckpointPeriod: 3}, c)

	c = ComputeCadence(10, 4, 2, 50, 0, 1)
	assert.Equal(t, 50, c.EpochLength)
	assert.Equal(t, 100, c.MaxIter)
	assert.Equal(t, 0, c.EvalPeriod)
}

func runOptions(t *testing.T, dir string) Options {
	return Options{
		TrainDataset:            newMemSet(t, 4, 0),
		ValDataset:              newMemSet(t, 2, 0.25),
		TestDataset:             newMemSet(t, 2, 0.5),
		Extractor:               newExtractor(t),
		OutputDir:               dir,
		Epochs:                  2,
		BatchSize:               2,
		SaveCheckpointFrequency: 1,
		EvalPeriodEpochs:        1,
		LearningRates:           []float64{1e-3, 1e-1},
		RunID:                   "run",
	}
}

func TestRunRequiresTestDataset(t *testing.T) {
	opts := runOptions(t, t.TempDir())
	opts.TestDataset = nil
	_, err := Run(context.Background(), opts)
	assert.ErrorIs(t, err, ErrMissingTestDataset)

	opts.TrainDataset = nil
	_, err = Run(context.Background(), opts)
	assert.ErrorIs(t, err, ErrMissingTestDataset, "the test set is checked first")
}

func TestRunRejectsMultilabelMetric(t *testing.T) {
	opts := runOptions(t, t.TempDir())
	opts.MetricType = training.MultilabelAUROC
	_, err := Run(context.Background(), opts)
	assert.Error(t, err)
}

func TestRunRetrainsBestDecoderOnTrainAndVal(t *testing.T) {
	dir := t.TempDir()
	opts := runOptions(t, dir)

	stages := map[string]int{}
	opts.OnIteration = func(stage string, _ int, _ float64) { stages[stage]++ }

	rec, err := Run(context.Background(), opts)
	require.NoError(t, err)

	// 4 train samples in batches of 2 for 2 epochs, then 6 train+val samples
	assert.Equal(t, map[string]int{"grid": 4, "optimal": 6}, stages)

	// both stages append to the one top-level log
	records, err := ReadRecords(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	require.Len(t, records, 4)
	iterations := make([]int, len(records))
	for i, r := range records {
		iterations[i] = r.Iteration
	}
	assert.Equal(t, []int{2, 4, 3, 6}, iterations)
	assert.Equal(t, rec, records[3])
	assert.Equal(t, "run", rec.RunID)

	_, err = os.Stat(filepath.Join(dir, OptimalDir, ResultsFile))
	assert.True(t, os.IsNotExist(err))

	best, err := decoder.ParseKey(records[1].BestSegmentor.Name)
	require.NoError(t, err)
	retrained, err := decoder.ParseKey(rec.BestSegmentor.Name)
	require.NoError(t, err)
	assert.Equal(t, best, retrained)

	for _, path := range []string{
		filepath.Join(dir, "model_final.json"),
		filepath.Join(dir, OptimalDir, "model_final.json"),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestRunRecomputesEpochLengthForRetrain(t *testing.T) {
	opts := runOptions(t, t.TempDir())
	opts.EpochLength = 2

	stages := map[string]int{}
	opts.OnIteration = func(stage string, _ int, _ float64) { stages[stage]++ }

	rec, err := Run(context.Background(), opts)
	require.NoError(t, err)

	// the fixed epoch length applies to the grid only; the retrain derives
	// ceil(6/2) = 3 iterations per epoch from train+val
	assert.Equal(t, map[string]int{"grid": 4, "optimal": 6}, stages)
	assert.Equal(t, 6, rec.Iteration)
}

func TestRunWithoutValidationSetStopsAfterGrid(t *testing.T) {
	dir := t.TempDir()
	opts := runOptions(t, dir)
	opts.ValDataset = nil
	opts.RunID = ""

	rec, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Iteration)
	assert.NotEmpty(t, rec.RunID)

	_, err = os.Stat(filepath.Join(dir, OptimalDir))
	assert.True(t, os.IsNotExist(err))
}
