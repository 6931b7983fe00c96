package segmentation

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/decoder"
	"github.com/tsawler/cxr-probe/distributed"
	"github.com/tsawler/cxr-probe/optimizer"
	"github.com/tsawler/cxr-probe/training"
	"github.com/tsawler/cxr-probe/vision/dataloader"
	"github.com/tsawler/cxr-probe/vision/dataset"
)

// ErrMissingTestDataset is returned by Run when no test set is configured.
var ErrMissingTestDataset = errors.New("a test dataset is required")

// OptimalDir is the sub-directory of the retrain-on-train+val stage.
const OptimalDir = "optimal"

const (
	sgdMomentum    = 0.9
	sgdWeightDecay = 0.0
)

// Options configures Run.
type Options struct {
	TrainDataset dataset.Labeled
	ValDataset   dataset.Labeled // optional
	TestDataset  dataset.Labeled
	Extractor    FeatureExtractor

	OutputDir               string
	Epochs                  int
	EpochLength             int // 0: ceil(len(train) / BatchSize)
	BatchSize               int
	NumWorkers              int
	CacheSize               int
	SaveCheckpointFrequency int
	MaxCheckpointsToKeep    int // 0 keeps every periodic checkpoint
	EvalPeriodEpochs        int
	LearningRates           []float64
	DecoderType             decoder.Type
	MetricType              training.MetricType
	Resume                  bool
	SegmentorPath           string
	CheckpointFormat        checkpoints.CheckpointFormat
	Seed                    int64
	RunID                   string

	Dist   distributed.Context
	Logger *zap.Logger

	OnIteration func(stage string, iteration int, loss float64)
}

// Cadence holds the iteration periods derived from epoch settings.
type Cadence struct {
	EpochLength             int
	MaxIter                 int
	EvalPeriod              int
	CheckpointPeriod        int
	RunningCheckpointPeriod int
}

// ComputeCadence converts epochs into iterations. epochLength 0 means one
// pass over trainLen samples, rounded up to whole batches.
func ComputeCadence(trainLen, batchSize, epochs, epochLength, evalPeriodEpochs, saveFrequency int) Cadence {
	if epochLength <= 0 {
		epochLength = (trainLen + batchSize - 1) / batchSize
	}
	return Cadence{
		EpochLength:             epochLength,
		MaxIter:                 epochs * epochLength,
		EvalPeriod:              evalPeriodEpochs * epochLength,
		CheckpointPeriod:        saveFrequency * epochLength,
		RunningCheckpointPeriod: epochLength,
	}
}

// Run trains the decoder grid on the train set and evaluates it on the val
// set, or the test set when there is no val set. With a val set it then
// retrains a single decoder at the best learning rate on train+val, with
// checkpoints under <OutputDir>/optimal, and evaluates that on the test set.
// Both stages append to <OutputDir>/results_eval_linear.json. The record of
// the last stage is returned.
func Run(ctx context.Context, opts Options) (Record, error) {
	if opts.TestDataset == nil {
		return Record{}, ErrMissingTestDataset
	}
	if opts.TrainDataset == nil {
		return Record{}, errors.New("a train dataset is required")
	}
	if opts.Extractor == nil {
		return Record{}, errors.New("a feature extractor is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dist == nil {
		opts.Dist = distributed.Local{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.DecoderType == "" {
		opts.DecoderType = decoder.Linear
	}
	if opts.MetricType == "" {
		opts.MetricType = training.SegmentationMetrics
	}
	if opts.MetricType != training.SegmentationMetrics {
		return Record{}, errors.Errorf("metric %s does not apply to segmentation decoders", opts.MetricType)
	}
	logger := opts.Logger.With(zap.String("run_id", opts.RunID))
	results := NewResultsLog(filepath.Join(opts.OutputDir, ResultsFile), opts.Dist.IsMainProcess())

	valSet := opts.ValDataset
	if valSet == nil {
		valSet = opts.TestDataset
	}
	rec, err := runStage(ctx, opts, stage{
		name:        "grid",
		train:       opts.TrainDataset,
		eval:        valSet,
		lrs:         opts.LearningRates,
		epochLength: opts.EpochLength,
		outputDir:   opts.OutputDir,
		initPath:    opts.SegmentorPath,
	}, results, logger)
	if err != nil {
		return Record{}, err
	}
	if opts.ValDataset == nil {
		return rec, nil
	}

	best, err := decoder.ParseKey(rec.BestSegmentor.Name)
	if err != nil {
		return Record{}, errors.Wrap(err, "failed to read best decoder")
	}
	logger.Info("retraining best decoder on train and val",
		zap.String("decoder", best.String()), zap.Float64("lr", best.LearningRate))

	trainVal, err := dataset.NewConcatDataset(opts.TrainDataset, opts.ValDataset)
	if err != nil {
		return Record{}, err
	}
	// the epoch length is always derived from train+val here
	return runStage(ctx, opts, stage{
		name:      "optimal",
		train:     trainVal,
		eval:      opts.TestDataset,
		lrs:       []float64{best.LearningRate},
		outputDir: filepath.Join(opts.OutputDir, OptimalDir),
		forceKey:  best.String(),
	}, results, logger)
}

type stage struct {
	name        string
	train       dataset.Labeled
	eval        dataset.Labeled
	lrs         []float64
	epochLength int // 0 derives it from the train set
	outputDir   string
	initPath    string
	forceKey    string
}

func runStage(ctx context.Context, opts Options, st stage, results *ResultsLog, logger *zap.Logger) (Record, error) {
	logger = logger.With(zap.String("stage", st.name))
	numClasses := st.train.NumClasses()
	cad := ComputeCadence(st.train.Len(), opts.BatchSize, opts.Epochs, st.epochLength,
		opts.EvalPeriodEpochs, opts.SaveCheckpointFrequency)
	logger.Info("cadence",
		zap.Int("epoch_length", cad.EpochLength),
		zap.Int("max_iter", cad.MaxIter),
		zap.Int("eval_period", cad.EvalPeriod),
		zap.Int("checkpoint_period", cad.CheckpointPeriod))

	ens, groups, err := decoder.Setup(opts.Extractor.EmbedDim(), numClasses, st.lrs, opts.DecoderType, opts.Seed)
	if err != nil {
		return Record{}, err
	}
	sgd, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{
		Momentum:    sgdMomentum,
		WeightDecay: sgdWeightDecay,
	}, groups)
	if err != nil {
		return Record{}, err
	}
	sched := training.NewGroupScheduler(training.NewCosineAnnealingLRScheduler(cad.MaxIter, 0), sgd)

	metric, err := training.NewMetric(opts.MetricType, numClasses, st.eval.ClassNames())
	if err != nil {
		return Record{}, err
	}
	evalLoader, err := dataloader.NewEvalLoader(st.eval, dataloader.Config{
		BatchSize:    opts.BatchSize,
		NumWorkers:   opts.NumWorkers,
		MaxCacheSize: opts.CacheSize,
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "failed to create eval loader")
	}

	var onIter func(int, float64)
	if opts.OnIteration != nil {
		onIter = func(i int, loss float64) { opts.OnIteration(st.name, i, loss) }
	}

	rec, _, err := EvalDecoders(ctx, TrainParams{
		Extractor:               opts.Extractor,
		Ensemble:                ens,
		Optimizer:               sgd,
		Scheduler:               sched,
		TrainDataset:            st.train,
		EvalLoader:              evalLoader,
		Metric:                  metric,
		BatchSize:               opts.BatchSize,
		NumWorkers:              opts.NumWorkers,
		CacheSize:               opts.CacheSize,
		Seed:                    opts.Seed,
		OutputDir:               st.outputDir,
		CheckpointFormat:        opts.CheckpointFormat,
		Resume:                  opts.Resume,
		InitPath:                st.initPath,
		MaxIter:                 cad.MaxIter,
		EvalPeriod:              cad.EvalPeriod,
		CheckpointPeriod:        cad.CheckpointPeriod,
		RunningCheckpointPeriod: cad.RunningCheckpointPeriod,
		RunID:                   opts.RunID,
		MaxToKeep:               opts.MaxCheckpointsToKeep,
		ForceKey:                st.forceKey,
		Results:                 results,
		Dist:                    opts.Dist,
		Logger:                  logger,
		OnIteration:             onIter,
	})
	return rec, err
}
