package segmentation

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/decoder"
	"github.com/tsawler/cxr-probe/distributed"
	"github.com/tsawler/cxr-probe/optimizer"
	"github.com/tsawler/cxr-probe/tensor"
	"github.com/tsawler/cxr-probe/training"
	"github.com/tsawler/cxr-probe/vision/dataloader"
)

// RunningCheckpointName is the rolling checkpoint overwritten once per
// running period.
const RunningCheckpointName = "running_checkpoint_linear_eval"

const logPeriod = 10

// TrainParams configures EvalDecoders.
type TrainParams struct {
	Extractor FeatureExtractor
	Ensemble  *decoder.Ensemble
	Optimizer optimizer.Optimizer
	Scheduler *training.GroupScheduler

	TrainDataset dataloader.Dataset
	EvalLoader   *dataloader.EvalLoader
	Metric       training.Metric
	BatchSize    int
	NumWorkers   int
	CacheSize    int
	Seed         int64

	OutputDir        string
	CheckpointFormat checkpoints.CheckpointFormat
	Resume           bool
	InitPath         string // weights to start from when nothing can be resumed

	MaxIter                 int
	EvalPeriod              int
	CheckpointPeriod        int
	RunningCheckpointPeriod int
	MaxToKeep               int // numbered checkpoints kept on disk, 0 for all

	// ForceKey makes every evaluation select that decoder.
	ForceKey string

	RunID   string
	Results *ResultsLog
	Dist    distributed.Context
	Logger  *zap.Logger

	// OnIteration, when set, is called after every optimizer step with
	// the summed loss of all decoders.
	OnIteration func(iteration int, loss float64)
}

// ensembleState adapts an ensemble with its optimizer and scheduler to the
// checkpointer.
type ensembleState struct {
	ensemble  *decoder.Ensemble
	optimizer optimizer.Optimizer
	scheduler *training.GroupScheduler
	maxIter   int
}

func (s *ensembleState) Snapshot() (*checkpoints.Checkpoint, error) {
	opt, err := s.optimizer.GetState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to capture optimizer state")
	}
	return &checkpoints.Checkpoint{
		TrainingState: checkpoints.TrainingState{
			MaxIter:      s.maxIter,
			LearningRate: s.scheduler.LR(0),
		},
		Decoders:       s.ensemble.State(),
		OptimizerState: opt,
		SchedulerState: s.scheduler.State(),
	}, nil
}

func (s *ensembleState) Restore(c *checkpoints.Checkpoint, modelOnly bool) error {
	if err := s.ensemble.Load(c.Decoders); err != nil {
		return err
	}
	if modelOnly {
		return nil
	}
	if err := s.optimizer.LoadState(c.OptimizerState); err != nil {
		return errors.Wrap(err, "failed to restore optimizer")
	}
	return errors.Wrap(s.scheduler.Load(c.SchedulerState), "failed to restore scheduler")
}

// EvalDecoders trains every decoder of the ensemble on the same batches
// from iteration startIter to MaxIter inclusive, where startIter follows
// the iteration of whatever checkpoint was resumed or loaded. It
// checkpoints and evaluates on the configured periods and finishes with one
// evaluation tagged MaxIter, whose record is returned with the last
// iteration completed. On error the iteration is the one that failed, or
// the last completed one when ctx was cancelled between iterations.
func EvalDecoders(ctx context.Context, p TrainParams) (Record, int, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dist := p.Dist
	if dist == nil {
		dist = distributed.Local{}
	}

	state := &ensembleState{ensemble: p.Ensemble, optimizer: p.Optimizer, scheduler: p.Scheduler, maxIter: p.MaxIter}
	ckpt := checkpoints.NewCheckpointer(p.OutputDir, state,
		checkpoints.WithFormat(p.CheckpointFormat),
		checkpoints.WithLogger(logger),
		checkpoints.WithSaveToDisk(dist.IsMainProcess()),
		checkpoints.WithRunID(p.RunID),
	)
	loaded, err := ckpt.ResumeOrLoad(p.InitPath, p.Resume)
	if err != nil {
		return Record{}, 0, err
	}
	startIter := loaded + 1
	periodic := checkpoints.NewPeriodicCheckpointer(ckpt, p.CheckpointPeriod, p.MaxIter)
	periodic.SetMaxToKeep(p.MaxToKeep)

	trainLoader, err := dataloader.NewInfiniteLoader(p.TrainDataset, dataloader.Config{
		BatchSize:    p.BatchSize,
		NumWorkers:   p.NumWorkers,
		Seed:         p.Seed,
		MaxCacheSize: p.CacheSize,
	})
	if err != nil {
		return Record{}, 0, errors.Wrap(err, "failed to create train loader")
	}
	trainLoader.Advance(int64(startIter-1) * int64(p.BatchSize))

	eval := func(iteration int) (Record, error) {
		rec, _, err := EvaluateSegmentors(ctx, EvalParams{
			Extractor: p.Extractor,
			Ensemble:  p.Ensemble,
			Loader:    p.EvalLoader,
			Metric:    p.Metric,
			Iteration: iteration,
			RunID:     p.RunID,
			ForceKey:  p.ForceKey,
			Prefix:    "ITER: " + strconv.Itoa(iteration),
			Results:   p.Results,
			Dist:      dist,
			Logger:    logger,
		})
		return rec, err
	}

	lossFn := training.NewCrossEntropyLoss("mean")
	metricLogger := training.NewMetricLogger(logger, startIter)
	losses := make([]float64, p.Ensemble.Len())

	logger.Info("starting training", zap.Int("start_iter", startIter), zap.Int("max_iter", p.MaxIter))
	iteration := startIter
	for ; iteration <= p.MaxIter; iteration++ {
		if err := ctx.Err(); err != nil {
			return Record{}, iteration - 1, err
		}

		batch, err := trainLoader.Next(ctx)
		if err != nil {
			return Record{}, iteration, errors.Wrap(err, "failed to load train batch")
		}
		if batch.Targets == nil {
			return Record{}, iteration, errors.New("training needs labeled samples")
		}
		features, err := p.Extractor.Extract(ctx, batch.Images)
		if err != nil {
			return Record{}, iteration, errors.Wrap(err, "feature extraction failed")
		}

		p.Optimizer.ZeroGrad()
		err = p.Ensemble.ForEach(ctx, func(i int, en decoder.Entry) error {
			loss, err := decoderStep(en, features, batch.Targets, lossFn)
			losses[i] = loss
			return err
		})
		if err != nil {
			return Record{}, iteration, err
		}
		var total float64
		for _, l := range losses {
			total += l
		}

		if err := p.Optimizer.Step(); err != nil {
			return Record{}, iteration, errors.Wrap(err, "optimizer step failed")
		}
		p.Scheduler.Step()

		metricLogger.Update("loss", total)
		metricLogger.Update("lr", p.Scheduler.LR(0))
		if p.OnIteration != nil {
			p.OnIteration(iteration, total)
		}

		if iteration%logPeriod == 0 {
			if err := dist.Synchronize(); err != nil {
				return Record{}, iteration, err
			}
			metricLogger.Log("Training", iteration, p.MaxIter)
		}

		if p.RunningCheckpointPeriod > 0 && iteration-startIter > 5 && iteration%p.RunningCheckpointPeriod == 0 {
			if err := dist.Synchronize(); err != nil {
				return Record{}, iteration, err
			}
			if err := periodic.Save(RunningCheckpointName, iteration); err != nil {
				return Record{}, iteration, err
			}
			if err := dist.Synchronize(); err != nil {
				return Record{}, iteration, err
			}
		}
		if err := periodic.Step(iteration); err != nil {
			return Record{}, iteration, err
		}

		if p.EvalPeriod > 0 && iteration%p.EvalPeriod == 0 && iteration != p.MaxIter {
			if _, err := eval(iteration); err != nil {
				return Record{}, iteration, err
			}
			if err := dist.Synchronize(); err != nil {
				return Record{}, iteration, err
			}
		}
	}

	rec, err := eval(p.MaxIter)
	if err != nil {
		return Record{}, iteration - 1, err
	}
	return rec, iteration - 1, nil
}

// decoderStep runs one decoder forward, computes its loss at target
// resolution and accumulates its parameter gradients.
func decoderStep(en decoder.Entry, features, targets *tensor.Tensor, lossFn *training.CrossEntropyLoss) (float64, error) {
	logits, err := en.Decoder.Forward(features)
	if err != nil {
		return 0, err
	}
	gh, gw := logits.Dim(-2), logits.Dim(-1)
	h, w := targets.Dim(-2), targets.Dim(-1)

	up := logits
	if en.Key.Type == decoder.Linear {
		if up, err = tensor.ResizeBilinear(logits, h, w); err != nil {
			return 0, err
		}
	}
	res, err := lossFn.Compute(up, targets)
	if err != nil {
		return 0, err
	}
	grad := res.Grad
	if en.Key.Type == decoder.Linear {
		if grad, err = tensor.ResizeBilinearBackward(res.Grad, gh, gw); err != nil {
			return 0, err
		}
	}
	if err := en.Decoder.Backward(features, grad); err != nil {
		return 0, err
	}
	return res.Value, nil
}
