package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/backbone"
	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/config"
	"github.com/tsawler/cxr-probe/decoder"
	"github.com/tsawler/cxr-probe/distributed"
	"github.com/tsawler/cxr-probe/logging"
	"github.com/tsawler/cxr-probe/segmentation"
	"github.com/tsawler/cxr-probe/training"
	"github.com/tsawler/cxr-probe/vision/dataset"
	"github.com/tsawler/cxr-probe/vision/preprocessing"
)

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := loadConfig(a)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("segmentation eval failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dist, err := distributed.FromEnv(logger)
	if err != nil {
		return err
	}
	logger = logger.With(zap.Int("rank", dist.Rank()))

	precision, err := backbone.ParsePrecision(cfg.Precision)
	if err != nil {
		return err
	}
	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return err
	}
	decoderType, err := decoder.ParseType(cfg.DecoderType)
	if err != nil {
		return err
	}
	metricType, err := training.ParseMetricType(cfg.ValMetricType)
	if err != nil {
		return err
	}
	if err := reportClassificationSettings(cfg, logger); err != nil {
		return err
	}

	if dist.IsMainProcess() {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
		if err := config.Save(cfg, filepath.Join(cfg.OutputDir, "config.yaml")); err != nil {
			return err
		}
	}

	dsOpts := []dataset.Option{
		dataset.WithLogger(logger),
		dataset.WithTransform(preprocessing.NewSegmentationTransform(cfg.ImageSize)),
	}
	train, err := dataset.MakeDataset(cfg.TrainDataset, dsOpts...)
	if err != nil {
		return errors.Wrap(err, "train dataset")
	}
	test, err := dataset.MakeDataset(cfg.TestDataset, dsOpts...)
	if err != nil {
		return errors.Wrap(err, "test dataset")
	}
	opts := segmentation.Options{
		TrainDataset:            train,
		TestDataset:             test,
		OutputDir:               cfg.OutputDir,
		Epochs:                  cfg.Epochs,
		EpochLength:             cfg.EpochLength,
		BatchSize:               cfg.BatchSize,
		NumWorkers:              cfg.NumWorkers,
		CacheSize:               cfg.CacheSize,
		SaveCheckpointFrequency: cfg.SaveCheckpointFrequency,
		MaxCheckpointsToKeep:    cfg.MaxCheckpointsToKeep,
		EvalPeriodEpochs:        cfg.EvalPeriodEpochs,
		LearningRates:           cfg.LearningRates,
		DecoderType:             decoderType,
		MetricType:              metricType,
		Resume:                  !cfg.NoResume,
		SegmentorPath:           cfg.SegmentorFpath,
		CheckpointFormat:        format,
		Seed:                    cfg.Seed,
		Dist:                    dist,
		Logger:                  logger,
	}
	if cfg.ValDataset != "" {
		val, err := dataset.MakeDataset(cfg.ValDataset, dsOpts...)
		if err != nil {
			return errors.Wrap(err, "val dataset")
		}
		opts.ValDataset = val
	}

	pp, err := backbone.NewPatchProjection(cfg.Backbone.EmbedDim, cfg.Backbone.PatchSize, cfg.Backbone.Seed)
	if err != nil {
		return err
	}
	opts.Extractor = backbone.NewFeatureExtractor(pp, precision)

	logger.Info("starting segmentation eval",
		zap.String("output_dir", cfg.OutputDir),
		zap.String("train", cfg.TrainDataset),
		zap.String("val", cfg.ValDataset),
		zap.String("test", cfg.TestDataset),
		zap.Int("train_size", train.Len()),
		zap.Int("decoders", len(cfg.LearningRates)),
		zap.Stringer("precision", precision))

	rec, err := segmentation.Run(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("done",
		zap.String("best", rec.BestSegmentor.Name),
		zap.Stringer("results", rec.BestSegmentor.Results),
		zap.String("run_id", rec.RunID))
	return nil
}

// reportClassificationSettings validates the test metric types and warns
// about every classification setting, none of which applies to segmentation
// decoders.
func reportClassificationSettings(cfg config.Config, logger *zap.Logger) error {
	for _, name := range cfg.TestMetricTypes {
		if _, err := training.ParseMetricType(name); err != nil {
			return errors.Wrap(err, "test metric types")
		}
	}
	if len(cfg.TestMetricTypes) > 0 {
		logger.Warn("test metric types are ignored by segmentation eval", zap.Strings("test_metric_types", cfg.TestMetricTypes))
	}
	if cfg.ClassifierFpath != "" {
		logger.Warn("classifier weights are ignored by segmentation eval", zap.String("classifier_fpath", cfg.ClassifierFpath))
	}
	if cfg.ClassMappingFpath != "" {
		logger.Warn("class mapping is ignored by segmentation eval", zap.String("class_mapping_fpath", cfg.ClassMappingFpath))
	}
	return nil
}
