package main

import (
	"github.com/tsawler/cxr-probe/config"
)

// args are the command line flags. Pointer fields are nil unless given and
// then override the config file.
type args struct {
	Config string `arg:"--config" help:"YAML run configuration"`

	OutputDir               *string   `arg:"--output-dir" help:"directory for checkpoints and metrics"`
	TrainDataset            *string   `arg:"--train-dataset" help:"e.g. MC:split=TRAIN:root=/data/MC"`
	ValDataset              *string   `arg:"--val-dataset"`
	TestDataset             *string   `arg:"--test-dataset"`
	BatchSize               *int      `arg:"--batch-size"`
	Epochs                  *int      `arg:"--epochs"`
	EpochLength             *int      `arg:"--epoch-length" help:"iterations per epoch, 0 for one pass over the train set"`
	NumWorkers              *int      `arg:"--num-workers"`
	CacheSize               *int      `arg:"--cache-size" help:"decoded samples kept in memory"`
	SaveCheckpointFrequency *int      `arg:"--save-checkpoint-frequency" help:"in epochs"`
	MaxCheckpointsToKeep    *int      `arg:"--max-checkpoints-to-keep" help:"numbered checkpoints kept per stage, 0 for all"`
	EvalPeriodEpochs        *int      `arg:"--eval-period-epochs"`
	LearningRates           []float64 `arg:"--learning-rates"`
	NoResume                bool      `arg:"--no-resume" help:"ignore checkpoints in the output directory"`
	ValMetricType           *string   `arg:"--val-metric-type"`
	TestMetricTypes         []string  `arg:"--test-metric-types" help:"classification metrics; not used by segmentation"`
	ClassifierFpath         *string   `arg:"--classifier-fpath" help:"pretrained classifier; not used by segmentation"`
	ClassMappingFpath       *string   `arg:"--class-mapping-fpath" help:"class mapping; not used by segmentation"`
	SegmentorFpath          *string   `arg:"--segmentor-fpath" help:"decoder weights to start from"`
	DecoderType             *string   `arg:"--decoder-type"`
	ImageSize               *int      `arg:"--image-size"`
	Precision               *string   `arg:"--precision" help:"float32, bfloat16 or float16"`
	CheckpointFormat        *string   `arg:"--checkpoint-format" help:"json or proto"`
	Seed                    *int64    `arg:"--seed"`
	LogLevel                *string   `arg:"--log-level"`
	LogJSON                 bool      `arg:"--log-json"`
}

func (args) Description() string {
	return "Trains linear decoders on frozen backbone features for chest X-ray segmentation and reports the best one."
}

// loadConfig starts from the defaults or the config file and applies every
// flag that was given.
func loadConfig(a args) (config.Config, error) {
	cfg := config.Defaults()
	if a.Config != "" {
		var err error
		if cfg, err = config.Load(a.Config); err != nil {
			return cfg, err
		}
	}
	setString(&cfg.OutputDir, a.OutputDir)
	setString(&cfg.TrainDataset, a.TrainDataset)
	setString(&cfg.ValDataset, a.ValDataset)
	setString(&cfg.TestDataset, a.TestDataset)
	setInt(&cfg.BatchSize, a.BatchSize)
	setInt(&cfg.Epochs, a.Epochs)
	setInt(&cfg.EpochLength, a.EpochLength)
	setInt(&cfg.NumWorkers, a.NumWorkers)
	setInt(&cfg.CacheSize, a.CacheSize)
	setInt(&cfg.SaveCheckpointFrequency, a.SaveCheckpointFrequency)
	setInt(&cfg.MaxCheckpointsToKeep, a.MaxCheckpointsToKeep)
	setInt(&cfg.EvalPeriodEpochs, a.EvalPeriodEpochs)
	if len(a.LearningRates) > 0 {
		cfg.LearningRates = a.LearningRates
	}
	if a.NoResume {
		cfg.NoResume = true
	}
	setString(&cfg.ValMetricType, a.ValMetricType)
	if len(a.TestMetricTypes) > 0 {
		cfg.TestMetricTypes = a.TestMetricTypes
	}
	setString(&cfg.ClassifierFpath, a.ClassifierFpath)
	setString(&cfg.ClassMappingFpath, a.ClassMappingFpath)
	setString(&cfg.SegmentorFpath, a.SegmentorFpath)
	setString(&cfg.DecoderType, a.DecoderType)
	setInt(&cfg.ImageSize, a.ImageSize)
	setString(&cfg.Precision, a.Precision)
	setString(&cfg.CheckpointFormat, a.CheckpointFormat)
	if a.Seed != nil {
		cfg.Seed = *a.Seed
	}
	setString(&cfg.LogLevel, a.LogLevel)
	if a.LogJSON {
		cfg.LogJSON = true
	}
	return cfg, cfg.Validate()
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
