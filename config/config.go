// Package config holds the run configuration of the segmentation driver.
// Values come from defaults, then an optional YAML file, then command line
// flags.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// DefaultLearningRates is the grid searched when none is given.
var DefaultLearningRates = []float64{
	1e-6, 2e-6, 5e-6, 1e-5, 2e-5, 5e-5, 1e-4, 2e-4, 5e-4,
	1e-3, 2e-3, 5e-3, 1e-2, 5e-2, 1e-1,
}

// Backbone configures the reference patch-projection backbone.
type Backbone struct {
	EmbedDim  int   `yaml:"embed_dim"`
	PatchSize int   `yaml:"patch_size"`
	Seed      int64 `yaml:"seed"`
}

// Config is a complete run description.
type Config struct {
	OutputDir    string `yaml:"output_dir"`
	TrainDataset string `yaml:"train_dataset"`
	ValDataset   string `yaml:"val_dataset"`
	TestDataset  string `yaml:"test_dataset"`

	Epochs                  int       `yaml:"epochs"`
	EpochLength             int       `yaml:"epoch_length"` // 0 derives it from the train set
	BatchSize               int       `yaml:"batch_size"`
	NumWorkers              int       `yaml:"num_workers"`
	CacheSize               int       `yaml:"cache_size"`
	SaveCheckpointFrequency int       `yaml:"save_checkpoint_frequency"`
	MaxCheckpointsToKeep    int       `yaml:"max_checkpoints_to_keep"` // 0 keeps all
	EvalPeriodEpochs        int       `yaml:"eval_period_epochs"`
	LearningRates           []float64 `yaml:"learning_rates"`
	Seed                    int64     `yaml:"seed"`

	NoResume         bool   `yaml:"no_resume"`
	SegmentorFpath   string `yaml:"segmentor_fpath"`
	ValMetricType    string `yaml:"val_metric_type"`
	DecoderType      string `yaml:"decoder_type"`
	ImageSize        int    `yaml:"image_size"`
	Precision        string `yaml:"precision"`
	CheckpointFormat string `yaml:"checkpoint_format"`

	// Classification evaluation settings. The segmentation driver checks and
	// reports them but does not use them.
	TestMetricTypes   []string `yaml:"test_metric_types,omitempty"`
	ClassifierFpath   string   `yaml:"classifier_fpath,omitempty"`
	ClassMappingFpath string   `yaml:"class_mapping_fpath,omitempty"`

	Backbone Backbone `yaml:"backbone"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		OutputDir:               ".",
		TrainDataset:            "MC:split=TRAIN",
		TestDataset:             "MC:split=TEST",
		Epochs:                  10,
		BatchSize:               128,
		NumWorkers:              0,
		CacheSize:               0,
		SaveCheckpointFrequency: 5,
		EvalPeriodEpochs:        5,
		LearningRates:           append([]float64(nil), DefaultLearningRates...),
		Seed:                    0,
		ValMetricType:           "segmentation",
		DecoderType:             "linear",
		ImageSize:               448,
		Precision:               "bfloat16",
		CheckpointFormat:        "json",
		Backbone: Backbone{
			EmbedDim:  384,
			PatchSize: 14,
			Seed:      0,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// Save writes cfg as YAML, e.g. next to a run's outputs.
func Save(cfg Config, path string) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return errors.Wrapf(os.WriteFile(path, b, 0644), "failed to write config %s", path)
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.TrainDataset) == "" {
		problems = append(problems, "train dataset is required")
	}
	if strings.TrimSpace(c.TestDataset) == "" {
		problems = append(problems, "test dataset is required")
	}
	if c.OutputDir == "" {
		problems = append(problems, "output directory is required")
	}
	if c.Epochs <= 0 {
		problems = append(problems, "epochs must be positive")
	}
	if c.EpochLength < 0 {
		problems = append(problems, "epoch length cannot be negative")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch size must be positive")
	}
	if c.NumWorkers < 0 {
		problems = append(problems, "num workers cannot be negative")
	}
	if c.CacheSize < 0 {
		problems = append(problems, "cache size cannot be negative")
	}
	if c.SaveCheckpointFrequency <= 0 {
		problems = append(problems, "save checkpoint frequency must be positive")
	}
	if c.MaxCheckpointsToKeep < 0 {
		problems = append(problems, "max checkpoints to keep cannot be negative")
	}
	if c.EvalPeriodEpochs < 0 {
		problems = append(problems, "eval period cannot be negative")
	}
	if len(c.LearningRates) == 0 {
		problems = append(problems, "at least one learning rate is required")
	}
	for _, lr := range c.LearningRates {
		if lr <= 0 {
			problems = append(problems, "learning rates must be positive")
			break
		}
	}
	if c.ImageSize <= 0 {
		problems = append(problems, "image size must be positive")
	}
	if c.Backbone.EmbedDim <= 0 || c.Backbone.PatchSize <= 0 {
		problems = append(problems, "backbone embed dim and patch size must be positive")
	} else if c.ImageSize%c.Backbone.PatchSize != 0 {
		problems = append(problems, "image size must be a multiple of the patch size")
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
