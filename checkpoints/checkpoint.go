package checkpoints

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension is the file suffix used for the format.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatProto:
		return ".pb"
	default:
		return ".json"
	}
}

// ParseFormat accepts "json" or "proto"/"pb".
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "json", "JSON", "":
		return FormatJSON, nil
	case "proto", "pb", "protobuf", "Proto":
		return FormatProto, nil
	default:
		return FormatJSON, errors.Errorf("unsupported checkpoint format %q", s)
	}
}

// FormatFromPath picks the format from a checkpoint file name.
func FormatFromPath(path string) CheckpointFormat {
	if filepath.Ext(path) == ".pb" {
		return FormatProto
	}
	return FormatJSON
}

// Checkpoint is the complete state of a decoder ensemble run: weights of
// every decoder, optimizer and scheduler state and the iteration reached.
type Checkpoint struct {
	TrainingState  TrainingState      `json:"training_state"`
	Decoders       []DecoderState     `json:"decoders"`
	OptimizerState *OptimizerState    `json:"optimizer_state,omitempty"`
	SchedulerState *SchedulerState    `json:"scheduler_state,omitempty"`
	Metadata       CheckpointMetadata `json:"metadata"`
}

// DecoderState holds one decoder of the ensemble. Key is the canonical
// decoder name; Type and LearningRate are stored separately so nothing has
// to be parsed back out of the key.
type DecoderState struct {
	Key          string         `json:"key"`
	Type         string         `json:"type"`
	LearningRate float64        `json:"learning_rate"`
	Weights      []WeightTensor `json:"weights"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias"
}

// TrainingState captures the current training progress
type TrainingState struct {
	Iteration    int     `json:"iteration"`
	MaxIter      int     `json:"max_iter"`
	LearningRate float64 `json:"learning_rate"`
}

// OptimizerState captures optimizer-specific state (momentum buffers and
// hyperparameters).
type OptimizerState struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// SchedulerState captures a learning-rate scheduler's progress.
type SchedulerState struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving checkpoints in either format
type CheckpointSaver struct {
	format CheckpointFormat
}

func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

func (cs *CheckpointSaver) Format() CheckpointFormat { return cs.format }

// SaveCheckpoint writes checkpoint to path. The file is written to a
// temporary name first and renamed into place, so an existing checkpoint
// is never left half-written.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "cxr-probe"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer os.Remove(tmp.Name())

	switch cs.format {
	case FormatJSON:
		err = writeJSON(tmp, checkpoint)
	case FormatProto:
		err = writeProto(tmp, checkpoint)
	default:
		err = errors.Errorf("unsupported checkpoint format: %s", cs.format)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode checkpoint %s", path)
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to move checkpoint into place")
}

// LoadCheckpoint reads a checkpoint in the saver's format.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	switch cs.format {
	case FormatJSON:
		return readJSON(file)
	case FormatProto:
		return readProto(file)
	default:
		return nil, errors.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

func writeJSON(w io.Writer, checkpoint *Checkpoint) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(checkpoint)
}

func readJSON(r io.Reader) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.NewDecoder(r).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}

// Decoder looks up a decoder state by key.
func (c *Checkpoint) Decoder(key string) (*DecoderState, bool) {
	for i := range c.Decoders {
		if c.Decoders[i].Key == key {
			return &c.Decoders[i], true
		}
	}
	return nil, false
}
