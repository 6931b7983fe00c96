package checkpoints

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNoCheckpoint is returned when a load is requested but nothing has been
// saved yet.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// LastCheckpointFile names the file holding the base name of the most
// recent save in a checkpoint directory.
const LastCheckpointFile = "last_checkpoint"

// Checkpointable is the training state a Checkpointer persists.
type Checkpointable interface {
	// Snapshot captures the current state.
	Snapshot() (*Checkpoint, error)
	// Restore loads c. With modelOnly set only decoder weights are applied;
	// optimizer and scheduler keep their fresh state.
	Restore(c *Checkpoint, modelOnly bool) error
}

// Checkpointer saves and restores a Checkpointable under one directory.
type Checkpointer struct {
	dir    string
	model  Checkpointable
	saver  *CheckpointSaver
	logger *zap.Logger
	save   bool
	runID  string
}

// CheckpointerOption configures a Checkpointer.
type CheckpointerOption func(*Checkpointer)

// WithFormat selects the on-disk format of new checkpoints.
func WithFormat(format CheckpointFormat) CheckpointerOption {
	return func(c *Checkpointer) { c.saver = NewCheckpointSaver(format) }
}

func WithLogger(logger *zap.Logger) CheckpointerOption {
	return func(c *Checkpointer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRunID stamps every saved checkpoint with the run's id.
func WithRunID(id string) CheckpointerOption {
	return func(c *Checkpointer) { c.runID = id }
}

// WithSaveToDisk turns writes on or off; non-main processes pass false.
func WithSaveToDisk(save bool) CheckpointerOption {
	return func(c *Checkpointer) { c.save = save }
}

func NewCheckpointer(dir string, model Checkpointable, opts ...CheckpointerOption) *Checkpointer {
	c := &Checkpointer{
		dir:    dir,
		model:  model,
		saver:  NewCheckpointSaver(FormatJSON),
		logger: zap.NewNop(),
		save:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Checkpointer) Dir() string { return c.dir }

// Save snapshots the model and writes <dir>/<name><ext> with the given
// iteration, then points last_checkpoint at it.
func (c *Checkpointer) Save(name string, iteration int) error {
	if !c.save || c.dir == "" {
		return nil
	}
	ckpt, err := c.model.Snapshot()
	if err != nil {
		return errors.Wrap(err, "failed to snapshot training state")
	}
	ckpt.TrainingState.Iteration = iteration
	if ckpt.Metadata.RunID == "" {
		ckpt.Metadata.RunID = c.runID
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}
	base := name + c.saver.Format().Extension()
	path := filepath.Join(c.dir, base)
	if err := c.saver.SaveCheckpoint(ckpt, path); err != nil {
		return err
	}
	if fi, err := os.Stat(path); err == nil {
		c.logger.Info("saved checkpoint", zap.String("path", path), zap.Int("iteration", iteration),
			zap.String("size", humanize.Bytes(uint64(fi.Size()))))
	}
	return c.tagLastCheckpoint(base)
}

func (c *Checkpointer) tagLastCheckpoint(base string) error {
	tmp := filepath.Join(c.dir, LastCheckpointFile+".tmp")
	if err := os.WriteFile(tmp, []byte(base), 0644); err != nil {
		return errors.Wrap(err, "failed to write last_checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(c.dir, LastCheckpointFile)), "failed to update last_checkpoint")
}

// HasCheckpoint reports whether last_checkpoint exists.
func (c *Checkpointer) HasCheckpoint() bool {
	_, err := os.Stat(filepath.Join(c.dir, LastCheckpointFile))
	return err == nil
}

// LastCheckpoint returns the path recorded in last_checkpoint.
func (c *Checkpointer) LastCheckpoint() (string, error) {
	b, err := os.ReadFile(filepath.Join(c.dir, LastCheckpointFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCheckpoint
		}
		return "", errors.Wrap(err, "failed to read last_checkpoint")
	}
	return filepath.Join(c.dir, strings.TrimSpace(string(b))), nil
}

// Load reads path, whatever format it is in, and restores it into the
// model. The restored checkpoint is returned for its training state.
func (c *Checkpointer) Load(path string, modelOnly bool) (*Checkpoint, error) {
	c.logger.Info("loading checkpoint", zap.String("path", path), zap.Bool("model_only", modelOnly))
	ckpt, err := NewCheckpointSaver(FormatFromPath(path)).LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := c.model.Restore(ckpt, modelOnly); err != nil {
		return nil, errors.Wrapf(err, "failed to restore %s", path)
	}
	return ckpt, nil
}

// ResumeOrLoad resumes from the last checkpoint in the directory when resume
// is set and one exists. Otherwise it loads only the decoder weights from
// path when path is non-empty. It returns the iteration stored in whatever
// was loaded, or 0 when starting fresh.
func (c *Checkpointer) ResumeOrLoad(path string, resume bool) (int, error) {
	if resume && c.HasCheckpoint() {
		last, err := c.LastCheckpoint()
		if err != nil {
			return 0, err
		}
		ckpt, err := c.Load(last, false)
		if err != nil {
			return 0, err
		}
		return ckpt.TrainingState.Iteration, nil
	}
	if path == "" {
		c.logger.Info("no checkpoint found, initializing from scratch")
		return 0, nil
	}
	ckpt, err := c.Load(path, true)
	if err != nil {
		return 0, err
	}
	return ckpt.TrainingState.Iteration, nil
}
