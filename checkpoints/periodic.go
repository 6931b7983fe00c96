package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// PeriodicCheckpointer saves "<prefix>_<iteration %07d>" every period
// iterations and "<prefix>_final" at maxIter.
type PeriodicCheckpointer struct {
	checkpointer *Checkpointer
	period       int
	maxIter      int
	maxToKeep    int // 0 keeps everything
	filePrefix   string
	recent       []string
}

func NewPeriodicCheckpointer(c *Checkpointer, period, maxIter int) *PeriodicCheckpointer {
	return &PeriodicCheckpointer{
		checkpointer: c,
		period:       period,
		maxIter:      maxIter,
		filePrefix:   "model",
	}
}

// SetMaxToKeep bounds the number of numbered checkpoints left on disk. The
// final checkpoint is never removed.
func (pc *PeriodicCheckpointer) SetMaxToKeep(n int) { pc.maxToKeep = n }

// Step saves whatever is due at iteration.
func (pc *PeriodicCheckpointer) Step(iteration int) error {
	if pc.period > 0 && iteration%pc.period == 0 {
		name := fmt.Sprintf("%s_%07d", pc.filePrefix, iteration)
		if err := pc.checkpointer.Save(name, iteration); err != nil {
			return err
		}
		pc.recent = append(pc.recent, name)
		pc.cleanupOldCheckpoints()
	}
	if pc.maxIter > 0 && iteration >= pc.maxIter {
		return pc.checkpointer.Save(pc.filePrefix+"_final", iteration)
	}
	return nil
}

// Save writes an extra named checkpoint, such as the running checkpoint.
func (pc *PeriodicCheckpointer) Save(name string, iteration int) error {
	return pc.checkpointer.Save(name, iteration)
}

func (pc *PeriodicCheckpointer) cleanupOldCheckpoints() {
	if pc.maxToKeep <= 0 || !pc.checkpointer.save {
		return
	}
	for len(pc.recent) > pc.maxToKeep {
		oldest := pc.recent[0]
		pc.recent = pc.recent[1:]
		path := filepath.Join(pc.checkpointer.dir, oldest+pc.checkpointer.saver.Format().Extension())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			pc.checkpointer.logger.Warn("failed to remove old checkpoint", zap.String("path", path), zap.Error(err))
		}
	}
}
