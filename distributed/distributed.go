// Package distributed describes the process group a run belongs to. Only
// the main process writes files; Synchronize is a barrier across processes.
package distributed

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Context is the capability the training loop needs from a process group.
type Context interface {
	IsMainProcess() bool
	Rank() int
	WorldSize() int
	Synchronize() error
}

// Local is a single-process group; Synchronize is a no-op.
type Local struct{}

func (Local) IsMainProcess() bool { return true }
func (Local) Rank() int           { return 0 }
func (Local) WorldSize() int      { return 1 }
func (Local) Synchronize() error  { return nil }

// Static is a process group whose rank and size are fixed at start-up.
// Processes are expected to train on disjoint data and coordinate through
// the filesystem; Synchronize only records the call.
type Static struct {
	rank, worldSize int
	logger          *zap.Logger
}

func (s *Static) IsMainProcess() bool { return s.rank == 0 }
func (s *Static) Rank() int           { return s.rank }
func (s *Static) WorldSize() int      { return s.worldSize }

func (s *Static) Synchronize() error {
	s.logger.Debug("synchronize", zap.Int("rank", s.rank))
	return nil
}

// FromEnv reads RANK and WORLD_SIZE. Without RANK the process is on its own
// and Local is returned.
func FromEnv(logger *zap.Logger) (Context, error) {
	rankText, ok := os.LookupEnv("RANK")
	if !ok {
		return Local{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rank, err := strconv.Atoi(rankText)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid RANK %q", rankText)
	}
	worldSize := 1
	if ws, ok := os.LookupEnv("WORLD_SIZE"); ok {
		if worldSize, err = strconv.Atoi(ws); err != nil {
			return nil, errors.Wrapf(err, "invalid WORLD_SIZE %q", ws)
		}
	}
	if rank < 0 || worldSize < 1 || rank >= worldSize {
		return nil, errors.Errorf("rank %d outside world of size %d", rank, worldSize)
	}
	return &Static{rank: rank, worldSize: worldSize, logger: logger}, nil
}
