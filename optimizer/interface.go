package optimizer

import (
	"fmt"

	"github.com/tsawler/cxr-probe/checkpoints"
)

// Optimizer updates a set of parameter groups from their accumulated
// gradients. Every group carries its own learning rate so an ensemble of
// decoders can be trained by one optimizer.
type Optimizer interface {
	// Step applies one update to every parameter using the current group
	// learning rates.
	Step() error

	// ZeroGrad clears every accumulated gradient.
	ZeroGrad()

	// ParamGroups exposes the groups so schedulers can adjust their rates.
	ParamGroups() []*ParamGroup

	// GetState extracts optimizer state for checkpointing.
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64
}

// OptimizerState is the serialized form shared with the checkpoints package.
type OptimizerState = checkpoints.OptimizerState

// Param is a trainable tensor and its gradient, both row-major.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParam wraps data as a parameter with a zeroed gradient.
func NewParam(name string, shape []int, data []float32) *Param {
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  data,
		Grad:  make([]float32, len(data)),
	}
}

// ZeroGrad clears the gradient in place.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ParamGroup is a set of parameters sharing a learning rate. InitialLR is
// the rate the group was created with; schedulers derive LR from it.
type ParamGroup struct {
	Name      string
	LR        float64
	InitialLR float64
	Params    []*Param
}

// NewParamGroup creates a group whose current and initial rate are lr.
func NewParamGroup(name string, lr float64, params ...*Param) *ParamGroup {
	return &ParamGroup{Name: name, LR: lr, InitialLR: lr, Params: params}
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "momentum_12"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("no optimizer state to load")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
