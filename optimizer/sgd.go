package optimizer

import (
	"fmt"

	"github.com/tsawler/cxr-probe/checkpoints"
)

// SGDOptimizerState is stochastic gradient descent over parameter groups,
// with optional momentum, Nesterov momentum and L2 weight decay.
type SGDOptimizerState struct {
	// Hyperparameters
	Momentum    float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay float64 // L2 regularization coefficient
	Nesterov    bool    // Whether to use Nesterov momentum

	groups []*ParamGroup

	// Momentum buffers indexed like flatParams; nil until a parameter's
	// first step.
	MomentumBuffers [][]float32
	flatParams      []*Param

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		Momentum:    0.0,
		WeightDecay: 0.0,
		Nesterov:    false,
	}
}

// NewSGDOptimizer creates an SGD optimizer over groups.
func NewSGDOptimizer(config SGDConfig, groups []*ParamGroup) (*SGDOptimizerState, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("no parameter groups provided")
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum")
	}

	sgd := &SGDOptimizerState{
		Momentum:    config.Momentum,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
		groups:      groups,
	}
	for gi, g := range groups {
		if g.LR < 0 {
			return nil, fmt.Errorf("learning rate of group %d cannot be negative: %f", gi, g.LR)
		}
		for _, p := range g.Params {
			if len(p.Grad) != len(p.Data) {
				return nil, fmt.Errorf("parameter %s has %d gradients for %d values", p.Name, len(p.Grad), len(p.Data))
			}
			sgd.flatParams = append(sgd.flatParams, p)
		}
	}
	sgd.MomentumBuffers = make([][]float32, len(sgd.flatParams))
	return sgd, nil
}

// Step performs a single SGD step over every group:
//
//	g = grad + wd*p
//	buf = g                (first step)
//	buf = momentum*buf + g (afterwards)
//	p -= lr * buf          (or lr * (g + momentum*buf) with Nesterov)
func (sgd *SGDOptimizerState) Step() error {
	idx := 0
	for _, g := range sgd.groups {
		lr := float32(g.LR)
		for _, p := range g.Params {
			sgd.stepParam(idx, p, lr)
			idx++
		}
	}
	sgd.StepCount++
	return nil
}

func (sgd *SGDOptimizerState) stepParam(idx int, p *Param, lr float32) {
	wd := float32(sgd.WeightDecay)
	m := float32(sgd.Momentum)

	if m == 0 {
		for i := range p.Data {
			p.Data[i] -= lr * (p.Grad[i] + wd*p.Data[i])
		}
		return
	}

	buf := sgd.MomentumBuffers[idx]
	first := buf == nil
	if first {
		buf = make([]float32, len(p.Data))
		sgd.MomentumBuffers[idx] = buf
	}
	for i := range p.Data {
		grad := p.Grad[i] + wd*p.Data[i]
		if first {
			buf[i] = grad
		} else {
			buf[i] = m*buf[i] + grad
		}
		if sgd.Nesterov {
			grad += m * buf[i]
		} else {
			grad = buf[i]
		}
		p.Data[i] -= lr * grad
	}
}

// ZeroGrad clears the gradients of every parameter.
func (sgd *SGDOptimizerState) ZeroGrad() {
	for _, p := range sgd.flatParams {
		p.ZeroGrad()
	}
}

func (sgd *SGDOptimizerState) ParamGroups() []*ParamGroup {
	return sgd.groups
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(sgd.MomentumBuffers))

	for i, buffer := range sgd.MomentumBuffers {
		tensor := extractBufferState(buffer, sgd.flatParams[i].Shape, fmt.Sprintf("momentum_%d", i), "momentum")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	lrs := make([]float64, len(sgd.groups))
	initial := make([]float64, len(sgd.groups))
	for i, g := range sgd.groups {
		lrs[i] = g.LR
		initial[i] = g.InitialLR
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"momentum":     sgd.Momentum,
			"weight_decay": sgd.WeightDecay,
			"nesterov":     sgd.Nesterov,
			"step_count":   float64(sgd.StepCount),
			"group_lrs":    lrs,
			"initial_lrs":  initial,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint. The parameter layout
// must match the one the state was taken from.
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	if lrs, ok := extractFloat64Slice(state.Parameters, "group_lrs"); ok {
		if len(lrs) != len(sgd.groups) {
			return fmt.Errorf("state has %d parameter groups, optimizer has %d", len(lrs), len(sgd.groups))
		}
		for i, lr := range lrs {
			sgd.groups[i].LR = lr
		}
	}
	if initial, ok := extractFloat64Slice(state.Parameters, "initial_lrs"); ok && len(initial) == len(sgd.groups) {
		for i, lr := range initial {
			sgd.groups[i].InitialLR = lr
		}
	}

	sgd.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	for _, tensor := range state.StateData {
		if tensor.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(sgd.flatParams) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
		}
		buf, err := restoreBufferState(tensor.Data, len(sgd.flatParams[idx].Data), tensor.Name)
		if err != nil {
			return err
		}
		sgd.MomentumBuffers[idx] = buf
	}

	return nil
}
