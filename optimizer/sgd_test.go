package optimizer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/cxr-probe/checkpoints"
)

func onesParam(name string, n int) *Param {
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return NewParam(name, []int{n}, data)
}

func setGrad(p *Param, v float32) {
	for i := range p.Grad {
		p.Grad[i] = v
	}
}

func TestDefaultSGDConfig(t *testing.T) {
	config := DefaultSGDConfig()
	assert.Equal(t, 0.0, config.Momentum)
	assert.Equal(t, 0.0, config.WeightDecay)
	assert.False(t, config.Nesterov)
}

func TestSGDOptimizerCreation(t *testing.T) {
	_, err := NewSGDOptimizer(DefaultSGDConfig(), nil)
	assert.Error(t, err)

	_, err = NewSGDOptimizer(SGDConfig{Momentum: -1}, []*ParamGroup{NewParamGroup("a", 0.1, onesParam("w", 2))})
	assert.Error(t, err)

	_, err = NewSGDOptimizer(SGDConfig{Nesterov: true}, []*ParamGroup{NewParamGroup("a", 0.1, onesParam("w", 2))})
	assert.Error(t, err)

	_, err = NewSGDOptimizer(DefaultSGDConfig(), []*ParamGroup{NewParamGroup("a", -0.1, onesParam("w", 2))})
	assert.Error(t, err)

	bad := onesParam("w", 2)
	bad.Grad = bad.Grad[:1]
	_, err = NewSGDOptimizer(DefaultSGDConfig(), []*ParamGroup{NewParamGroup("a", 0.1, bad)})
	assert.Error(t, err)
}

func TestSGDVanillaStep(t *testing.T) {
	p := onesParam("w", 3)
	sgd, err := NewSGDOptimizer(DefaultSGDConfig(), []*ParamGroup{NewParamGroup("a", 0.5, p)})
	require.NoError(t, err)

	setGrad(p, 1)
	require.NoError(t, sgd.Step())
	for _, v := range p.Data {
		assert.InDelta(t, 0.5, v, 1e-7)
	}
	assert.Equal(t, uint64(1), sgd.GetStepCount())

	sgd.ZeroGrad()
	assert.Equal(t, []float32{0, 0, 0}, p.Grad)
}

func TestSGDMomentumPerGroup(t *testing.T) {
	a := onesParam("a.weight", 2)
	b := onesParam("b.weight", 2)
	sgd, err := NewSGDOptimizer(SGDConfig{Momentum: 0.9}, []*ParamGroup{
		NewParamGroup("a", 0.1, a),
		NewParamGroup("b", 0.01, b),
	})
	require.NoError(t, err)

	setGrad(a, 1)
	setGrad(b, 1)
	require.NoError(t, sgd.Step())
	// first step seeds the buffer with the gradient
	assert.InDelta(t, 0.9, a.Data[0], 1e-6)
	assert.InDelta(t, 0.99, b.Data[0], 1e-6)

	require.NoError(t, sgd.Step())
	// buf = 0.9*1 + 1 = 1.9
	assert.InDelta(t, 0.9-0.19, a.Data[0], 1e-6)
	assert.InDelta(t, 0.99-0.019, b.Data[0], 1e-6)
}

func TestSGDWeightDecayAndNesterov(t *testing.T) {
	p := onesParam("w", 1)
	sgd, err := NewSGDOptimizer(SGDConfig{Momentum: 0.5, WeightDecay: 0.1, Nesterov: true}, []*ParamGroup{NewParamGroup("a", 1, p)})
	require.NoError(t, err)

	setGrad(p, 0)
	require.NoError(t, sgd.Step())
	// g = 0.1, buf = 0.1, update = g + 0.5*buf = 0.15
	assert.InDelta(t, 0.85, p.Data[0], 1e-6)
}

func TestSGDStateRoundTrip(t *testing.T) {
	build := func() (*SGDOptimizerState, *Param, *Param) {
		a := onesParam("a.weight", 2)
		b := onesParam("b.weight", 3)
		sgd, err := NewSGDOptimizer(SGDConfig{Momentum: 0.9}, []*ParamGroup{
			NewParamGroup("a", 0.1, a),
			NewParamGroup("b", 0.2, b),
		})
		require.NoError(t, err)
		return sgd, a, b
	}

	orig, a, b := build()
	setGrad(a, 1)
	setGrad(b, 2)
	require.NoError(t, orig.Step())
	orig.ParamGroups()[1].LR = 0.05

	state, err := orig.GetState()
	require.NoError(t, err)
	assert.Equal(t, "SGD", state.Type)
	assert.Len(t, state.StateData, 2)

	// through a checkpoint file so numbers come back as float64 / []interface{}
	path := filepath.Join(t.TempDir(), "opt.json")
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)
	require.NoError(t, saver.SaveCheckpoint(&checkpoints.Checkpoint{OptimizerState: state}, path))
	loaded, err := saver.LoadCheckpoint(path)
	require.NoError(t, err)

	restored, ra, rb := build()
	copy(ra.Data, a.Data)
	copy(rb.Data, b.Data)
	require.NoError(t, restored.LoadState(loaded.OptimizerState))
	assert.Equal(t, uint64(1), restored.GetStepCount())
	assert.Equal(t, 0.05, restored.ParamGroups()[1].LR)
	assert.Equal(t, 0.2, restored.ParamGroups()[1].InitialLR)

	setGrad(ra, 1)
	setGrad(rb, 2)
	require.NoError(t, orig.Step())
	require.NoError(t, restored.Step())
	assert.Equal(t, a.Data, ra.Data)
	assert.Equal(t, b.Data, rb.Data)
}

func TestSGDLoadStateErrors(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{Momentum: 0.9}, []*ParamGroup{NewParamGroup("a", 0.1, onesParam("w", 2))})
	require.NoError(t, err)

	assert.Error(t, sgd.LoadState(nil))
	assert.Error(t, sgd.LoadState(&OptimizerState{Type: "Adam"}))
	assert.Error(t, sgd.LoadState(&OptimizerState{
		Type:       "SGD",
		Parameters: map[string]interface{}{"group_lrs": []interface{}{0.1, 0.2}},
	}))
	assert.Error(t, sgd.LoadState(&OptimizerState{
		Type:      "SGD",
		StateData: []checkpoints.OptimizerTensor{{Name: "momentum_5", Data: []float32{1, 2}, StateType: "momentum"}},
	}))
	assert.Error(t, sgd.LoadState(&OptimizerState{
		Type:      "SGD",
		StateData: []checkpoints.OptimizerTensor{{Name: "momentum_0", Data: []float32{1}, StateType: "momentum"}},
	}))
}
