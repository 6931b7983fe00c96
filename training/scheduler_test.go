package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/optimizer"
)

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(100, 0.0)
	baseLR := 0.1

	tests := []struct {
		step     int
		expected float64
	}{
		{0, 0.1},
		{25, 0.1 * (1 + math.Cos(math.Pi*0.25)) / 2},
		{50, 0.05},
		{100, 0.0},
		{150, 0.0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, scheduler.GetLR(tt.step, baseLR), 1e-12, "step %d", tt.step)
	}

	withMin := NewCosineAnnealingLRScheduler(10, 0.01)
	assert.InDelta(t, 0.01, withMin.GetLR(10, 0.1), 1e-12)
	assert.Equal(t, "CosineAnnealingLR", withMin.GetName())
}

func newTestSGD(t *testing.T, lrs ...float64) *optimizer.SGDOptimizerState {
	groups := make([]*optimizer.ParamGroup, len(lrs))
	for i, lr := range lrs {
		groups[i] = optimizer.NewParamGroup("g", lr, optimizer.NewParam("w", []int{1}, []float32{0}))
	}
	sgd, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{Momentum: 0.9}, groups)
	require.NoError(t, err)
	return sgd
}

func TestGroupScheduler(t *testing.T) {
	sgd := newTestSGD(t, 0.1, 0.01)
	s := NewGroupScheduler(NewCosineAnnealingLRScheduler(4, 0), sgd)
	assert.Equal(t, 0.1, s.LR(0))

	s.Step()
	s.Step()
	assert.Equal(t, 2, s.LastStep())
	assert.InDelta(t, 0.05, s.LR(0), 1e-12)
	assert.InDelta(t, 0.005, s.LR(1), 1e-12)

	state := s.State()
	fresh := newTestSGD(t, 0.1, 0.01)
	restored := NewGroupScheduler(NewCosineAnnealingLRScheduler(4, 0), fresh)
	require.NoError(t, restored.Load(state))
	assert.Equal(t, 2, restored.LastStep())
	assert.InDelta(t, 0.005, restored.LR(1), 1e-12)

	s.Step()
	s.Step()
	assert.InDelta(t, 0, s.LR(0), 1e-12)

	assert.Error(t, restored.Load(nil))
	assert.Error(t, restored.Load(&checkpoints.SchedulerState{Type: "StepLR"}))
	assert.Error(t, restored.Load(&checkpoints.SchedulerState{Type: "CosineAnnealingLR", Parameters: map[string]interface{}{}}))
}
