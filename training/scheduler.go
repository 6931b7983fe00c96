package training

import (
	"fmt"
	"math"

	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/optimizer"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// GetLR is a pure function of the step and the group's base rate.
type LRScheduler interface {
	// GetLR returns the learning rate after step scheduler steps.
	GetLR(step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Steps over which the rate decays
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 1
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(step int, baseLR float64) float64 {
	if step >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(step)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// GroupScheduler applies an LRScheduler to every parameter group of an
// optimizer, one step at a time, and remembers how far it has got so the
// schedule can be checkpointed.
type GroupScheduler struct {
	policy   LRScheduler
	opt      optimizer.Optimizer
	lastStep int
}

// NewGroupScheduler attaches policy to opt and sets every group to the
// rate for step 0.
func NewGroupScheduler(policy LRScheduler, opt optimizer.Optimizer) *GroupScheduler {
	s := &GroupScheduler{policy: policy, opt: opt}
	s.apply()
	return s
}

func (s *GroupScheduler) apply() {
	for _, g := range s.opt.ParamGroups() {
		g.LR = s.policy.GetLR(s.lastStep, g.InitialLR)
	}
}

// Step advances the schedule by one and updates every group.
func (s *GroupScheduler) Step() {
	s.lastStep++
	s.apply()
}

func (s *GroupScheduler) LastStep() int { return s.lastStep }

// LR returns the current rate of group i.
func (s *GroupScheduler) LR(i int) float64 {
	return s.opt.ParamGroups()[i].LR
}

func (s *GroupScheduler) State() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{
		Type: s.policy.GetName(),
		Parameters: map[string]interface{}{
			"last_step": float64(s.lastStep),
		},
	}
}

// Load restores the step counter and reapplies the schedule.
func (s *GroupScheduler) Load(state *checkpoints.SchedulerState) error {
	if state == nil {
		return fmt.Errorf("no scheduler state to load")
	}
	if state.Type != s.policy.GetName() {
		return fmt.Errorf("scheduler type mismatch: expected %s, got %s", s.policy.GetName(), state.Type)
	}
	step, ok := state.Parameters["last_step"].(float64)
	if !ok {
		return fmt.Errorf("scheduler state has no last_step")
	}
	s.lastStep = int(step)
	s.apply()
	return nil
}
