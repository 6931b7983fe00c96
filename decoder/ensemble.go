package decoder

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/cxr-probe/checkpoints"
	"github.com/tsawler/cxr-probe/optimizer"
)

// Entry is one member of an Ensemble.
type Entry struct {
	Key     Key
	Decoder Decoder
}

// Ensemble is an ordered set of decoders sharing input size and class
// count. Order follows the learning-rate grid it was built from.
type Ensemble struct {
	entries    []Entry
	index      map[string]int
	embedDim   int
	numClasses int
	decType    Type
}

// Setup builds one decoder of type t per learning rate, seeded
// seed, seed+1, ..., and returns the optimizer parameter groups, one per
// decoder with that decoder's rate.
func Setup(embedDim, numClasses int, learningRates []float64, t Type, seed int64) (*Ensemble, []*optimizer.ParamGroup, error) {
	if len(learningRates) == 0 {
		return nil, nil, errors.New("at least one learning rate is required")
	}
	if _, err := ParseType(string(t)); err != nil {
		return nil, nil, err
	}

	e := &Ensemble{
		index:      make(map[string]int, len(learningRates)),
		embedDim:   embedDim,
		numClasses: numClasses,
		decType:    t,
	}
	groups := make([]*optimizer.ParamGroup, 0, len(learningRates))
	for i, lr := range learningRates {
		if lr <= 0 {
			return nil, nil, errors.Errorf("learning rate must be positive, got %g", lr)
		}
		key := Key{LearningRate: lr, Type: t}
		name := key.String()
		if _, dup := e.index[name]; dup {
			return nil, nil, errors.Errorf("duplicate decoder %s", name)
		}
		d, err := New(t, embedDim, numClasses, seed+int64(i))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to create decoder %s", name)
		}
		e.index[name] = len(e.entries)
		e.entries = append(e.entries, Entry{Key: key, Decoder: d})
		groups = append(groups, optimizer.NewParamGroup(name, lr, d.Params()...))
	}
	return e, groups, nil
}

func (e *Ensemble) Len() int          { return len(e.entries) }
func (e *Ensemble) Type() Type        { return e.decType }
func (e *Ensemble) EmbedDim() int     { return e.embedDim }
func (e *Ensemble) NumClasses() int   { return e.numClasses }
func (e *Ensemble) Entries() []Entry  { return e.entries }
func (e *Ensemble) Entry(i int) Entry { return e.entries[i] }

// Keys returns the decoder keys in ensemble order.
func (e *Ensemble) Keys() []Key {
	keys := make([]Key, len(e.entries))
	for i, en := range e.entries {
		keys[i] = en.Key
	}
	return keys
}

// Get looks a decoder up by its formatted key.
func (e *Ensemble) Get(name string) (Decoder, bool) {
	i, ok := e.index[name]
	if !ok {
		return nil, false
	}
	return e.entries[i].Decoder, true
}

// ForEach runs fn for every decoder, each in its own goroutine, and waits
// for all of them. The first error in ensemble order is returned.
func (e *Ensemble) ForEach(ctx context.Context, fn func(i int, en Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errs := make([]error, len(e.entries))
	var wg sync.WaitGroup
	for i, en := range e.entries {
		wg.Add(1)
		go func(i int, en Entry) {
			defer wg.Done()
			errs[i] = fn(i, en)
		}(i, en)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return errors.Wrapf(err, "decoder %s", e.entries[i].Key)
		}
	}
	return nil
}

// State captures every decoder for a checkpoint.
func (e *Ensemble) State() []checkpoints.DecoderState {
	out := make([]checkpoints.DecoderState, len(e.entries))
	for i, en := range e.entries {
		out[i] = checkpoints.DecoderState{
			Key:          en.Key.String(),
			Type:         string(en.Key.Type),
			LearningRate: en.Key.LearningRate,
			Weights:      en.Decoder.State(),
		}
	}
	return out
}

// Load restores decoders by key. Every decoder of the ensemble must be
// present in states; extra states are ignored.
func (e *Ensemble) Load(states []checkpoints.DecoderState) error {
	byKey := make(map[string]*checkpoints.DecoderState, len(states))
	for i := range states {
		byKey[states[i].Key] = &states[i]
	}
	for _, en := range e.entries {
		name := en.Key.String()
		st, ok := byKey[name]
		if !ok {
			return errors.Errorf("checkpoint has no decoder %s", name)
		}
		if err := en.Decoder.Load(st.Weights); err != nil {
			return errors.Wrapf(err, "failed to load decoder %s", name)
		}
	}
	return nil
}
