package dataloader

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/tsawler/cxr-probe/tensor"
)

// Dataset is the read side of a dataset adapter.
type Dataset interface {
	Len() int
	Get(index int) (image *tensor.Tensor, target *tensor.Tensor, err error)
}

// Batch is a stacked group of samples. Targets is nil when the samples are
// unlabeled.
type Batch struct {
	Images  *tensor.Tensor // [B, 3, H, W]
	Targets *tensor.Tensor // [B, H, W] or [B, C]
	Indices []int
}

// Size is the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Indices) }

// Config holds configuration for the loaders
type Config struct {
	BatchSize    int
	NumWorkers   int           // parallel decode workers; 0 decodes inline
	Seed         int64         // shuffling seed of the infinite loader
	MaxCacheSize int           // 0 disables the sample cache
	CacheManager *CacheManager // optional shared cache
}

type loader struct {
	dataset    Dataset
	batchSize  int
	numWorkers int
	cache      *CacheManager
}

func newLoader(dataset Dataset, config Config) (*loader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, errors.New("dataloader: empty dataset")
	}
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("dataloader: invalid batch size %d", config.BatchSize)
	}

	l := &loader{
		dataset:    dataset,
		batchSize:  config.BatchSize,
		numWorkers: config.NumWorkers,
		cache:      config.CacheManager,
	}
	if l.cache == nil && config.MaxCacheSize > 0 {
		cm, err := NewCacheManager(config.MaxCacheSize)
		if err != nil {
			return nil, err
		}
		l.cache = cm
	}
	return l, nil
}

func (l *loader) load(index int) (Sample, error) {
	if l.cache != nil {
		if s, ok := l.cache.Get(index); ok {
			return s, nil
		}
	}
	image, target, err := l.dataset.Get(index)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "sample %d", index)
	}
	s := Sample{Image: image, Target: target}
	if l.cache != nil {
		l.cache.Put(index, s)
	}
	return s, nil
}

// fetch decodes the given indices, in parallel when workers are configured,
// and stacks them in order.
func (l *loader) fetch(ctx context.Context, indices []int) (*Batch, error) {
	samples := make([]Sample, len(indices))
	errs := make([]error, len(indices))

	workers := l.numWorkers
	if workers > len(indices) {
		workers = len(indices)
	}

	if workers <= 1 {
		for i, idx := range indices {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			samples[i], errs[i] = l.load(idx)
		}
	} else {
		type job struct {
			slot  int
			index int
		}
		jobs := make(chan job, len(indices))
		var wg sync.WaitGroup

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range jobs {
					if err := ctx.Err(); err != nil {
						errs[j.slot] = err
						continue
					}
					samples[j.slot], errs[j.slot] = l.load(j.index)
				}
			}()
		}
		for slot, idx := range indices {
			jobs <- job{slot: slot, index: idx}
		}
		close(jobs)
		wg.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return collate(samples, indices)
}

func collate(samples []Sample, indices []int) (*Batch, error) {
	images := make([]*tensor.Tensor, len(samples))
	targets := make([]*tensor.Tensor, 0, len(samples))
	for i, s := range samples {
		images[i] = s.Image
		if s.Target != nil {
			targets = append(targets, s.Target)
		}
	}
	if len(targets) != 0 && len(targets) != len(samples) {
		return nil, errors.New("dataloader: batch mixes labeled and unlabeled samples")
	}

	b := &Batch{Indices: append([]int(nil), indices...)}
	var err error
	if b.Images, err = tensor.Stack(images); err != nil {
		return nil, errors.Wrap(err, "failed to stack images")
	}
	if len(targets) > 0 {
		if b.Targets, err = tensor.Stack(targets); err != nil {
			return nil, errors.Wrap(err, "failed to stack targets")
		}
	}
	return b, nil
}

// InfiniteLoader yields fixed-size batches forever. Sample order is the
// concatenation of seeded permutations of the dataset, one per pass, so the
// stream depends only on the seed and the number of samples already drawn.
type InfiniteLoader struct {
	*loader
	seed     int64
	mu       deadlock.Mutex
	pass     int64
	offset   int
	perm     []int
	consumed int64
}

// NewInfiniteLoader creates a shuffling loader starting at sample zero.
func NewInfiniteLoader(dataset Dataset, config Config) (*InfiniteLoader, error) {
	l, err := newLoader(dataset, config)
	if err != nil {
		return nil, err
	}
	il := &InfiniteLoader{loader: l, seed: config.Seed}
	il.perm = il.permutation(0)
	return il, nil
}

func (il *InfiniteLoader) permutation(pass int64) []int {
	return rand.New(rand.NewSource(il.seed + pass)).Perm(il.dataset.Len())
}

// Advance skips n samples without decoding them. It is used to resume a run
// so that batch k after a restart equals batch k of an uninterrupted run.
func (il *InfiniteLoader) Advance(n int64) {
	il.mu.Lock()
	defer il.mu.Unlock()

	size := int64(il.dataset.Len())
	pos := il.pass*size + int64(il.offset) + n
	pass := pos / size
	if pass != il.pass {
		il.pass = pass
		il.perm = il.permutation(pass)
	}
	il.offset = int(pos % size)
	il.consumed += n
}

// Consumed is the number of samples drawn or skipped so far.
func (il *InfiniteLoader) Consumed() int64 {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.consumed
}

func (il *InfiniteLoader) nextIndices() []int {
	il.mu.Lock()
	defer il.mu.Unlock()

	indices := make([]int, il.batchSize)
	for i := range indices {
		if il.offset == len(il.perm) {
			il.pass++
			il.perm = il.permutation(il.pass)
			il.offset = 0
		}
		indices[i] = il.perm[il.offset]
		il.offset++
	}
	il.consumed += int64(il.batchSize)
	return indices
}

// Next returns the next batch. It never reports io.EOF.
func (il *InfiniteLoader) Next(ctx context.Context) (*Batch, error) {
	return il.fetch(ctx, il.nextIndices())
}

// EvalLoader walks a dataset once, in order, without shuffling.
type EvalLoader struct {
	*loader
	mu       deadlock.Mutex
	position int
}

func NewEvalLoader(dataset Dataset, config Config) (*EvalLoader, error) {
	l, err := newLoader(dataset, config)
	if err != nil {
		return nil, err
	}
	return &EvalLoader{loader: l}, nil
}

// Next returns the next batch, the last one possibly short, then io.EOF.
func (el *EvalLoader) Next(ctx context.Context) (*Batch, error) {
	el.mu.Lock()
	remaining := el.dataset.Len() - el.position
	if remaining <= 0 {
		el.mu.Unlock()
		return nil, io.EOF
	}
	n := el.batchSize
	if remaining < n {
		n = remaining
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = el.position + i
	}
	el.position += n
	el.mu.Unlock()

	return el.fetch(ctx, indices)
}

// Reset rewinds to the first sample.
func (el *EvalLoader) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.position = 0
}

// NumBatches is the number of batches in one pass.
func (el *EvalLoader) NumBatches() int {
	return (el.dataset.Len() + el.batchSize - 1) / el.batchSize
}

// Progress returns the current progress through the dataset
func (el *EvalLoader) Progress() (current, total int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.position, el.dataset.Len()
}

// Len is the number of samples in the underlying dataset.
func (l *loader) Len() int { return l.dataset.Len() }

// Stats reports the sample cache, if any.
func (l *loader) Stats() string {
	if l.cache == nil {
		return "Cache: disabled"
	}
	return l.cache.Stats().String()
}

// GetCacheManager returns the cache manager for sharing between loaders
func (l *loader) GetCacheManager() *CacheManager {
	return l.cache
}
