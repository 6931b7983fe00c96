package dataloader

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"

	"github.com/tsawler/cxr-probe/tensor"
)

// Sample is one decoded and transformed dataset item.
type Sample struct {
	Image  *tensor.Tensor
	Target *tensor.Tensor
}

// CacheManager keeps recently decoded samples keyed by dataset index. It can
// be shared between loaders reading the same dataset.
type CacheManager struct {
	mu      sync.RWMutex
	cache   *lru.Cache
	maxSize int

	// Statistics
	hits   int64
	misses int64
}

// NewCacheManager creates a cache holding at most maxSize samples.
func NewCacheManager(maxSize int) (*CacheManager, error) {
	c, err := lru.New(maxSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sample cache")
	}
	return &CacheManager{cache: c, maxSize: maxSize}, nil
}

// Get retrieves a sample from the cache.
func (cm *CacheManager) Get(index int) (Sample, bool) {
	v, ok := cm.cache.Get(index)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !ok {
		cm.misses++
		return Sample{}, false
	}
	cm.hits++
	return v.(Sample), true
}

// Put adds a sample, evicting the least recently used entry when full.
func (cm *CacheManager) Put(index int, s Sample) {
	cm.cache.Add(index, s)
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return CacheStats{
		Size:    cm.cache.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
		HitRate: cm.calculateHitRate(),
	}
}

func (cm *CacheManager) calculateHitRate() float64 {
	total := cm.hits + cm.misses
	if total == 0 {
		return 0
	}
	return float64(cm.hits) / float64(total) * 100
}

// Clear drops every cached sample; statistics stay cumulative.
func (cm *CacheManager) Clear() {
	cm.cache.Purge()
}

// ResetStats resets the statistics
func (cm *CacheManager) ResetStats() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hits = 0
	cm.misses = 0
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
