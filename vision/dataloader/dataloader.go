package dataloader

import (
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync"

	"github.com/tsawler/go-palette/diffusion"
	"github.com/tsawler/go-palette/tensor"
	"github.com/tsawler/go-palette/vision/dataset"
)

// DataLoader batches a dataset into diffusion batches with LRU caching of
// loaded samples. The final batch may be smaller than BatchSize.
type DataLoader struct {
	dataset   dataset.Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	name      string
	indices   []int
	position  int
	mu        sync.Mutex

	// Cache manager - can be shared between DataLoaders
	cacheManager *CacheManager
	ownedCache   bool // Whether this DataLoader owns the cache
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize int
	Shuffle   bool
	// Rand drives shuffling. Required when Shuffle is set.
	Rand *rand.Rand
	// MaxCacheSize is the number of samples to keep. 0 selects 1000 and a
	// negative value disables caching.
	MaxCacheSize int
	CacheManager *CacheManager // Optional shared cache manager
	// Name namespaces cache keys when a cache is shared.
	Name string
}

// NewDataLoader creates a new data loader
func NewDataLoader(ds dataset.Dataset, config Config) (*DataLoader, error) {
	if ds == nil {
		return nil, fmt.Errorf("data loader requires a dataset")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Shuffle && config.Rand == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	// Use provided cache manager or create a new one
	cacheManager := config.CacheManager
	ownedCache := false
	if cacheManager == nil && config.MaxCacheSize >= 0 {
		size := config.MaxCacheSize
		if size == 0 {
			size = 1000
		}
		cacheManager = NewCacheManager(size)
		ownedCache = true
	}

	dl := &DataLoader{
		dataset:      ds,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		rng:          config.Rand,
		name:         config.Name,
		indices:      indices,
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
	}
	dl.shuffleIndices()
	return dl, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds to the first batch, reshuffling when enabled.
func (dl *DataLoader) Reset() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffleIndices()
	return nil
}

func (dl *DataLoader) shuffleIndices() {
	if !dl.shuffle {
		return
	}
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Next loads the next batch and returns io.EOF once the epoch is done.
func (dl *DataLoader) Next() (*diffusion.Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, io.EOF
	}
	batchSize := dl.batchSize
	if remaining < batchSize {
		batchSize = remaining
	}

	gts := make([]*tensor.Tensor, batchSize)
	conds := make([]*tensor.Tensor, batchSize)
	masks := make([]*tensor.Tensor, batchSize)
	for i := 0; i < batchSize; i++ {
		idx := dl.indices[dl.position+i]
		s, err := dl.loadWithCache(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		gts[i], conds[i], masks[i] = s.GroundTruth, s.Cond, s.Mask
	}

	b := &diffusion.Batch{}
	var err error
	if b.GroundTruth, err = tensor.Stack(gts); err != nil {
		return nil, err
	}
	if b.Cond, err = tensor.Stack(conds); err != nil {
		return nil, err
	}
	if b.Mask, err = tensor.Stack(masks); err != nil {
		return nil, err
	}
	dl.position += batchSize
	return b, nil
}

// loadWithCache loads a sample with caching support
func (dl *DataLoader) loadWithCache(index int) (*dataset.Sample, error) {
	if dl.cacheManager == nil {
		return dl.dataset.Get(index)
	}

	key := dl.name + "/" + strconv.Itoa(index)
	if s, exists := dl.cacheManager.Get(key); exists {
		return s, nil
	}
	s, err := dl.dataset.Get(index)
	if err != nil {
		return nil, err
	}
	dl.cacheManager.Put(key, s)
	return s, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	if dl.cacheManager == nil {
		return "Cache: disabled"
	}
	return dl.cacheManager.Stats().String()
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// ClearCache clears the sample cache unless it is shared
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
