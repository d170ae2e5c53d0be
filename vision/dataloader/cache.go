package dataloader

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/tsawler/go-palette/vision/dataset"
)

// CacheManager is an LRU cache of loaded samples
type CacheManager struct {
	mu      sync.Mutex
	cache   map[string]*list.Element
	lru     *list.List
	maxSize int

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	key    string
	sample *dataset.Sample
}

// NewCacheManager creates a cache holding at most maxSize samples
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		cache:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get retrieves a sample and marks it most recently used
func (cm *CacheManager) Get(key string) (*dataset.Sample, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if elem, exists := cm.cache[key]; exists {
		cm.lru.MoveToFront(elem)
		cm.hits++
		return elem.Value.(*cacheEntry).sample, true
	}
	cm.misses++
	return nil, false
}

// Put adds a sample, evicting the least recently used ones over capacity
func (cm *CacheManager) Put(key string, s *dataset.Sample) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if elem, exists := cm.cache[key]; exists {
		cm.lru.MoveToFront(elem)
		return
	}

	cm.cache[key] = cm.lru.PushFront(&cacheEntry{key: key, sample: s})
	for cm.lru.Len() > cm.maxSize {
		oldest := cm.lru.Back()
		cm.lru.Remove(oldest)
		delete(cm.cache, oldest.Value.(*cacheEntry).key)
	}
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := CacheStats{
		Size:    cm.lru.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
	}
	if total := cm.hits + cm.misses; total > 0 {
		stats.HitRate = float64(cm.hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every sample. Statistics stay cumulative.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cache = make(map[string]*list.Element)
	cm.lru.Init()
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

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
