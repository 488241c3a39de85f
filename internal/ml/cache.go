package ml

import (
	"container/list"
	"sync"

	"github.com/recoeval/reco-eval/internal/pkg/hash"
)

// CacheMetrics is the interface for recording cache metrics.
// This allows the cache to be decoupled from the metrics package.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	UpdateCacheSize(cacheType string, size int)
}

type cacheEntry struct {
	key string
	emb []float32
}

// EmbeddingCache is an LRU cache of embeddings keyed by item reference.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	maxSize int
	metrics CacheMetrics
}

// NewEmbeddingCache creates a cache holding at most maxSize embeddings.
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = 10000
	}

	return &EmbeddingCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// SetMetrics sets the metrics recorder for this cache.
func (c *EmbeddingCache) SetMetrics(metrics CacheMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
}

// Get returns a copy of the cached embedding for item.
func (c *EmbeddingCache) Get(item string) ([]float32, bool) {
	key := hash.SHA256String(item)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss("embed")
		}
		return nil, false
	}

	c.lru.MoveToFront(el)
	if c.metrics != nil {
		c.metrics.RecordCacheHit("embed")
	}

	emb := el.Value.(*cacheEntry).emb
	out := make([]float32, len(emb))
	copy(out, emb)
	return out, true
}

// Set stores a copy of embedding for item, evicting the least recently
// used entry when full.
func (c *EmbeddingCache) Set(item string, embedding []float32) {
	key := hash.SHA256String(item)

	emb := make([]float32, len(embedding))
	copy(emb, embedding)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).emb = emb
		c.lru.MoveToFront(el)
		return
	}

	for c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, emb: emb})

	if c.metrics != nil {
		c.metrics.UpdateCacheSize("embed", c.lru.Len())
	}
}

// Size returns the current cache size.
func (c *EmbeddingCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear empties the cache.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()

	if c.metrics != nil {
		c.metrics.UpdateCacheSize("embed", 0)
	}
}

// Stats returns cache statistics.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
	}
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
}
