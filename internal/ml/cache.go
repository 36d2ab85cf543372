package ml

import (
	"container/list"
	"sync"

	"github.com/finresearch/research-assistant/internal/pkg/hash"
)

// CacheMetrics is the interface for recording cache metrics.
// This allows the cache to be decoupled from the metrics package.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	UpdateCacheSize(cacheType string, size int)
}

type cacheEntry struct {
	key    string
	vector []float32
}

// EmbeddingCache is a bounded LRU of query embeddings keyed by text hash.
// A hit saves one priced embedding call.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	metrics CacheMetrics
}

// NewEmbeddingCache creates a new embedding cache holding up to maxSize vectors.
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &EmbeddingCache{
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// SetMetrics sets the metrics recorder for this cache.
func (c *EmbeddingCache) SetMetrics(metrics CacheMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
}

func cacheKey(text string) string {
	return hash.SHA256([]byte(text))
}

// Get retrieves a copy of the embedding for text.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := cacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss("embed")
		}
		return nil, false
	}

	c.order.MoveToFront(el)
	if c.metrics != nil {
		c.metrics.RecordCacheHit("embed")
	}

	return append([]float32(nil), el.Value.(*cacheEntry).vector...), true
}

// Set stores a copy of embedding for text, evicting the least recently used
// entry when full.
func (c *EmbeddingCache) Set(text string, embedding []float32) {
	key := cacheKey(text)
	vector := append([]float32(nil), embedding...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vector: vector})

	if c.metrics != nil {
		c.metrics.UpdateCacheSize("embed", len(c.entries))
	}
}

// Size returns the current cache size.
func (c *EmbeddingCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear clears the cache.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.maxSize)
	c.order.Init()

	if c.metrics != nil {
		c.metrics.UpdateCacheSize("embed", 0)
	}
}

// Stats returns cache statistics.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
	}
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
}
