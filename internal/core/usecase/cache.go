package usecase

import (
	"container/list"
	"strings"
	"sync"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const defaultCacheCapacity = 128

type cacheKey struct {
	role     string
	question string
}

type cacheEntry struct {
	key      cacheKey
	contexts []domain.RetrievedContext
}

// RetrievalCache is a mutex-guarded LRU of semantic retrieval results keyed by
// (role, question). Values are deep-copied on every Get and Set.
type RetrievalCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[cacheKey]*list.Element
}

func NewRetrievalCache(capacity int) *RetrievalCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &RetrievalCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[cacheKey]*list.Element, capacity),
	}
}

func newCacheKey(role, question string) cacheKey {
	return cacheKey{role: domain.NormalizeRole(role), question: strings.TrimSpace(question)}
}

func (c *RetrievalCache) Get(role, question string) ([]domain.RetrievedContext, bool) {
	key := newCacheKey(role, question)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return domain.CloneContexts(el.Value.(*cacheEntry).contexts), true
}

func (c *RetrievalCache) Set(role, question string, contexts []domain.RetrievedContext) {
	key := newCacheKey(role, question)
	stored := domain.CloneContexts(contexts)
	if stored == nil {
		stored = []domain.RetrievedContext{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).contexts = stored
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, contexts: stored})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *RetrievalCache) Clear() {
	c.mu.Lock()
	c.order.Init()
	c.items = make(map[cacheKey]*list.Element, c.capacity)
	c.mu.Unlock()
}

func (c *RetrievalCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *RetrievalCache) Capacity() int {
	return c.capacity
}
