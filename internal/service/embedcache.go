package service

import (
	"container/list"
	"sync"
)

// embedCache is a byte-bounded LRU of embeddings keyed by record id. Each
// entry carries the generation of the content it was computed from; a stale
// generation is treated as a miss, so re-embedding after a content update
// never serves the old vector.
type embedCache struct {
	mu      sync.Mutex
	maxSize int
	size    int
	order   *list.List
	entries map[string]*list.Element
}

type embedEntry struct {
	id         string
	generation int
	vector     []float32
}

func newEmbedCache(maxBytes int) *embedCache {
	return &embedCache{
		maxSize: maxBytes,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *embedCache) Get(id string, generation int) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	e := el.Value.(*embedEntry)
	if e.generation != generation {
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.vector, true
}

func (c *embedCache) Put(id string, generation int, vector []float32) {
	cost := len(vector) * 4
	if cost > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		old := el.Value.(*embedEntry)
		c.size -= len(old.vector) * 4
		old.generation = generation
		old.vector = vector
		c.size += cost
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&embedEntry{id: id, generation: generation, vector: vector})
		c.entries[id] = el
		c.size += cost
	}

	for c.size > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		e := back.Value.(*embedEntry)
		c.order.Remove(back)
		delete(c.entries, e.id)
		c.size -= len(e.vector) * 4
	}
}

func (c *embedCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		e := el.Value.(*embedEntry)
		c.order.Remove(el)
		delete(c.entries, id)
		c.size -= len(e.vector) * 4
	}
}

func (c *embedCache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
