// ABOUTME: Per-node cache of inferred shapes so connector header probes are not repeated.
// ABOUTME: Entries are keyed by node id and only hit while the node's shape fingerprint is unchanged.
package pipeline

import "sync"

type shapeEntry struct {
	key string
	def IODefinition
}

// ShapeCache memoizes inferred definitions per node. It is safe for
// concurrent use.
type ShapeCache struct {
	mu      sync.Mutex
	entries map[string]shapeEntry
}

// NewShapeCache returns an empty cache.
func NewShapeCache() *ShapeCache {
	return &ShapeCache{entries: make(map[string]shapeEntry)}
}

// Get returns the cached definition for nodeID if it was stored under key.
func (c *ShapeCache) Get(nodeID, key string) (IODefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[nodeID]
	if !ok || key == "" || e.key != key {
		return IODefinition{}, false
	}
	return e.def.clone(), true
}

// Put stores def for nodeID under key, replacing any older entry.
func (c *ShapeCache) Put(nodeID, key string, def IODefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[nodeID] = shapeEntry{key: key, def: def.clone()}
}

// Invalidate drops the entry for nodeID.
func (c *ShapeCache) Invalidate(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, nodeID)
}

// Len returns the number of cached entries.
func (c *ShapeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
