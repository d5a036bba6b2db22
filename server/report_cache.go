// ABOUTME: In-memory cache of rendered HTML run reports, keyed by the sha256 of the report markdown.
// ABOUTME: Entries expire after a TTL and render errors are never cached.
package server

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// reportCacheTTL is how long a rendered report page is reused.
const reportCacheTTL = 5 * time.Minute

// ReportRenderFunc turns report markdown into a page.
type ReportRenderFunc func(markdown string) ([]byte, error)

type reportEntry struct {
	page      []byte
	createdAt time.Time
}

// ReportCache wraps a report renderer with an in-memory cache. A finished
// run's markdown no longer changes, so its page is rendered once per TTL.
type ReportCache struct {
	render ReportRenderFunc
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]*reportEntry
}

// NewReportCache creates a cache around render.
func NewReportCache(render ReportRenderFunc, ttl time.Duration) *ReportCache {
	return &ReportCache{
		render:  render,
		ttl:     ttl,
		entries: make(map[string]*reportEntry),
	}
}

// Render returns the cached page for markdown, rendering it on a miss.
func (c *ReportCache) Render(markdown string) ([]byte, error) {
	key := reportKey(markdown)

	c.mu.RLock()
	if e, ok := c.entries[key]; ok && time.Since(e.createdAt) < c.ttl {
		page := e.page
		c.mu.RUnlock()
		return page, nil
	}
	c.mu.RUnlock()

	page, err := c.render(markdown)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.prune()
	c.entries[key] = &reportEntry{page: page, createdAt: time.Now()}
	c.mu.Unlock()
	return page, nil
}

// prune drops expired entries. Callers hold the write lock.
func (c *ReportCache) prune() {
	for k, e := range c.entries {
		if time.Since(e.createdAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of entries, expired ones included.
func (c *ReportCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *ReportCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*reportEntry)
}

func reportKey(markdown string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(markdown)))
}
