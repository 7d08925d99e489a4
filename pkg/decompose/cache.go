package decompose

import (
	"sync"

	"github.com/locdata/locharvest/pkg/flatten"
)

// Entry is the outcome of fetching one item record. Failures are cached
// too, so a failing item is requested only once per run.
type Entry struct {
	Doc flatten.Node
	Err string // legacy error message, "" on success
}

// Cache maps normalized item URLs to their fetched records for one run.
// Each key is written at most once.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// Put stores e under id unless id is already present. It reports whether e
// was stored.
func (c *Cache) Put(id string, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		return false
	}
	c.entries[id] = e
	return true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
