package plan

import "sync"

// Cache is a set of normalized queries already sent through plan analysis.
// One Cache is meant to live for the whole process and be shared by all wrappers.
type Cache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCache makes an empty Cache
func NewCache() *Cache {
	return &Cache{seen: make(map[string]struct{})}
}

// Claim adds the query to the cache and returns true if it wasn't there before.
// Only the first caller for a given query gets true.
func (c *Cache) Claim(query string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[query]; ok {
		return false
	}
	c.seen[query] = struct{}{}
	return true
}

// Len returns number of analyzed queries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
