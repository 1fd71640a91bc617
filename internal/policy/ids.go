package policy

import (
	"sync"

	"github.com/ppiankov/popwatch/internal/model"
)

// IDCache assigns correlation ids to elements lazily. An id stays with its
// element for the lifetime of the cache, so repeated activations share it.
type IDCache struct {
	mu  sync.Mutex
	ids map[model.Handle]string
}

// NewIDCache creates an empty cache.
func NewIDCache() *IDCache {
	return &IDCache{ids: make(map[model.Handle]string)}
}

// Memoize returns the id for h, generating one with gen on first use.
// The zero handle is never memoized.
func (c *IDCache) Memoize(h model.Handle, gen func() string) string {
	if h == model.NoElement {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.ids[h]; ok {
		return id
	}
	id := gen()
	c.ids[h] = id
	return id
}

// Lookup returns the memoized id for h.
func (c *IDCache) Lookup(h model.Handle) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[h]
	return id, ok
}
