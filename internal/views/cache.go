package views

import "sync"

// Cache holds the compiled views known to one bucket client, tagged with the
// version of the bucket's index documents they were loaded at.
//
// Backends bump the version on every index document change. A writer whose
// cached version differs from the stored one must reload before its index
// entries can be trusted.
type Cache struct {
	mu      sync.RWMutex
	views   []*View
	version int64
}

// Snapshot returns the current views. The slice must not be modified.
func (c *Cache) Snapshot() []*View {
	vs, _ := c.Versioned()
	return vs
}

// Versioned returns the current views and the version they were loaded at.
func (c *Cache) Versioned() ([]*View, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.views, c.version
}

// Version returns the version of the cached set.
func (c *Cache) Version() int64 {
	_, v := c.Versioned()
	return v
}

// Lookup returns the view for document/index, or nil.
func (c *Cache) Lookup(document, index string) *View {
	for _, v := range c.Snapshot() {
		if v.Document == document && v.Name == index {
			return v
		}
	}
	return nil
}

// ReplaceDocument swaps every view of document for vs after this client
// changed the document, moving the stored version to version. The cached
// version only advances when no other change happened in between; otherwise
// the set stays marked stale and the next write reloads it.
func (c *Cache) ReplaceDocument(document string, vs []*View, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]*View, 0, len(c.views)+len(vs))
	for _, v := range c.views {
		if v.Document != document {
			next = append(next, v)
		}
	}
	c.views = append(next, vs...)
	if version == c.version+1 {
		c.version = version
	}
}

// Reset replaces the whole set loaded at version.
func (c *Cache) Reset(vs []*View, version int64) {
	c.mu.Lock()
	c.views = vs
	c.version = version
	c.mu.Unlock()
}
