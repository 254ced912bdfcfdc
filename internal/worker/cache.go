package worker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"qaworker/internal/backend"
	"qaworker/pkg/types"
)

// cacheEntry is one resident model. Entries are immutable once published in
// the cache; only the reference count changes.
type cacheEntry struct {
	id       string
	handle   backend.Handle
	params   types.ModelParams
	loadedAt time.Time

	refs     sync.WaitGroup
	inflight atomic.Int64
}

// ModelCache maps model identifiers to loaded handles and their params. It is
// owned by exactly one Worker. Writers are load and unload handling; readers
// are in-flight inferences. It never evicts on its own.
type ModelCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewModelCache returns an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{entries: make(map[string]*cacheEntry)}
}

// Put inserts or replaces the entry for id and returns the handle it replaced,
// if any. The caller owns the returned handle and must release it.
func (c *ModelCache) Put(id string, h backend.Handle, params types.ModelParams) backend.Handle {
	e := &cacheEntry{id: id, handle: h, params: params.Clone(), loadedAt: time.Now()}
	c.mu.Lock()
	prev := c.entries[id]
	c.entries[id] = e
	c.mu.Unlock()
	if prev == nil {
		return nil
	}
	prev.refs.Wait()
	return prev.handle
}

// Get returns the handle and params for id.
func (c *ModelCache) Get(id string) (backend.Handle, types.ModelParams, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, types.ModelParams{}, false
	}
	return e.handle, e.params, true
}

// Has reports whether id is resident.
func (c *ModelCache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// acquire pins the entry for id until the returned release func is called.
// Remove waits for every pin before handing the handle back for release.
func (c *ModelCache) acquire(id string) (*cacheEntry, func(), bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	if ok {
		e.refs.Add(1)
		e.inflight.Add(1)
	}
	c.mu.RUnlock()
	if !ok {
		return nil, func() {}, false
	}
	return e, func() {
		e.inflight.Add(-1)
		e.refs.Done()
	}, true
}

// Remove deletes id and blocks until no inference holds it. It returns the
// removed handle, or nil if id was not resident.
func (c *ModelCache) Remove(id string) backend.Handle {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	e.refs.Wait()
	return e.handle
}

// Len returns the number of resident models.
func (c *ModelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IDs returns the resident model ids in sorted order.
func (c *ModelCache) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (c *ModelCache) status() []types.ModelStatus {
	c.mu.RLock()
	out := make([]types.ModelStatus, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, types.ModelStatus{
			ModelID:  e.id,
			Path:     e.params.Path,
			Inflight: int(e.inflight.Load()),
			LoadedAt: e.loadedAt.Unix(),
		})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// drain removes every entry and returns their handles once unpinned.
func (c *ModelCache) drain() []backend.Handle {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
	out := make([]backend.Handle, 0, len(entries))
	for _, e := range entries {
		e.refs.Wait()
		out = append(out, e.handle)
	}
	return out
}
