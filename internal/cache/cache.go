// Package cache holds the worker's response cache, split into named
// versioned partitions: a static partition seeded once at install time and a
// dynamic partition populated opportunistically from live traffic.
package cache

import (
	"net/http"
	"sync"
	"time"
)

// Kind distinguishes the two partition roles.
type Kind string

const (
	KindStatic  Kind = "static"
	KindDynamic Kind = "dynamic"
)

// Entry is one cached response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Cacheable reports whether a request method may ever be written to a
// partition. Non-idempotent methods (any mutation) are never cached.
func Cacheable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// Key builds the normalized request identity used as the cache key.
func Key(method, url string) string {
	return method + " " + url
}

// Partition is a named map of cached responses.
type Partition struct {
	name string
	kind Kind

	mu      sync.RWMutex
	entries map[string]Entry
}

// Name returns the partition's versioned name, e.g. "static-v3".
func (p *Partition) Name() string { return p.name }

// Kind returns the partition role.
func (p *Partition) Kind() Kind { return p.kind }

// Get returns the entry cached for the request identity, if any.
func (p *Partition) Get(method, url string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[Key(method, url)]
	return e, ok
}

// Put stores an entry, replacing any existing one for the same identity
// (most-recent-wins). Non-cacheable methods are silently dropped so no
// mutation can ever be written into a partition.
func (p *Partition) Put(method, url string, e Entry) {
	if !Cacheable(method) {
		return
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	p.mu.Lock()
	p.entries[Key(method, url)] = e
	p.mu.Unlock()
}

// Replace swaps the partition's full contents in one step. Used by the
// install phase to commit a fully assembled static set atomically, so a
// failed install never leaves a partial partition behind.
func (p *Partition) Replace(entries map[string]Entry) {
	now := time.Now()
	copied := make(map[string]Entry, len(entries))
	for k, e := range entries {
		if e.StoredAt.IsZero() {
			e.StoredAt = now
		}
		copied[k] = e
	}
	p.mu.Lock()
	p.entries = copied
	p.mu.Unlock()
}

// Len returns the number of cached entries.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Cache is the set of named partitions for the current and any stale worker
// versions.
type Cache struct {
	mu    sync.Mutex
	parts map[string]*Partition
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{parts: make(map[string]*Partition)}
}

// Partition returns the named partition, creating it if absent.
func (c *Cache) Partition(name string, kind Kind) *Partition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.parts[name]; ok {
		return p
	}
	p := &Partition{name: name, kind: kind, entries: make(map[string]Entry)}
	c.parts[name] = p
	return p
}

// Names returns the names of all live partitions.
func (c *Cache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.parts))
	for name := range c.parts {
		names = append(names, name)
	}
	return names
}

// DropExcept removes every partition whose name is not in keep and returns
// the number dropped. This is the activate-phase version rollover cleanup.
func (c *Cache) DropExcept(keep ...string) int {
	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped int
	for name := range c.parts {
		if !keepSet[name] {
			delete(c.parts, name)
			dropped++
		}
	}
	return dropped
}
