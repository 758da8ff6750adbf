package matcher

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of compiled sets a Cache keeps.
const DefaultCacheSize = 16

// Cache keeps recently compiled pattern sets keyed by Fingerprint. Concurrent
// requests for the same batch compile it once.
type Cache struct {
	sets     *lru.Cache[uint64, *Set]
	group    singleflight.Group
	observer func(hit bool)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheObserver registers fn to be called on every lookup.
func WithCacheObserver(fn func(hit bool)) CacheOption {
	return func(c *Cache) {
		c.observer = fn
	}
}

// NewCache creates a cache holding up to size sets.
func NewCache(size int, opts ...CacheOption) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	sets, err := lru.New[uint64, *Set](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher cache: %w", err)
	}
	c := &Cache{sets: sets}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the compiled set for entries, compiling it on a miss.
func (c *Cache) Get(entries []Entry, opts Options) (*Set, error) {
	key := Fingerprint(entries, opts)
	if s, ok := c.sets.Get(key); ok {
		c.observe(true)
		return s, nil
	}
	c.observe(false)

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		if s, ok := c.sets.Get(key); ok {
			return s, nil
		}
		s, err := Compile(entries, opts)
		if err != nil {
			return nil, err
		}
		c.sets.Add(key, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Set), nil
}

// Len returns the number of cached sets.
func (c *Cache) Len() int {
	return c.sets.Len()
}

// Purge drops every cached set.
func (c *Cache) Purge() {
	c.sets.Purge()
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer(hit)
	}
}
