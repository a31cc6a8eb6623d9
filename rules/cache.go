package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/forumkit/automation/event"
)

// CacheConfig holds configuration for rule cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries. Expired entries are
	// refreshed lazily on the next read. Zero disables expiry; the cache
	// then refreshes only on Invalidate.
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 30 * time.Second}
}

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// CachedStore wraps a Store with a read-through cache of enabled rules keyed
// by event type. Reads within the TTL never touch the backing store; a cache
// miss is refreshed under a single-flight guard so concurrent misses trigger
// one reload. Invalidate guarantees the next RulesFor call reflects the
// latest persisted state.
//
// Mutations pass through to the backing store and invalidate the cache, the
// same cache-then-invalidate shape the surrounding system uses for other
// configuration data.
type CachedStore struct {
	store  Store
	config CacheConfig

	mu      sync.RWMutex
	entries map[event.Type]cacheEntry
	gen     uint64

	group singleflight.Group
}

// NewCachedStore wraps store with a rule cache.
func NewCachedStore(store Store, config CacheConfig) *CachedStore {
	return &CachedStore{
		store:   store,
		config:  config,
		entries: make(map[event.Type]cacheEntry),
	}
}

// RulesFor returns the enabled rules for an event type, serving from cache
// when fresh.
func (c *CachedStore) RulesFor(ctx context.Context, t event.Type) ([]*Rule, error) {
	c.mu.RLock()
	gen := c.gen
	entry, ok := c.entries[t]
	c.mu.RUnlock()

	if ok && !c.expired(entry) {
		return entry.rules, nil
	}

	// The generation is part of the flight key so a refresh started before
	// an Invalidate is never joined by readers arriving after it.
	key := fmt.Sprintf("%d/%s", gen, t)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// The refresh serves every reader joined to this flight, not just
		// the one that started it, so it must outlive that caller's context.
		loaded, err := c.store.RulesFor(context.WithoutCancel(ctx), t)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.entries[t] = cacheEntry{rules: loaded, cachedAt: time.Now()}
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Rule), nil
}

// Invalidate drops all cached entries. After it returns, the next RulesFor
// call for any event type reloads from the backing store.
func (c *CachedStore) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[event.Type]cacheEntry)
	c.mu.Unlock()
}

func (c *CachedStore) expired(entry cacheEntry) bool {
	return c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL
}

// Mutations delegate to the backing store and invalidate on success.

func (c *CachedStore) Add(ctx context.Context, rule *Rule) error {
	if err := c.store.Add(ctx, rule); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id int64) (*Rule, error) {
	return c.store.Get(ctx, id)
}

func (c *CachedStore) Update(ctx context.Context, rule *Rule) error {
	if err := c.store.Update(ctx, rule); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (c *CachedStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := c.store.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, id int64) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (c *CachedStore) Reorder(ctx context.Context, ids []int64) error {
	if err := c.store.Reorder(ctx, ids); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}
