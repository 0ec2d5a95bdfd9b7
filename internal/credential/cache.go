package credential

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCacheTTL bounds how stale the poller staleness-watch may observe a
// record. The watch fires every few seconds per poller, so lookups must not
// all land on badger.
var DefaultCacheTTL = 5 * time.Second

// Cache is a read-through TTL cache over a Store. It serves the hub's
// attach-time resolution and the per-poller credential watch.
// Implements hub.CredentialSource.
type Cache struct {
	inner *Store
	cache *ttlcache.Cache[string, Record]
}

func NewCache(inner *Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		inner: inner,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Record](ttl),
			ttlcache.WithDisableTouchOnHit[string, Record](),
		),
	}
	go c.cache.Start()
	return c
}

// Stop ends the cache's expiry goroutine.
func (c *Cache) Stop() { c.cache.Stop() }

// Invalidate drops one id, forcing the next lookup through to the store.
// Called by the console write paths after a record mutation.
func (c *Cache) Invalidate(id string) { c.cache.Delete(id) }

// GetActive resolves id, serving from cache within the TTL. Negative results
// (missing records resolve to an empty secret) are cached too, so a deleted
// credential does not turn every watch tick into a badger read.
func (c *Cache) GetActive(id string) (string, bool, error) {
	if item := c.cache.Get(id); item != nil {
		r := item.Value()
		return r.Token, r.Active, nil
	}
	secret, active, err := c.inner.GetActive(id)
	if err != nil {
		return "", false, err
	}
	c.cache.Set(id, Record{ID: id, Token: secret, Active: active}, ttlcache.DefaultTTL)
	return secret, active, nil
}
