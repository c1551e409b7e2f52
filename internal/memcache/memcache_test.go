package memcache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/63klabs/cache-data-proxy/internal/memcache"
)

func TestGetMissOnUnknownID(t *testing.T) {
	c := memcache.New(10, 1<<20, nil)
	res := c.Get("unknown")
	assert.Equal(t, memcache.Miss, res.Status)
}

func TestSetThenGetHit(t *testing.T) {
	c := memcache.New(10, 1<<20, nil)
	c.Set("id1", []byte("payload"), time.Now().Add(time.Hour))

	res := c.Get("id1")
	assert.Equal(t, memcache.Hit, res.Status)
	assert.Equal(t, []byte("payload"), res.Payload)
}

func TestGetExpiredReturnsPayloadAsStaleCandidate(t *testing.T) {
	c := memcache.New(10, 1<<20, nil)
	c.Set("id1", []byte("stale-data"), time.Now().Add(-time.Minute))

	res := c.Get("id1")
	assert.Equal(t, memcache.Expired, res.Status)
	assert.Equal(t, []byte("stale-data"), res.Payload)
}

func TestExtendRewritesExpiryInPlace(t *testing.T) {
	c := memcache.New(10, 1<<20, nil)
	c.Set("id1", []byte("data"), time.Now().Add(-time.Minute))
	c.Extend("id1", time.Now().Add(time.Hour))

	res := c.Get("id1")
	assert.Equal(t, memcache.Hit, res.Status)
	assert.Equal(t, []byte("data"), res.Payload)
}

func TestEvictsLeastRecentlyUsedOnCapacity(t *testing.T) {
	c := memcache.New(2, 1<<20, nil)
	future := time.Now().Add(time.Hour)
	c.Set("a", []byte("1"), future)
	c.Set("b", []byte("2"), future)
	c.Get("a") // touch a, making b the LRU victim
	c.Set("c", []byte("3"), future)

	assert.Equal(t, memcache.Hit, c.Get("a").Status)
	assert.Equal(t, memcache.Miss, c.Get("b").Status)
	assert.Equal(t, memcache.Hit, c.Get("c").Status)
}

func TestSetSkipsPayloadExceedingByteBudget(t *testing.T) {
	c := memcache.New(10, 4, nil)
	c.Set("big", []byte("way too large for four bytes"), time.Now().Add(time.Hour))

	assert.Equal(t, memcache.Miss, c.Get("big").Status)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := memcache.New(10, 1<<20, nil)
	c.Set("id1", []byte("data"), time.Now().Add(time.Hour))
	c.Delete("id1")

	assert.Equal(t, memcache.Miss, c.Get("id1").Status)
}

func TestInfoReflectsOccupancyAndCounters(t *testing.T) {
	c := memcache.New(10, 1<<20, nil)
	c.Set("id1", []byte("data"), time.Now().Add(time.Hour))
	c.Get("id1")
	c.Get("missing")

	info := c.Info()
	assert.Equal(t, 1, info.Entries)
	assert.Equal(t, int64(1), info.Hits)
	assert.Equal(t, int64(1), info.Misses)
}
