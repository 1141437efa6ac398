// Package memcache is the in-process BytesCache used when no Redis address is
// configured.
package memcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type MemCache struct {
	c *gocache.Cache
}

func New(defaultTTL, cleanupInterval time.Duration) *MemCache {
	return &MemCache{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (m *MemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *MemCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

// Allow is a process-local fixed-window counter with the same contract as the
// Redis limiter.
func (m *MemCache) Allow(_ context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	// Add fails while the window is open; the existing counter keeps its expiry.
	_ = m.c.Add(key, int64(0), window)
	n, err := m.c.IncrementInt64(key, 1)
	if err != nil {
		return false, 0, err
	}
	return n <= limit, n, nil
}
