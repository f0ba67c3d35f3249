package weather

import (
	"context"
	"errors"
	"time"

	"github.com/lildude/strava-weather/internal/cache"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultCacheTTL is how long a snapshot is reused.
const DefaultCacheTTL = 30 * time.Minute

// Cache stores snapshots for the Resolver. It is best-effort: a failing
// cache only costs extra upstream calls.
type Cache interface {
	Get(ctx context.Context, key string) (*WeatherData, bool, error)
	Set(ctx context.Context, key string, w *WeatherData) error
	// Sweep evicts expired entries.
	Sweep()
}

// MemoryCache is a process-local Cache. Expired entries are never returned
// but are only freed by Sweep.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	// No janitor; the owner drives eviction through Sweep.
	return &MemoryCache{c: gocache.New(ttl, 0)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*WeatherData, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	w, ok := v.(*WeatherData)
	if !ok {
		return nil, false, nil
	}
	cp := *w
	return &cp, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, w *WeatherData) error {
	cp := *w
	m.c.SetDefault(key, &cp)
	return nil
}

func (m *MemoryCache) Sweep() {
	m.c.DeleteExpired()
}

// Len returns the number of entries held, expired or not.
func (m *MemoryCache) Len() int {
	return m.c.ItemCount()
}

// RedisCache shares snapshots between instances. Redis expires keys itself
// so Sweep does nothing.
type RedisCache struct {
	c   cache.Cache
	ttl time.Duration
}

func NewRedisCache(c cache.Cache, ttl time.Duration) *RedisCache {
	return &RedisCache{c: c, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*WeatherData, bool, error) {
	var w WeatherData
	err := r.c.GetJSON(ctx, key, &w)
	if errors.Is(err, cache.ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &w, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, w *WeatherData) error {
	return r.c.SetJSON(ctx, key, w, r.ttl)
}

func (r *RedisCache) Sweep() {}

// Sweep evicts expired cache entries.
func (r *Resolver) Sweep() {
	r.cache.Sweep()
}

// RunSweeper sweeps the cache every interval until ctx is done. A
// non-positive interval disables sweeping.
func (r *Resolver) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
