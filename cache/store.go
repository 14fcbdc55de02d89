package cache

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/goliatone/go-cacheable/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

// Store is the key-value backend a Cacheable reads from and writes to.
// Keys arrive already prefixed. Values are opaque codec bytes.
type Store interface {
	// Get returns the value at key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value at key. A positive ttl expires the entry; zero keeps it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// MGet returns one slot per key, nil for missing keys.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
}

// FixedTTLStore is implemented by stores that expire every entry after the
// same TTL and ignore the ttl passed to Set.
type FixedTTLStore interface {
	FixedTTL() time.Duration
}

var (
	_ FixedTTLStore = (*cacheinfra.MemoryStore)(nil)

	_ Store = (*cacheinfra.MemoryStore)(nil)
	_ Store = (*cacheinfra.RedisStore)(nil)
	_ Store = (*cacheinfra.MemcacheStore)(nil)
)

// NewMemoryStore constructs the in-process store using the provided configuration.
func NewMemoryStore(cfg MemoryConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := cacheinfra.NewMemoryStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewRedisStore returns a Store backed by a go-redis client (single node, cluster or ring).
func NewRedisStore(client redis.Cmdable) Store {
	return cacheinfra.NewRedisStore(client)
}

// NewMemcacheStore returns a Store backed by a gomemcache client.
func NewMemcacheStore(client *memcache.Client) Store {
	return cacheinfra.NewMemcacheStore(client)
}
