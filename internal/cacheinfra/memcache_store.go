package cacheinfra

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// maxMemcacheKey is the protocol limit on key length.
const maxMemcacheKey = 250

// MemcacheClient is the subset of *memcache.Client used by MemcacheStore.
type MemcacheClient interface {
	Get(key string) (*memcache.Item, error)
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

var _ MemcacheClient = (*memcache.Client)(nil)

// MemcacheStore keeps entries in memcached.
type MemcacheStore struct {
	client MemcacheClient
}

// NewMemcacheStore returns a store backed by client.
func NewMemcacheStore(client MemcacheClient) *MemcacheStore {
	return &MemcacheStore{client: client}
}

// Get returns the entry stored at key. memcache.ErrCacheMiss is reported as a miss.
func (s *MemcacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := s.client.Get(MemcacheKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(item.Value) == 0 {
		return nil, false, nil
	}
	return item.Value, true, nil
}

// Set stores value at key. ttl is rounded up to whole seconds; zero means no
// expiry. TTLs over 30 days are sent as absolute Unix timestamps.
func (s *MemcacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(&memcache.Item{
		Key:        MemcacheKey(key),
		Value:      value,
		Expiration: expirationSeconds(ttl),
	})
}

// Del removes every given key, ignoring keys that are already gone.
func (s *MemcacheStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		err := s.client.Delete(MemcacheKey(key))
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}

// MGet returns the entries for keys in order, nil for missing ones.
func (s *MemcacheStore) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	wire := make([]string, len(keys))
	for i, key := range keys {
		wire[i] = MemcacheKey(key)
	}
	items, err := s.client.GetMulti(wire)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(keys))
	for i, key := range wire {
		if item, ok := items[key]; ok && len(item.Value) > 0 {
			values[i] = item.Value
		}
	}
	return values, nil
}

// MemcacheKey maps a cache key to a key memcached accepts. Keys that are too
// long or contain whitespace/control characters are replaced by an xxhash digest.
func MemcacheKey(key string) string {
	if len(key) <= maxMemcacheKey && legalMemcacheKey(key) {
		return key
	}
	return "xx:" + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

func legalMemcacheKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// maxRelativeExpiration is the largest TTL memcached reads as relative
// seconds. Larger values are taken as absolute Unix timestamps.
const maxRelativeExpiration = 30 * 24 * time.Hour

func expirationSeconds(ttl time.Duration) int32 {
	return expirationAt(ttl, time.Now())
}

// expirationAt converts ttl to the memcached Expiration field relative to now.
func expirationAt(ttl time.Duration, now time.Time) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl <= maxRelativeExpiration {
		return int32((ttl + time.Second - 1) / time.Second)
	}
	if ttl > time.Duration(math.MaxInt64-now.UnixNano()) {
		return math.MaxInt32
	}
	deadline := now.Add(ttl).Unix()
	if deadline > math.MaxInt32 || deadline < 0 {
		return math.MaxInt32
	}
	return int32(deadline)
}
