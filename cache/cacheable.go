package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cacheable owns the store handle, the key prefix, the codec and the
// registries shared by every function it wraps.
type Cacheable struct {
	store    Store
	cfg      Config
	codec    Codec
	types    *TypeRegistry
	keys     *KeyRegistry
	resolver *Resolver
	logger   *zap.Logger
	observer Observer
	flights  singleflight.Group
}

// Option configures a Cacheable.
type Option func(*Cacheable)

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cacheable) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTypeRegistry shares a type registry between several managers.
func WithTypeRegistry(types *TypeRegistry) Option {
	return func(c *Cacheable) {
		if types != nil {
			c.types = types
		}
	}
}

// WithKeyRegistry shares a key registry between several managers.
func WithKeyRegistry(keys *KeyRegistry) Option {
	return func(c *Cacheable) {
		if keys != nil {
			c.keys = keys
		}
	}
}

// WithObserver receives the outcome of every wrapped call.
func WithObserver(observer Observer) Option {
	return func(c *Cacheable) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithCodec overrides the codec selected by Config.Codec.
func WithCodec(codec Codec) Option {
	return func(c *Cacheable) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// New creates a Cacheable on top of store. Start from DefaultConfig: a zero
// Config has an empty prefix and surfaces store read errors.
func New(store Store, cfg Config, opts ...Option) (*Cacheable, error) {
	if store == nil {
		return nil, configError("store", ErrInvalidConfig, "store is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	c := &Cacheable{
		store:    store,
		cfg:      cfg,
		codec:    codec,
		types:    NewTypeRegistry(),
		keys:     NewKeyRegistry(),
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cacheable")
	c.resolver = NewResolver(c.types)
	c.checkTTL("config", cfg.TTL)
	return c, nil
}

// checkTTL logs at debug when ttl will not be honoured by a fixed TTL store.
func (c *Cacheable) checkTTL(source string, ttl time.Duration) {
	fixed, ok := c.store.(FixedTTLStore)
	if !ok || ttl <= 0 || ttl == fixed.FixedTTL() {
		return
	}
	c.logger.Debug("store ignores per-entry ttl",
		zap.String("source", source),
		zap.Duration("ttl", ttl),
		zap.Duration("store_ttl", fixed.FixedTTL()),
	)
}

// Config returns a copy of the configuration.
func (c *Cacheable) Config() Config { return c.cfg }

// Prefix returns the key prefix.
func (c *Cacheable) Prefix() string { return c.cfg.Prefix }

// Silent reports whether store read errors degrade to misses.
func (c *Cacheable) Silent() bool { return c.cfg.Silent }

// Types returns the type registry.
func (c *Cacheable) Types() *TypeRegistry { return c.types }

// Keys returns the key registry.
func (c *Cacheable) Keys() *KeyRegistry { return c.keys }

// Resolver returns the key resolver bound to the type registry.
func (c *Cacheable) Resolver() *Resolver { return c.resolver }

// Logger returns the named logger.
func (c *Cacheable) Logger() *zap.Logger { return c.logger }

// Get reads and decodes the value at key (unprefixed). Entries that are
// missing, empty, undecodable, nil or carry an unknown type tag report false.
func (c *Cacheable) Get(ctx context.Context, key string) (any, bool, error) {
	full := c.cfg.Prefix + key
	c.logger.Debug("cache get", zap.String("key", full))

	data, ok, err := c.store.Get(ctx, full)
	if err != nil {
		return nil, false, errors.Wrapf(err, "cache get %q", full)
	}
	if !ok || len(data) == 0 {
		return nil, false, nil
	}
	value, ok := c.decode(full, data)
	return value, ok, nil
}

// Set encodes value and writes it at key (unprefixed). A ttl <= 0 falls back
// to Config.TTL.
func (c *Cacheable) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	full := c.cfg.Prefix + key

	data, err := c.encode(value)
	if err != nil {
		return errors.Wrapf(err, "cache set %q", full)
	}
	c.logger.Debug("cache set", zap.String("key", full), zap.Int("bytes", len(data)), zap.Duration("ttl", ttl))
	if err := c.store.Set(ctx, full, data, ttl); err != nil {
		return errors.Wrapf(err, "cache set %q", full)
	}
	return nil
}

// MGet reads several keys (unprefixed). Missing or unavailable entries are nil.
func (c *Cacheable) MGet(ctx context.Context, keys ...string) ([]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := c.prefixed(keys)
	c.logger.Debug("cache mget", zap.Strings("keys", full))

	items, err := c.store.MGet(ctx, full...)
	if err != nil {
		return nil, errors.Wrap(err, "cache mget")
	}
	values := make([]any, len(keys))
	for i, data := range items {
		if i >= len(values) || len(data) == 0 {
			continue
		}
		if value, ok := c.decode(full[i], data); ok {
			values[i] = value
		}
	}
	return values, nil
}

// Del removes keys (unprefixed).
func (c *Cacheable) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := c.prefixed(keys)
	c.logger.Debug("cache del", zap.Strings("keys", full))
	if err := c.store.Del(ctx, full...); err != nil {
		return errors.Wrap(err, "cache del")
	}
	return nil
}

func (c *Cacheable) prefixed(keys []string) []string {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.cfg.Prefix + key
	}
	return full
}

func (c *Cacheable) encode(value any) ([]byte, error) {
	tree, err := c.types.Encode(value)
	if err != nil {
		return nil, err
	}
	return c.codec.Marshal(tree)
}

func (c *Cacheable) decode(key string, data []byte) (any, bool) {
	tree, err := c.codec.Unmarshal(data)
	if err != nil {
		c.logger.Debug("cache entry not decodable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	value, ok := c.types.Decode(tree)
	if !ok {
		c.logger.Debug("cache entry references a type that is not available", zap.String("key", key))
		return nil, false
	}
	if isNil(value) {
		return nil, false
	}
	return value, true
}
