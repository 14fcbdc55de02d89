package di

import (
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-cacheable/cache"
	"github.com/goliatone/go-cacheable/metrics"
	"github.com/goliatone/go-cacheable/repositorycache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container provides dependency injection for cache related components.
// It owns the store, the Cacheable manager and the optional metrics
// collector, and provides factory methods for creating cached repositories.
type Container struct {
	config    Config
	logger    *zap.Logger
	registry  prometheus.Registerer
	store     cache.Store
	cache     *cache.Cacheable
	collector *metrics.Collector
	closers   []func() error
}

// Option customizes a Container.
type Option func(*Container)

// WithLogger sets the logger shared by the manager and the collector.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegisterer sets the Prometheus registerer used when metrics are enabled.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.registry = reg
	}
}

// WithStore uses store instead of building one from the driver settings.
func WithStore(store cache.Store) Option {
	return func(c *Container) {
		c.store = store
	}
}

// NewContainer creates a new DI container with the provided configuration.
// It builds the store for the configured driver, attaches the metrics
// collector when enabled and creates the Cacheable manager.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Container{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		store, err := c.buildStore()
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	cacheOpts := []cache.Option{cache.WithLogger(c.logger)}
	if config.Metrics.Enabled {
		c.collector = metrics.NewCollector(config.Metrics.Namespace, c.registry, c.logger)
		cacheOpts = append(cacheOpts, cache.WithObserver(c.collector))
	}

	manager, err := cache.New(c.store, config.Cache, cacheOpts...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.cache = manager

	c.logger.Debug("container ready",
		zap.String("driver", config.Store.driver()),
		zap.String("prefix", config.Cache.Prefix),
		zap.Bool("metrics", config.Metrics.Enabled),
	)
	return c, nil
}

// NewContainerWithDefaults creates a new DI container using DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

func (c *Container) buildStore() (cache.Store, error) {
	switch c.config.Store.driver() {
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.config.Store.RedisAddr,
			Password: c.config.Store.RedisPassword,
			DB:       c.config.Store.RedisDB,
		})
		c.closers = append(c.closers, client.Close)
		return cache.NewRedisStore(client), nil
	case DriverMemcache:
		client := memcache.New(c.config.Store.MemcacheServers...)
		return cache.NewMemcacheStore(client), nil
	case DriverMemory:
		return cache.NewMemoryStore(c.config.Store.Memory)
	default:
		return nil, errors.Wrapf(cache.ErrInvalidConfig, "unknown store driver %q", c.config.Store.Driver)
	}
}

// Cache returns the singleton Cacheable manager.
func (c *Container) Cache() *cache.Cacheable {
	return c.cache
}

// Store returns the store the manager writes to.
func (c *Container) Store() cache.Store {
	return c.store
}

// Collector returns the metrics collector, nil when metrics are disabled.
func (c *Container) Collector() *metrics.Collector {
	return c.collector
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Close releases the redis client opened for the store.
func (c *Container) Close() error {
	var errs error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	c.closers = nil
	return errs
}

// NewCachedRepository creates a cached repository that wraps base using the
// container's manager.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedRepository[User](container, baseUserRepository)
func NewCachedRepository[T any](container *Container, base repository.Repository[T], opts ...repositorycache.Option) (*repositorycache.CachedRepository[T], error) {
	if container == nil {
		return nil, errors.Wrap(cache.ErrInvalidConfig, "container is nil")
	}
	return repositorycache.New(base, container.cache, opts...)
}
