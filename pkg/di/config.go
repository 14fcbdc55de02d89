package di

import (
	"os"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-cacheable/cache"
	"gopkg.in/yaml.v3"
)

// Store drivers accepted by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverMemcache = "memcache"
)

// Config describes everything the container builds.
type Config struct {
	Cache   cache.Config  `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	// Driver is one of "memory" (default), "redis" or "memcache".
	Driver string `yaml:"driver"`

	Memory cache.MemoryConfig `yaml:"memory"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	MemcacheServers []string `yaml:"memcache_servers"`
}

// MetricsConfig controls the Prometheus collector attached to the manager.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a memory backed configuration with metrics disabled.
func DefaultConfig() Config {
	return Config{
		Cache: cache.DefaultConfig(),
		Store: StoreConfig{
			Driver: DriverMemory,
			Memory: cache.DefaultMemoryConfig(),
		},
		Metrics: MetricsConfig{Namespace: "cacheable"},
	}
}

// Validate checks the cache options and the options of the selected driver.
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Store.Validate()
}

// Validate checks the options of the selected driver.
func (s StoreConfig) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.In(DriverMemory, DriverRedis, DriverMemcache)),
		validation.Field(&s.RedisAddr, validation.When(s.Driver == DriverRedis, validation.Required)),
		validation.Field(&s.RedisDB, validation.Min(0)),
		validation.Field(&s.MemcacheServers, validation.When(s.Driver == DriverMemcache, validation.Required)),
	)
	if err != nil {
		return &cache.ConfigError{Field: "store", Message: err.Error(), Err: cache.ErrInvalidConfig}
	}
	if s.driver() == DriverMemory {
		return s.Memory.Validate()
	}
	return nil
}

func (s StoreConfig) driver() string {
	if s.Driver == "" {
		return DriverMemory
	}
	return s.Driver
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
