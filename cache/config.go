package cache

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-cacheable/internal/cacheinfra"
)

// DefaultPrefix is prepended to every key sent to the store.
const DefaultPrefix = "cached:"

// Codec names accepted by Config.Codec.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Config exposes the options of a Cacheable manager.
type Config struct {
	// Prefix namespaces every key sent to the store. An empty prefix is allowed.
	Prefix string `yaml:"prefix" json:"prefix"`

	// Silent degrades store read errors to cache misses. When false the
	// error is returned to the caller of the wrapped function. DefaultConfig
	// sets it; a zero Config is not silent.
	Silent bool `yaml:"silent" json:"silent"`

	// TTL is used for writes whose wrapper has no TTL of its own.
	// Zero stores entries without expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Codec selects the wire encoding of cached values: "json" (default) or "msgpack".
	Codec string `yaml:"codec" json:"codec"`

	// SingleFlight collapses concurrent misses on the same resolved key
	// into a single execution of the wrapped function.
	SingleFlight bool `yaml:"single_flight" json:"single_flight"`

	// StrictKeys turns key conflict warnings at wrap time into errors.
	StrictKeys bool `yaml:"strict_keys" json:"strict_keys"`
}

// DefaultConfig returns a Config populated with the library defaults.
func DefaultConfig() Config {
	return Config{
		Prefix: DefaultPrefix,
		Silent: true,
		Codec:  CodecJSON,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Prefix, validation.Length(0, 128)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.Codec, validation.In(CodecJSON, CodecMsgpack)),
	)
	return toConfigError(err)
}

// MemoryConfig configures the in-process store backed by sturdyc.
type MemoryConfig struct {
	Capacity           int           `yaml:"capacity" json:"capacity"`
	NumShards          int           `yaml:"num_shards" json:"num_shards"`
	TTL                time.Duration `yaml:"ttl" json:"ttl"`
	EvictionPercentage int           `yaml:"eviction_percentage" json:"eviction_percentage"`
	EvictionInterval   time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
}

// DefaultMemoryConfig returns a MemoryConfig populated with sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the memory store configuration values are valid.
func (c MemoryConfig) Validate() error {
	if err := c.toInternal().Validate(); err != nil {
		var ce *cacheinfra.ConfigError
		if errors.As(err, &ce) {
			return &ConfigError{Field: ce.Field, Message: ce.Message, Err: ErrInvalidConfig}
		}
		return err
	}
	return nil
}

func (c MemoryConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) MemoryConfig {
	return MemoryConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}

// toConfigError flattens ozzo validation errors into a ConfigError naming the
// first offending field, so callers get a stable shape.
func toConfigError(err error) error {
	if err == nil {
		return nil
	}
	errs, ok := err.(validation.Errors)
	if !ok || len(errs) == 0 {
		return &ConfigError{Field: "config", Message: err.Error(), Err: ErrInvalidConfig}
	}
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	first := fields[0]
	return &ConfigError{Field: first, Message: errs[first].Error(), Err: ErrInvalidConfig}
}
