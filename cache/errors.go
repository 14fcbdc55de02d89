package cache

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors returned (wrapped in a ConfigError) by setup-time calls.
var (
	// ErrMissingName is returned when a key template references {_fn_}
	// but the wrapped function has no identity.
	ErrMissingName = errors.New("cache: key template references {_fn_} but the function has no name")

	// ErrDuplicateType is returned when a type tag or Go type is registered twice.
	ErrDuplicateType = errors.New("cache: type already registered")

	// ErrNotSerializable is returned when a registered type does not implement Serializable.
	ErrNotSerializable = errors.New("cache: type must implement ToPlain() map[string]any")

	// ErrKeyConflict is returned in strict mode when a pre-resolved key was already claimed.
	ErrKeyConflict = errors.New("cache: key template already registered")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("cache: invalid configuration")

	// ErrReceiverType is returned when a cached method is called on a receiver of the wrong type.
	ErrReceiverType = errors.New("cache: receiver has unexpected type")
)

// ConfigError represents a configuration error raised while setting up the cache.
// These are never produced by a cached call.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Unwrap exposes the sentinel error for errors.Is.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(field string, sentinel error, format string, args ...any) error {
	return &ConfigError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}
