package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Model is the handle returned by Register. It owns the item and class key
// templates of a registered type and creates cached methods for it.
type Model[T Serializable] struct {
	cache *Cacheable
	entry *RegisteredType

	mu        sync.RWMutex
	itemKeys  []string
	classKeys []string
}

// Register adds T to the type registry of c so cached values of T revive as
// T, and returns the handle used to enable cached methods on it.
func Register[T Serializable](c *Cacheable, factory func(fields map[string]any) (T, error), opts ...TypeOption) (*Model[T], error) {
	if c == nil {
		return nil, configError("cache", ErrInvalidConfig, "cacheable is nil")
	}
	if factory == nil {
		return nil, configError("factory", ErrInvalidConfig, "factory is nil")
	}
	var proto T
	entry, err := c.types.Register(any(proto), func(fields map[string]any) (Serializable, error) {
		inst, err := factory(fields)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &Model[T]{
		cache:    c,
		entry:    entry,
		itemKeys: []string{DefaultItemKey},
	}, nil
}

// TypeTag returns the tag T was registered under.
func (m *Model[T]) TypeTag() string { return m.entry.Tag }

// Cache returns the owning Cacheable.
func (m *Model[T]) Cache() *Cacheable { return m.cache }

// AddCacheKey records a key template. Item keys are resolved against an
// instance by CacheKeys; class keys are kept for bookkeeping.
func (m *Model[T]) AddCacheKey(template string, class bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if class {
		m.classKeys = appendUnique(m.classKeys, template)
		return
	}
	m.itemKeys = appendUnique(m.itemKeys, template)
}

// ItemKeys returns the instance level templates.
func (m *Model[T]) ItemKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.itemKeys...)
}

// ClassKeys returns the class level templates.
func (m *Model[T]) ClassKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.classKeys...)
}

// CacheKeys resolves every item template against inst and returns the
// unprefixed keys that resolved fully.
func (m *Model[T]) CacheKeys(inst T) []string {
	templates := m.ItemKeys()
	keys := make([]string, 0, len(templates))
	for _, template := range templates {
		key := m.cache.resolver.Resolve(template, inst, "", nil)
		if IsResolved(key) {
			keys = appendUnique(keys, key)
		}
	}
	return keys
}

// ClearCache deletes every item key of inst.
func (m *Model[T]) ClearCache(ctx context.Context, inst T) error {
	keys := m.CacheKeys(inst)
	if len(keys) == 0 {
		return nil
	}
	return m.cache.Del(ctx, keys...)
}

// Method is an instance method of T in function form.
type Method[T any, R any] func(recv T, ctx context.Context, args ...any) (R, error)

// CachedMethod is an instance method memoized per receiver.
type CachedMethod[T Serializable, R any] struct {
	wrapped *Wrapped[R]
	method  Method[T, R]
}

// EnableMethod memoizes an instance method of T. The default template is
// DefaultInstanceKey with {_fn_} replaced by name; it is also added to the
// item keys so ClearCache removes it.
func EnableMethod[T Serializable, R any](m *Model[T], name string, method Method[T, R], opts ...WrapOption) (*CachedMethod[T, R], error) {
	if name == "" {
		return nil, configError("name", ErrMissingName, "method of %q has no name", m.TypeTag())
	}
	if method == nil {
		return nil, configError("fn", ErrInvalidConfig, "method %s.%s is nil", m.TypeTag(), name)
	}
	o := applyWrapOptions(opts)
	if o.name == "" {
		o.name = name
	}
	if o.key == "" {
		o.key = strings.ReplaceAll(DefaultInstanceKey, "{"+RootFn+"}", name)
	}
	o.claim = m

	tag := m.TypeTag()
	w, err := newWrapped(m.cache, func(ctx context.Context, recv any, args []any) (R, error) {
		inst, ok := recv.(T)
		if !ok {
			var zero R
			return zero, errors.Wrapf(ErrReceiverType, "%s.%s called on %T", tag, name, recv)
		}
		return method(inst, ctx, args...)
	}, o)
	if err != nil {
		return nil, err
	}
	m.AddCacheKey(o.key, false)
	return &CachedMethod[T, R]{wrapped: w, method: method}, nil
}

// Call runs the memoized method on recv.
func (cm *CachedMethod[T, R]) Call(ctx context.Context, recv T, args ...any) (R, error) {
	return cm.wrapped.CallOn(ctx, recv, args...)
}

// Fresh runs the original method, skipping the store.
func (cm *CachedMethod[T, R]) Fresh(ctx context.Context, recv T, args ...any) (R, error) {
	return cm.method(recv, ctx, args...)
}

// Key resolves the full store key for a call on recv.
func (cm *CachedMethod[T, R]) Key(recv T, args ...any) (string, bool) {
	return cm.wrapped.Key(recv, args...)
}

// Wrapped exposes the underlying memoized function.
func (cm *CachedMethod[T, R]) Wrapped() *Wrapped[R] { return cm.wrapped }

// EnableStatic memoizes a type level function of T. The model handle is the
// receiver, so {_model_} resolves to the type tag. The default template is
// DefaultStaticKey with {_fn_} replaced by name.
func EnableStatic[T Serializable, R any](m *Model[T], name string, fn Func[R], opts ...WrapOption) (*Wrapped[R], error) {
	if name == "" {
		return nil, configError("name", ErrMissingName, "static function of %q has no name", m.TypeTag())
	}
	if fn == nil {
		return nil, configError("fn", ErrInvalidConfig, "function %s.%s is nil", m.TypeTag(), name)
	}
	o := applyWrapOptions(opts)
	if o.name == "" {
		o.name = name
	}
	if o.key == "" {
		o.key = strings.ReplaceAll(DefaultStaticKey, "{"+RootFn+"}", name)
	}
	o.recv = m
	o.hasRecv = true

	w, err := newWrapped(m.cache, func(ctx context.Context, _ any, args []any) (R, error) {
		return fn(ctx, args...)
	}, o)
	if err != nil {
		return nil, err
	}
	m.AddCacheKey(o.key, true)
	return w, nil
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
