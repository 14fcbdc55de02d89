package cache

import (
	"context"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Func is the shape of a function that can be wrapped.
type Func[R any] func(ctx context.Context, args ...any) (R, error)

// Result carries the outcome of an Async call.
type Result[R any] struct {
	Value R
	Err   error
}

// WrapOption configures a wrapped function.
type WrapOption func(*wrapOptions)

type wrapOptions struct {
	key     string
	ttl     time.Duration
	name    string
	recv    any
	hasRecv bool
	// claim is the receiver used to pre-resolve the template for the key
	// registry when no fixed receiver is bound.
	claim any
}

// WithKey sets the key template. Defaults to DefaultKey.
func WithKey(template string) WrapOption {
	return func(o *wrapOptions) { o.key = template }
}

// WithTTL sets the entry TTL. Zero uses Config.TTL.
func WithTTL(ttl time.Duration) WrapOption {
	return func(o *wrapOptions) { o.ttl = ttl }
}

// Named sets the function name used for {_fn_}, logs and conflict reports.
func Named(name string) WrapOption {
	return func(o *wrapOptions) { o.name = name }
}

// WithReceiver binds a fixed receiver used for {this}, bare paths and {_model_}.
func WithReceiver(recv any) WrapOption {
	return func(o *wrapOptions) {
		o.recv = recv
		o.hasRecv = true
	}
}

func applyWrapOptions(opts []WrapOption) wrapOptions {
	o := wrapOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type target[R any] func(ctx context.Context, recv any, args []any) (R, error)

// Wrapped is a memoized function. It is safe for concurrent use.
type Wrapped[R any] struct {
	cache    *Cacheable
	fn       target[R]
	name     string
	template string
	ttl      time.Duration
	recv     any
	hasRecv  bool
}

// Wrap memoizes fn in c. The function name is taken from Named or inferred
// from fn; anonymous functions have no name and cannot use a template that
// references {_fn_}.
//
// Hits are converted to R. With R = any there is no target type, so a hit
// returns the decoded tree: integers as int64 (uint64 above math.MaxInt64),
// fractions as float64, objects as map[string]any and registered types as
// their revived instances. A miss returns whatever fn returned. Use a
// concrete R when callers depend on the dynamic type.
func Wrap[R any](c *Cacheable, fn Func[R], opts ...WrapOption) (*Wrapped[R], error) {
	if fn == nil {
		return nil, configError("fn", ErrInvalidConfig, "function is nil")
	}
	o := applyWrapOptions(opts)
	if o.name == "" {
		o.name = funcName(fn)
	}
	return newWrapped(c, func(ctx context.Context, _ any, args []any) (R, error) {
		return fn(ctx, args...)
	}, o)
}

func newWrapped[R any](c *Cacheable, fn target[R], o wrapOptions) (*Wrapped[R], error) {
	if c == nil {
		return nil, configError("cache", ErrInvalidConfig, "cacheable is nil")
	}
	template := o.key
	if template == "" {
		template = DefaultKey
	}
	if o.name == "" && References(template, RootFn) {
		return nil, configError("name", ErrMissingName, "key %q references {%s} but the function has no name", template, RootFn)
	}

	w := &Wrapped[R]{
		cache:    c,
		fn:       fn,
		name:     o.name,
		template: template,
		ttl:      o.ttl,
		recv:     o.recv,
		hasRecv:  o.hasRecv,
	}

	claim := o.claim
	if o.hasRecv {
		claim = o.recv
	}
	pre := c.resolver.Resolve(template, claim, o.name, nil)
	owner := o.name
	if owner == "" {
		owner = "[anonymous]"
	}
	if prev, taken := c.keys.Claim(pre, owner); taken {
		if c.cfg.StrictKeys {
			return nil, configError("key", ErrKeyConflict, "key %q used by %s is already used by %s", pre, owner, prev)
		}
		c.logger.Warn("possible key conflict",
			zap.String("fn", owner),
			zap.String("owner", prev),
			zap.String("key", pre),
		)
	}

	c.checkTTL(owner, o.ttl)
	c.logger.Debug("wrapped function",
		zap.String("fn", owner),
		zap.String("key", template),
		zap.Duration("ttl", o.ttl),
	)
	return w, nil
}

// Name returns the function name, empty for anonymous functions.
func (w *Wrapped[R]) Name() string { return w.name }

// Template returns the key template.
func (w *Wrapped[R]) Template() string { return w.template }

// TTL returns the configured TTL, zero meaning Config.TTL.
func (w *Wrapped[R]) TTL() time.Duration { return w.ttl }

// Key resolves the full store key for a call. The second value is false when
// placeholders remain, in which case the call would not be cached.
func (w *Wrapped[R]) Key(recv any, args ...any) (string, bool) {
	key := w.cache.resolver.Resolve(w.template, w.receiver(recv), w.name, args)
	return w.cache.cfg.Prefix + key, IsResolved(key)
}

// Call runs the memoized function.
func (w *Wrapped[R]) Call(ctx context.Context, args ...any) (R, error) {
	return w.call(ctx, nil, args)
}

// CallOn runs the memoized function with recv as the receiver for key
// resolution. A receiver bound with WithReceiver takes precedence.
func (w *Wrapped[R]) CallOn(ctx context.Context, recv any, args ...any) (R, error) {
	return w.call(ctx, recv, args)
}

// Fresh runs the function without reading or writing the store.
func (w *Wrapped[R]) Fresh(ctx context.Context, args ...any) (R, error) {
	return w.call(WithFresh(ctx), nil, args)
}

// Run invokes the function for its side effects only. The store is not
// touched and the result is discarded.
func (w *Wrapped[R]) Run(ctx context.Context, args ...any) error {
	w.observe(OutcomeDetached)
	_, err := w.fn(ctx, w.receiver(nil), args)
	return err
}

// Async runs Call in its own goroutine. The channel yields exactly one
// Result and is then closed.
func (w *Wrapped[R]) Async(ctx context.Context, args ...any) <-chan Result[R] {
	out := make(chan Result[R], 1)
	go func() {
		defer close(out)
		value, err := w.Call(ctx, args...)
		out <- Result[R]{Value: value, Err: err}
	}()
	return out
}

func (w *Wrapped[R]) receiver(recv any) any {
	if w.hasRecv {
		return w.recv
	}
	return recv
}

func (w *Wrapped[R]) observe(outcome Outcome) {
	w.cache.observer.Observe(w.name, outcome)
}

func (w *Wrapped[R]) call(ctx context.Context, recv any, args []any) (R, error) {
	self := w.receiver(recv)

	if IsFresh(ctx) {
		w.observe(OutcomeBypass)
		return w.fn(ctx, self, args)
	}

	key := w.cache.resolver.Resolve(w.template, self, w.name, args)
	if !IsResolved(key) {
		w.cache.logger.Debug("cache key not fully resolved, calling through",
			zap.String("fn", w.name),
			zap.String("key", key),
		)
		w.observe(OutcomeUnresolved)
		return w.fn(ctx, self, args)
	}

	if !w.cache.cfg.SingleFlight {
		return w.lookup(ctx, self, key, args)
	}
	v, err, _ := w.cache.flights.Do(w.cache.cfg.Prefix+key, func() (any, error) {
		value, err := w.lookup(ctx, self, key, args)
		return value, err
	})
	value, _ := v.(R)
	return value, err
}

func (w *Wrapped[R]) lookup(ctx context.Context, self any, key string, args []any) (R, error) {
	cached, found, err := w.cache.Get(ctx, key)
	if err != nil {
		if !w.cache.cfg.Silent {
			w.observe(OutcomeStoreError)
			var zero R
			return zero, errors.Wrapf(err, "cached call %s", w.name)
		}
		w.cache.logger.Debug("store read failed, calling through",
			zap.String("fn", w.name),
			zap.String("key", key),
			zap.Error(err),
		)
	}

	if found {
		value, err := assign[R](cached)
		if err == nil {
			w.observe(OutcomeHit)
			return value, nil
		}
		w.cache.logger.Debug("cached value does not fit the result type",
			zap.String("fn", w.name),
			zap.String("key", key),
			zap.Error(err),
		)
	}

	w.observe(OutcomeMiss)
	result, err := w.fn(ctx, self, args)
	if err != nil || isNil(result) {
		return result, err
	}
	if err := w.cache.Set(ctx, key, result, w.ttl); err != nil {
		w.cache.logger.Warn("cache write failed",
			zap.String("fn", w.name),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return result, nil
}

var anonymousFunc = regexp.MustCompile(`^(func)?\d+$`)

// funcName returns the short name of fn, or "" for closures.
func funcName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return ""
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if anonymousFunc.MatchString(name) {
		return ""
	}
	return name
}
