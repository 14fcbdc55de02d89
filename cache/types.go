package cache

import (
	"reflect"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// TagField is the reserved field that carries the type tag of an encoded instance.
const TagField = "__cachedname"

// maxEncodeDepth bounds recursion on cyclic values.
const maxEncodeDepth = 64

var timePattern = regexp.MustCompile(`^[0-9\-]+T[0-9:.]+Z$`)

// Serializable is the plain-data projection every registrable type must expose.
// The returned map must only hold values the codec can encode.
type Serializable interface {
	ToPlain() map[string]any
}

// Revivable is implemented by types that need to repair derived state after
// being rebuilt from their projection.
type Revivable interface {
	Revive() error
}

// Namer lets a type choose its default tag.
type Namer interface {
	ModelName() string
}

// Factory rebuilds an instance from its decoded projection (type tag removed).
type Factory func(fields map[string]any) (Serializable, error)

// RegisteredType pairs a tag with the factory able to rebuild instances of a Go type.
type RegisteredType struct {
	Tag     string
	Type    reflect.Type
	factory Factory
	hook    func(Serializable) error
}

func (rt *RegisteredType) revive(fields map[string]any) (Serializable, error) {
	inst, err := rt.factory(fields)
	if err != nil {
		return nil, err
	}
	if isNil(inst) {
		return nil, errors.Newf("cache: factory for %q returned nil", rt.Tag)
	}
	if rt.hook != nil {
		if err := rt.hook(inst); err != nil {
			return nil, err
		}
	}
	if r, ok := inst.(Revivable); ok {
		if err := r.Revive(); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// TypeOption configures a registration.
type TypeOption func(*typeOptions)

type typeOptions struct {
	tag  string
	hook func(Serializable) error
}

// WithTag sets the type tag explicitly.
func WithTag(tag string) TypeOption {
	return func(o *typeOptions) { o.tag = tag }
}

// WithReviveHook runs fn on every instance rebuilt by the factory.
func WithReviveHook(fn func(Serializable) error) TypeOption {
	return func(o *typeOptions) { o.hook = fn }
}

// TypeRegistry maps type tags to factories. Entries are never removed.
type TypeRegistry struct {
	mu     sync.Mutex
	byTag  *xsync.MapOf[string, *RegisteredType]
	byType *xsync.MapOf[reflect.Type, *RegisteredType]
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byTag:  xsync.NewMapOf[string, *RegisteredType](),
		byType: xsync.NewMapOf[reflect.Type, *RegisteredType](),
	}
}

// Register adds the Go type of proto under a tag. proto must implement
// Serializable. Reusing a tag or registering the same type twice fails.
func (r *TypeRegistry) Register(proto any, factory Factory, opts ...TypeOption) (*RegisteredType, error) {
	if proto == nil {
		return nil, configError("type", ErrNotSerializable, "prototype is nil")
	}
	rt := reflect.TypeOf(proto)
	if _, ok := proto.(Serializable); !ok {
		return nil, configError("type", ErrNotSerializable, "%s does not implement ToPlain() map[string]any", rt)
	}
	if factory == nil {
		return nil, configError("factory", ErrInvalidConfig, "factory for %s is nil", rt)
	}

	o := typeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	tag := o.tag
	if tag == "" {
		named := proto
		if isNil(proto) && rt.Kind() == reflect.Pointer {
			named = reflect.New(rt.Elem()).Interface()
		}
		if n, ok := named.(Namer); ok {
			tag = n.ModelName()
		}
	}
	if tag == "" {
		tag = DefaultTag(rt)
	}
	if tag == "" {
		return nil, configError("tag", ErrInvalidConfig, "cannot derive a tag for %s", rt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTag.Load(tag); exists {
		return nil, configError("tag", ErrDuplicateType, "type %q already defined", tag)
	}
	if existing, exists := r.byType.Load(rt); exists {
		return nil, configError("type", ErrDuplicateType, "%s already registered as %q", rt, existing.Tag)
	}

	entry := &RegisteredType{Tag: tag, Type: rt, factory: factory, hook: o.hook}
	r.byTag.Store(tag, entry)
	r.byType.Store(rt, entry)
	return entry, nil
}

// Lookup returns the registration for tag.
func (r *TypeRegistry) Lookup(tag string) (*RegisteredType, bool) {
	return r.byTag.Load(tag)
}

// TagOf returns the tag registered for the Go type of v, accepting both the
// registered type and its pointer/value counterpart.
func (r *TypeRegistry) TagOf(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if entry, ok := r.lookupType(reflect.TypeOf(v)); ok {
		return entry.Tag, true
	}
	return "", false
}

func (r *TypeRegistry) lookupType(rt reflect.Type) (*RegisteredType, bool) {
	if entry, ok := r.byType.Load(rt); ok {
		return entry, true
	}
	if rt.Kind() == reflect.Pointer {
		return r.byType.Load(rt.Elem())
	}
	return r.byType.Load(reflect.PointerTo(rt))
}

// Tags lists every registered tag in sorted order.
func (r *TypeRegistry) Tags() []string {
	tags := make([]string, 0, r.byTag.Size())
	r.byTag.Range(func(tag string, _ *RegisteredType) bool {
		tags = append(tags, tag)
		return true
	})
	sort.Strings(tags)
	return tags
}

// Encode turns v into a plain data tree: registered instances become their
// projection plus TagField, times become ISO-8601 strings, slices and string
// keyed maps are walked, anything else passes through.
func (r *TypeRegistry) Encode(v any) (any, error) {
	return r.encode(v, 0)
}

func (r *TypeRegistry) encode(v any, depth int) (any, error) {
	if depth > maxEncodeDepth {
		return nil, errors.New("cache: value nesting too deep to encode")
	}
	if isNil(v) {
		return nil, nil
	}

	switch x := v.(type) {
	case time.Time:
		return formatTime(x), nil
	case *time.Time:
		return formatTime(*x), nil
	case []byte:
		return x, nil
	case Serializable:
		plain := x.ToPlain()
		out := make(map[string]any, len(plain)+1)
		for k, val := range plain {
			enc, err := r.encode(val, depth+1)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", k)
			}
			out[k] = enc
		}
		if entry, ok := r.lookupType(reflect.TypeOf(v)); ok {
			out[TagField] = entry.Tag
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			enc, err := r.encode(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			enc, err := r.encode(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = enc
		}
		return out, nil
	}
	return v, nil
}

// Decode rebuilds typed values from a plain data tree. It reports false when
// any node carries a tag that is not registered or cannot be revived, so the
// whole entry is treated as unavailable.
func (r *TypeRegistry) Decode(tree any) (any, bool) {
	switch x := tree.(type) {
	case map[string]any:
		return r.decodeMap(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return tree, true
			}
			m[ks] = v
		}
		return r.decodeMap(m)
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			d, ok := r.Decode(v)
			if !ok {
				return nil, false
			}
			out[i] = d
		}
		return out, true
	case string:
		if timePattern.MatchString(x) {
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t, true
			}
		}
		return x, true
	}
	return tree, true
}

func (r *TypeRegistry) decodeMap(m map[string]any) (any, bool) {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k == TagField {
			continue
		}
		d, ok := r.Decode(v)
		if !ok {
			return nil, false
		}
		fields[k] = d
	}

	raw, tagged := m[TagField]
	if !tagged {
		return fields, true
	}
	tag, _ := raw.(string)
	entry, ok := r.Lookup(tag)
	if !ok {
		return nil, false
	}
	inst, err := entry.revive(fields)
	if err != nil {
		return nil, false
	}
	return inst, true
}

// formatTime renders t as an ISO-8601 UTC timestamp.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
