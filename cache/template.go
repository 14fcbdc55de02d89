package cache

import (
	"encoding"
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Reserved placeholder roots.
const (
	RootThis  = "this"
	RootFn    = "_fn_"
	RootModel = "_model_"
)

// Default key templates.
const (
	// DefaultKey is used by Wrap when no template is given.
	DefaultKey = "{_fn_}:%j{0}"
	// DefaultStaticKey is used by EnableStatic; {_fn_} is replaced by the method name.
	DefaultStaticKey = "{_model_}:{_fn_}:%j{0}"
	// DefaultInstanceKey is used by EnableMethod; {_fn_} is replaced by the method name.
	DefaultInstanceKey = "{_model_}:{id}:{_fn_}"
	// DefaultItemKey is the first item key of every registered model.
	DefaultItemKey = "{_model_}:{id}"
)

// placeholderPattern matches {path} and %j{path}.
var placeholderPattern = regexp.MustCompile(`(%j)?\{([\w.]+)\}`)

// IsResolved reports whether key has no placeholder left.
func IsResolved(key string) bool {
	return !placeholderPattern.MatchString(key)
}

// References reports whether template has a placeholder whose path starts at root.
func References(template, root string) bool {
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		first, _, _ := strings.Cut(m[2], ".")
		if first == root {
			return true
		}
	}
	return false
}

// Tagger is implemented by receivers that know their own type tag,
// such as a *Model handle used as the receiver of static methods.
type Tagger interface {
	TypeTag() string
}

// Resolver turns key templates into concrete keys. It is safe for concurrent use.
type Resolver struct {
	types *TypeRegistry
}

// NewResolver returns a Resolver that looks up {_model_} in types. types may be nil.
func NewResolver(types *TypeRegistry) *Resolver {
	return &Resolver{types: types}
}

// Resolve substitutes every placeholder in template. Placeholders that cannot be
// resolved are left verbatim, use IsResolved to detect them.
func (r *Resolver) Resolve(template string, recv any, fn string, args []any) string {
	matches := placeholderPattern.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))
	last := 0
	for _, m := range matches {
		b.WriteString(template[last:m[0]])
		asJSON := m[2] >= 0
		path := template[m[4]:m[5]]
		if value, ok := r.placeholder(path, asJSON, recv, fn, args); ok {
			b.WriteString(value)
		} else {
			b.WriteString(template[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(template[last:])
	return b.String()
}

func (r *Resolver) placeholder(path string, asJSON bool, recv any, fn string, args []any) (string, bool) {
	segments := strings.Split(path, ".")
	value, ok := r.root(segments[0], recv, fn, args)
	if !ok {
		return "", false
	}
	for _, seg := range segments[1:] {
		value, ok = lookup(value, seg)
		if !ok {
			return "", false
		}
	}
	if asJSON {
		return jsonString(value)
	}
	return stringify(value)
}

func (r *Resolver) root(seg string, recv any, fn string, args []any) (any, bool) {
	switch {
	case seg == RootThis:
		return recv, recv != nil
	case seg == RootFn:
		return fn, fn != ""
	case seg == RootModel:
		tag, ok := r.modelTag(recv)
		return tag, ok
	case isIndex(seg):
		i, err := strconv.Atoi(seg)
		if err != nil || i >= len(args) {
			return nil, false
		}
		return args[i], true
	default:
		return lookup(recv, seg)
	}
}

func (r *Resolver) modelTag(recv any) (string, bool) {
	if recv == nil {
		return "", false
	}
	if t, ok := recv.(Tagger); ok {
		tag := t.TypeTag()
		return tag, tag != ""
	}
	if r.types == nil {
		return "", false
	}
	return r.types.TagOf(recv)
}

func isIndex(seg string) bool {
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return seg != ""
}

// lookup reads one accessor segment from v: map entry, struct field, slice
// element or Serializable projection entry.
func lookup(v any, seg string) (any, bool) {
	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		kt := rv.Type().Key()
		if kt.Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(seg).Convert(kt))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Slice, reflect.Array:
		if !isIndex(seg) {
			return nil, false
		}
		i, err := strconv.Atoi(seg)
		if err != nil || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Struct:
		if field, ok := structField(rv, seg); ok {
			return field.Interface(), true
		}
	}

	if s, ok := v.(Serializable); ok {
		value, found := s.ToPlain()[seg]
		return value, found
	}
	return nil, false
}

// structField finds an exported field by JSON name, then by case-insensitive Go name.
func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	rt := rv.Type()
	fallback := -1
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag != "" && tag != "-" {
			if tag == name {
				return rv.Field(i), true
			}
			continue
		}
		if fallback < 0 && strings.EqualFold(field.Name, name) {
			fallback = i
		}
	}
	if fallback >= 0 {
		return rv.Field(fallback), true
	}
	return reflect.Value{}, false
}

func indirect(rv reflect.Value) (reflect.Value, bool) {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

func jsonString(v any) (string, bool) {
	if s, ok := v.(Serializable); ok && !isNil(v) {
		v = s.ToPlain()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// stringify renders primitives. Composite values, nil and empty strings
// are reported as unresolved.
func stringify(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if _, isTime := v.(time.Time); !isTime {
		if tm, ok := v.(encoding.TextMarshaler); ok && !isNil(v) {
			text, err := tm.MarshalText()
			if err != nil || len(text) == 0 {
				return "", false
			}
			return string(text), true
		}
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return "", false
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return formatTime(t), true
	}

	switch rv.Kind() {
	case reflect.String:
		s := rv.String()
		return s, s != ""
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true
	}
	return "", false
}

// isNil reports whether v is nil or a nil pointer, map, slice, func, chan or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
