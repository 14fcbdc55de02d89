package cache

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var timeType = reflect.TypeOf(time.Time{})

// assign converts a decoded tree into R. Revived instances are used as is;
// generic slices and maps are rebuilt element by element; plain maps fill
// structs by JSON field name; anything else goes through a JSON round trip.
func assign[R any](v any) (R, error) {
	if _, isNumber := v.(json.Number); !isNumber {
		if r, ok := v.(R); ok {
			return r, nil
		}
	}
	var zero R
	rt := reflect.TypeOf((*R)(nil)).Elem()
	out, err := convertValue(v, rt, 0)
	if err != nil {
		return zero, err
	}
	r, _ := out.Interface().(R)
	return r, nil
}

func convertValue(v any, t reflect.Type, depth int) (reflect.Value, error) {
	if depth > maxEncodeDepth {
		return reflect.Value{}, errors.New("cache: value nesting too deep to assign")
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	if n, ok := v.(json.Number); ok {
		return convertNumber(n, t)
	}
	vv := reflect.ValueOf(v)
	if vv.Type().AssignableTo(t) {
		return vv, nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := convertValue(v, t.Elem(), depth+1)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil

	case reflect.Slice, reflect.Array:
		if vv.Kind() != reflect.Slice && vv.Kind() != reflect.Array {
			break
		}
		n := vv.Len()
		var out reflect.Value
		if t.Kind() == reflect.Slice {
			out = reflect.MakeSlice(t, n, n)
		} else {
			if n > t.Len() {
				n = t.Len()
			}
			out = reflect.New(t).Elem()
		}
		for i := 0; i < n; i++ {
			elem, err := convertValue(vv.Index(i).Interface(), t.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, errors.Wrapf(err, "index %d", i)
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Map:
		m, ok := v.(map[string]any)
		if !ok || t.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, val := range m {
			elem, err := convertValue(val, t.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, errors.Wrapf(err, "key %q", k)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), elem)
		}
		return out, nil

	case reflect.Struct:
		if t == timeType {
			if s, ok := v.(string); ok {
				ts, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(ts), nil
			}
			break
		}
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		out := reflect.New(t).Elem()
		if err := fillStruct(out, m, depth); err != nil {
			return reflect.Value{}, err
		}
		return out, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if isNumeric(vv.Kind()) {
			return vv.Convert(t), nil
		}

	case reflect.String:
		if vv.Kind() == reflect.String {
			return vv.Convert(t), nil
		}

	case reflect.Bool:
		if vv.Kind() == reflect.Bool {
			return vv.Convert(t), nil
		}
	}

	return jsonAssign(v, t)
}

// convertNumber parses n for the numeric kind of t without a float64 detour.
func convertNumber(n json.Number, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(n.String(), 10, t.Bits())
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "cache: cannot assign %s to %s", n, t)
		}
		return reflect.ValueOf(i).Convert(t), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, err := strconv.ParseUint(n.String(), 10, t.Bits())
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "cache: cannot assign %s to %s", n, t)
		}
		return reflect.ValueOf(u).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(n.String(), t.Bits())
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "cache: cannot assign %s to %s", n, t)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return reflect.ValueOf(numberValue(n)), nil
		}
	case reflect.Pointer:
		elem, err := convertNumber(n, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}
	return jsonAssign(n, t)
}

func fillStruct(out reflect.Value, m map[string]any, depth int) error {
	t := out.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if field.Anonymous && tag == "" && field.Type.Kind() == reflect.Struct {
			if err := fillStruct(out.Field(i), m, depth+1); err != nil {
				return err
			}
			continue
		}
		name := tag
		if name == "" {
			name = field.Name
		}
		val, ok := m[name]
		if !ok {
			for k, candidate := range m {
				if strings.EqualFold(k, name) {
					val, ok = candidate, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		conv, err := convertValue(val, field.Type, depth+1)
		if err != nil {
			return errors.Wrapf(err, "field %s", field.Name)
		}
		out.Field(i).Set(conv)
	}
	return nil
}

func jsonAssign(v any, t reflect.Type) (reflect.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, errors.Wrapf(err, "cache: cannot assign %T to %s", v, t)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, errors.Wrapf(err, "cache: cannot assign %T to %s", v, t)
	}
	return ptr.Elem(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
