// Package dotpath addresses values in nested configuration trees with
// "."-separated paths such as "networking.vpc_id".
package dotpath

import (
	"fmt"
	"reflect"
	"strings"
)

// Split breaks a dotted path into its segments. Empty segments are rejected.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("path %q contains an empty segment", path)
		}
	}
	return segments, nil
}

// Join is the inverse of Split.
func Join(segments ...string) string {
	var parts []string
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// Lookup returns the value at path. It reports false when any segment is
// absent or an intermediate value is not a mapping.
func Lookup(tree map[string]any, path string) (any, bool) {
	segments, err := Split(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, seg := range segments {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at path, creating intermediate mappings. It fails when an
// intermediate value exists and is not a mapping.
func Set(tree map[string]any, path string, value any) error {
	segments, err := Split(path)
	if err != nil {
		return err
	}
	cur := tree
	for i, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := AsMap(next)
		if !ok {
			return fmt.Errorf("%s is not a mapping", Join(segments[:i+1]...))
		}
		cur[seg] = m
		cur = m
	}
	cur[segments[len(segments)-1]] = value
	return nil
}

// AsMap normalizes the mapping types produced by YAML and JSON decoders and
// any Go map with string keys, such as map[string]string.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// AsList normalizes []any and typed slices or arrays such as []string.
// Byte slices are scalars.
func AsList(v any) ([]any, bool) {
	switch l := v.(type) {
	case nil:
		return nil, false
	case []any:
		return l, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Clone deep-copies mappings and lists into map[string]any and []any;
// scalars are shared.
func Clone(v any) any {
	if m, ok := AsMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = Clone(val)
		}
		return out
	}
	if l, ok := AsList(v); ok {
		out := make([]any, len(l))
		for i, val := range l {
			out[i] = Clone(val)
		}
		return out
	}
	return v
}

// CloneMap is Clone for a mapping root; nil yields an empty mapping.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}

// Leaves calls fn for every non-mapping value below prefix, depth first.
// Lists are leaves.
func Leaves(v any, prefix string, fn func(path string, value any)) {
	m, ok := AsMap(v)
	if !ok {
		fn(prefix, v)
		return
	}
	for k, val := range m {
		Leaves(val, Join(prefix, k), fn)
	}
}
