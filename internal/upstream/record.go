package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one raw upstream post object as decoded from JSON. Numbers are
// kept as json.Number so 64-bit ids survive decoding.
type Record map[string]interface{}

// Lookup resolves a dotted path such as "user.screen_name".
func (r Record) Lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// First returns the first path that resolves to a non-empty value.
func (r Record) First(paths ...string) (interface{}, bool) {
	for _, p := range paths {
		if v, ok := r.Lookup(p); ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty path rendered as a string. Numbers are
// rendered exactly.
func (r Record) String(paths ...string) string {
	v, ok := r.First(paths...)
	if !ok {
		return ""
	}
	return stringify(v)
}

// Int returns the first path that parses as an integer, or 0.
func (r Record) Int(paths ...string) int {
	for _, p := range paths {
		v, ok := r.Lookup(p)
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return 0
}

// Bool reports whether the first present path is true.
func (r Record) Bool(paths ...string) bool {
	for _, p := range paths {
		if v, ok := r.Lookup(p); ok {
			b, isBool := v.(bool)
			return isBool && b
		}
	}
	return false
}

// Object returns the first path that resolves to a non-empty object.
func (r Record) Object(paths ...string) (Record, bool) {
	for _, p := range paths {
		v, ok := r.Lookup(p)
		if !ok {
			continue
		}
		if m, ok := asMap(v); ok && len(m) > 0 {
			return Record(m), true
		}
	}
	return nil, false
}

// List returns the elements of the array at path.
func (r Record) List(path string) []interface{} {
	v, ok := r.Lookup(path)
	if !ok {
		return nil
	}
	list, _ := v.([]interface{})
	return list
}

// Records returns the objects of the array at path.
func (r Record) Records(path string) []Record {
	list := r.List(path)
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := asMap(item); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case map[string]interface{}:
		return len(t) == 0
	case Record:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}
