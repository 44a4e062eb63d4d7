package engine

import (
	"encoding/json"
	"fmt"
)

// AsMap returns v as a generic object, or nil.
func AsMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// AsSlice returns v as a generic list, or nil.
func AsSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

// AsString returns v as a string, or "".
func AsString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// AsStrings converts a list of strings. Non-string elements are skipped.
func AsStrings(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{s}
	}
	return nil
}

// Lookup walks a path of object keys and returns the value found, or nil.
func Lookup(v interface{}, path ...string) interface{} {
	cur := v
	for _, key := range path {
		m := AsMap(cur)
		if m == nil {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// DecodeOptions converts opaque policy options into a typed struct.
func DecodeOptions(options interface{}, out interface{}) error {
	if options == nil {
		return nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// Normalize converts a decoded document into the generic JSON shape:
// objects become map[string]interface{}, lists become []interface{}, and
// integers become float64. YAML decoders may produce other shapes.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = Normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return v
	}
}
