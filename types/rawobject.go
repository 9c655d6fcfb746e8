package types

import (
	"encoding/json"
	"strings"
)

// RawObject wraps an untyped JSON document, usually the embedded object of an
// activity, and plucks fields out of it without committing to a struct shape.
type RawObject struct {
	data map[string]any
}

// ParseRawObject decodes a JSON document into a RawObject.
func ParseRawObject(b []byte) (*RawObject, error) {
	var data map[string]any
	err := json.Unmarshal(b, &data)
	return &RawObject{data}, err
}

// AsRawObject wraps an already-decoded value. Returns nil when v is not an
// object, which callers treat as "no embedded object".
func AsRawObject(v any) *RawObject {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return &RawObject{m}
}

func (r *RawObject) Data() map[string]any { return r.data }

// get walks a dotted path like "icon.url".
func (r *RawObject) get(key string) (any, bool) {
	keys := strings.Split(key, ".")
	var value any = r.data
	for _, k := range keys {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func (r *RawObject) GetString(key string) (string, bool) {
	value, ok := r.get(key)
	if !ok {
		return "", false
	}
	if arr, ok := value.([]any); ok && len(arr) > 0 {
		value = arr[0]
	}
	str, ok := value.(string)
	return str, ok
}

func (r *RawObject) MustGetString(key string) string {
	str, _ := r.GetString(key)
	return str
}

func (r *RawObject) GetBool(key string) bool {
	value, ok := r.get(key)
	if !ok {
		return false
	}
	b, _ := value.(bool)
	return b
}

// GetStringList returns a string-slice field, accepting a bare string as a
// one-element list.
func (r *RawObject) GetStringList(key string) []string {
	value, ok := r.get(key)
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetList returns a slice field, accepting a bare value as a one-element list.
func (r *RawObject) GetList(key string) []*RawObject {
	value, ok := r.get(key)
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	var out []*RawObject
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, &RawObject{m})
		}
	}
	return out
}
