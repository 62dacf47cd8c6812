package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fields is the JSON object stored for a document.
type Fields map[string]any

type deleteSentinel struct{}

func (deleteSentinel) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// DeleteField removes a field when used as a value in Update.
var DeleteField any = deleteSentinel{}

func isDelete(v any) bool {
	_, ok := v.(deleteSentinel)
	return ok
}

// Lookup resolves a dotted field path ("subtopics.abc").
func (f Fields) Lookup(field string) (any, bool) {
	if f == nil {
		return nil, false
	}
	var cur any = map[string]any(f)
	for _, key := range strings.Split(field, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func (f Fields) String(field string) string {
	v, _ := f.Lookup(field)
	s, _ := v.(string)
	return s
}

func (f Fields) Bool(field string) bool {
	v, _ := f.Lookup(field)
	b, _ := v.(bool)
	return b
}

// Time parses an RFC3339 string or time.Time value; zero when absent or malformed.
func (f Fields) Time(field string) time.Time {
	v, ok := f.Lookup(field)
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

// Clone deep-copies through JSON so nested maps are not shared.
func (f Fields) Clone() Fields {
	out, err := Normalize(f)
	if err != nil {
		shallow := make(Fields, len(f))
		for k, v := range f {
			shallow[k] = v
		}
		return shallow
	}
	return out
}

// Normalize round-trips fields through JSON so in-memory values compare equal to
// values read back from storage (numbers become float64, times RFC3339 strings).
func Normalize(f Fields) (Fields, error) {
	if f == nil {
		return Fields{}, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return decodeFields(raw)
}

func decodeFields(raw []byte) (Fields, error) {
	out := Fields{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

// ValueEqual compares two field values by their JSON encoding.
func ValueEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

// Merge applies patch onto a copy of base. Dotted keys address nested maps and
// DeleteField removes the addressed key.
func Merge(base, patch Fields) Fields {
	out := base.Clone()
	for key, val := range patch {
		parts := strings.Split(key, ".")
		parent := map[string]any(out)
		for _, p := range parts[:len(parts)-1] {
			next, ok := asMap(parent[p])
			if !ok {
				if isDelete(val) {
					parent = nil
					break
				}
				next = map[string]any{}
				parent[p] = next
			}
			parent = next
		}
		if parent == nil {
			continue
		}
		last := parts[len(parts)-1]
		if isDelete(val) {
			delete(parent, last)
			continue
		}
		parent[last] = val
	}
	return out
}

// Matches reports whether applying patch to current would change nothing.
func Matches(current, patch Fields) bool {
	for key, val := range patch {
		got, ok := current.Lookup(key)
		if isDelete(val) {
			if ok {
				return false
			}
			continue
		}
		if !ok || !ValueEqual(got, val) {
			return false
		}
	}
	return true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
