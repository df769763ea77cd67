package workload

import "time"

// Field is one key/value pair of a Document.
type Field struct {
	Key   string
	Value any
}

// Document is an ordered, schema-less record. Values are limited to
// string, int, int64, float64, bool, time.Time, []string, Document and
// []Document so that both stores can translate them natively.
type Document []Field

// Get returns the value stored under key.
func (d Document) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}

	return nil, false
}

// Keys returns the field names in insertion order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}

	return keys
}

// Map converts the document into nested maps and slices, the shape JSON
// encoders expect.
func (d Document) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, f := range d {
		m[f.Key] = plain(f.Value)
	}

	return m
}

func plain(v any) any {
	switch val := v.(type) {
	case Document:
		return val.Map()
	case []Document:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = sub.Map()
		}

		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// UnionKeys returns every key used by docs, in first-seen order.
func UnionKeys(docs []Document) []string {
	seen := make(map[string]bool)
	var keys []string

	for _, d := range docs {
		for _, f := range d {
			if !seen[f.Key] {
				seen[f.Key] = true
				keys = append(keys, f.Key)
			}
		}
	}

	return keys
}
