package dataset

import (
	"bytes"
	"encoding/json"
)

// Field is one named value of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is an ordered set of named values. It encodes as a JSON object whose
// keys keep their order, so row records follow column order and series
// follow label order.
type Record []Field

// RecordOf pairs keys with values. A repeated key keeps its first position
// and takes the later value.
func RecordOf(keys []string, values []any) Record {
	rec := make(Record, 0, len(keys))
	pos := make(map[string]int, len(keys))
	for i, k := range keys {
		if j, ok := pos[k]; ok {
			rec[j].Value = values[i]
			continue
		}
		pos[k] = len(rec)
		rec = append(rec, Field{Key: k, Value: values[i]})
	}
	return rec
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Map returns the record as an unordered map. Nested records are converted too.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r))
	for _, f := range r {
		out[f.Key] = Unorder(f.Value)
	}
	return out
}

// MarshalJSON encodes the record as an object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Unorder replaces records with maps throughout v, for callers that look
// values up by key and do not care about order.
func Unorder(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Map()
	case []Record:
		out := make([]any, len(val))
		for i, r := range val {
			out[i] = r.Map()
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Unorder(item)
		}
		return out
	}
	return v
}
