package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// toFields encodes doc into its JSON object form without the id key.
// Numbers decode as float64, times as RFC 3339 strings, so every backend
// stores and compares the same representation.
func toFields(doc any) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("docstore: document must encode to an object: %w", err)
	}
	delete(m, "id")
	return m, nil
}

// normalize converts a filter or update value into its JSON form.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeSet(set map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(set))
	for k, v := range set {
		if err := checkField(k); err != nil {
			return nil, err
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// withID returns the JSON encoding of fields plus the id key.
func withID(id string, fields map[string]any) ([]byte, error) {
	m := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m["id"] = id
	return json.Marshal(m)
}

func decodeOne(id string, fields map[string]any, out any) error {
	b, err := withID(id, fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", id, err)
	}
	return nil
}

// decodeMany decodes already id-tagged JSON objects into out, a pointer
// to a slice.
func decodeMany(docs [][]byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("docstore: query target must be a pointer to a slice, got %T", out)
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(d)
	}
	buf.WriteByte(']')
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("docstore: decode query result: %w", err)
	}
	return nil
}

// asInt64 reads an integer field from its JSON form.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
