package retries

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// DecodeParams decodes a JSON object of request parameters. Integers come back
// as int64 so ids beyond 2^53 keep every digit; other numbers are float64.
func DecodeParams(b []byte) (map[string]any, error) {
	v, err := DecodeJSON(b)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}

// DecodeJSON decodes any JSON document with the number handling of DecodeParams.
func DecodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return NormalizeNumbers(v), nil
}

// NormalizeNumbers replaces json.Number values in v, in place, with int64 when
// they are integral and float64 otherwise.
func NormalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = NormalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = NormalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
