// Package model defines the Bunsen testrun/testcase/cursor data model and
// its canonical JSON serialization.
package model

import (
	"bytes"
	"encoding/json"
	"sort"
)

// CanonicalJSON re-encodes v (any JSON-marshalable value, typically a
// map[string]any) with keys sorted lexicographically at every level, no
// insignificant whitespace, and numbers in their shortest round-trip form.
// Two semantically equal records always produce byte-identical output,
// which is what commit-id derivation and cross-view consistency rely on.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		return encodeCanonicalObject(buf, val)
	case []any:
		return encodeCanonicalArray(buf, val)
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}

		buf.Write(enc)

		return nil
	}
}

func encodeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyEnc, err := json.Marshal(k)
		if err != nil {
			return err
		}

		buf.Write(keyEnc)
		buf.WriteByte(':')

		if err := encodeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}

	buf.WriteByte('}')

	return nil
}

func encodeCanonicalArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := encodeCanonical(buf, elem); err != nil {
			return err
		}
	}

	buf.WriteByte(']')

	return nil
}
