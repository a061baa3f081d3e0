// Package serialization encodes checkpoint payloads and job parameters as JSON.
// Maps are written with sorted keys and numbers are decoded as json.Number, so an
// int64 cursor survives a save/load cycle exactly.
package serialization

import (
	"bytes"
	"encoding/json"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

const module = "serialization"

// MaskedValue replaces the value of sensitive parameters in logs and persisted parameters.
const MaskedValue = "********"

// MarshalMap serializes a primitive-valued map to a JSON object. A nil map encodes as "{}".
func MarshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to serialize map", err, false, false)
	}
	return data, nil
}

// UnmarshalMap deserializes a JSON object produced by MarshalMap.
// Empty input and "null" yield an empty, non-nil map.
func UnmarshalMap(data []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, exception.NewBatchError(module, "failed to deserialize map", err, false, false)
	}
	return out, nil
}

// MaskKeys returns a copy of params with the values of the given keys replaced by MaskedValue.
func MaskKeys(params map[string]interface{}, keys []string) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range keys {
		if _, ok := masked[key]; ok {
			masked[key] = MaskedValue
		}
	}
	return masked
}
