package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/serialization"
)

// DateLayout is the layout of date values stored in an ExecutionContext and in job parameters.
const DateLayout = "2006-01-02"

// ExecutionContext is the checkpoint state of a step or partition: a map of primitive
// values (string, integer, bool, float, date). It is persisted as a JSON object with
// sorted keys.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements driver.Valuer.
func (ec ExecutionContext) Value() (driver.Value, error) {
	data, err := serialization.MarshalMap(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
	m, err := serialization.UnmarshalMap(b)
	if err != nil {
		return err
	}
	*ec = ExecutionContext(m)
	return nil
}

// MarshalJSON keeps a nil context encoded as an empty object.
func (ec ExecutionContext) MarshalJSON() ([]byte, error) {
	return serialization.MarshalMap(ec)
}

// UnmarshalJSON decodes numbers as json.Number.
func (ec *ExecutionContext) UnmarshalJSON(data []byte) error {
	m, err := serialization.UnmarshalMap(data)
	if err != nil {
		return err
	}
	*ec = ExecutionContext(m)
	return nil
}

// Put sets key to value.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// PutDate stores a calendar date as a "YYYY-MM-DD" string.
func (ec ExecutionContext) PutDate(key string, date time.Time) {
	ec[key] = date.Format(DateLayout)
}

// Get returns the raw value for key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// GetString returns the value for key as a string.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec[key].(string)
	return v, ok
}

// GetInt64 returns the value for key as an int64. It accepts the integer types a
// caller may have put and the json.Number or float64 a decoded payload carries.
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	v, ok := ec[key]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// GetInt returns the value for key as an int.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec.GetInt64(key)
	return int(v), ok
}

// GetBool returns the value for key as a bool.
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	v, ok := ec[key].(bool)
	return v, ok
}

// GetFloat64 returns the value for key as a float64.
func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	switch v := ec[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetDate returns the value for key parsed as a "YYYY-MM-DD" date in UTC.
func (ec ExecutionContext) GetDate(key string) (time.Time, bool) {
	switch v := ec[key].(type) {
	case string:
		t, err := time.Parse(DateLayout, v)
		return t, err == nil
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
}

// Keys returns the keys in sorted order.
func (ec ExecutionContext) Keys() []string {
	keys := make([]string, 0, len(ec))
	for k := range ec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy creates a shallow copy of the ExecutionContext.
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into ec, overwriting existing keys.
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
